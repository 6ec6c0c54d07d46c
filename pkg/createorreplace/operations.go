package createorreplace

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Object is the constraint for resources handled by a Helper. Implementations are
// usually pointer types such as *corev1.ConfigMap or *unstructured.Unstructured, whose
// zero value (nil) means "absent".
type Object interface {
	comparable
	metav1.Object
}

// Operations is the capability set a Helper drives. Every method receives the item being
// reconciled; implementations decide how much of it they need.
type Operations[T Object] interface {
	// Create persists obj. obj never carries a resourceVersion.
	Create(ctx context.Context, obj T) (T, error)

	// Replace overwrites the stored object. obj carries the version observed before the
	// call started, or an empty version to force the write.
	Replace(ctx context.Context, obj T) (T, error)

	// Reload fetches the stored copy of obj. A missing object is reported either as the
	// zero value of T or as a NotFound error.
	Reload(ctx context.Context, obj T) (T, error)

	// Wait blocks for the backoff delay between create attempts.
	Wait(ctx context.Context, obj T) error

	// Delete removes the stored object and reports whether it is gone.
	Delete(ctx context.Context, obj T) (bool, error)
}

// OperationFuncs adapts five plain functions to the Operations interface.
type OperationFuncs[T Object] struct {
	CreateFunc  func(ctx context.Context, obj T) (T, error)
	ReplaceFunc func(ctx context.Context, obj T) (T, error)
	ReloadFunc  func(ctx context.Context, obj T) (T, error)
	WaitFunc    func(ctx context.Context, obj T) error
	DeleteFunc  func(ctx context.Context, obj T) (bool, error)
}

var _ Operations[*metav1.PartialObjectMetadata] = OperationFuncs[*metav1.PartialObjectMetadata]{}

// Create calls CreateFunc.
func (f OperationFuncs[T]) Create(ctx context.Context, obj T) (T, error) {
	return f.CreateFunc(ctx, obj)
}

// Replace calls ReplaceFunc.
func (f OperationFuncs[T]) Replace(ctx context.Context, obj T) (T, error) {
	return f.ReplaceFunc(ctx, obj)
}

// Reload calls ReloadFunc. A nil ReloadFunc reports the object as absent.
func (f OperationFuncs[T]) Reload(ctx context.Context, obj T) (T, error) {
	if f.ReloadFunc == nil {
		var zero T
		return zero, nil
	}
	return f.ReloadFunc(ctx, obj)
}

// Wait calls WaitFunc. A nil WaitFunc does not wait.
func (f OperationFuncs[T]) Wait(ctx context.Context, obj T) error {
	if f.WaitFunc == nil {
		return nil
	}
	return f.WaitFunc(ctx, obj)
}

// Delete calls DeleteFunc.
func (f OperationFuncs[T]) Delete(ctx context.Context, obj T) (bool, error) {
	return f.DeleteFunc(ctx, obj)
}

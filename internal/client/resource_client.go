package client

import (
	"context"
	"fmt"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/apiutil"

	"github.com/giantswarm/upsert/internal/config"
	"github.com/giantswarm/upsert/pkg/createorreplace"
	"github.com/giantswarm/upsert/pkg/logging"
)

const (
	defaultDeleteTimeout      = 30 * time.Second
	defaultDeletePollInterval = 500 * time.Millisecond
)

// Options configures a ResourceClient.
type Options struct {
	// Namespace is applied to namespaced objects that do not set one.
	Namespace string

	// MaxAttempts bounds create attempts while the store reports server errors.
	MaxAttempts int

	// Backoff is the delay between create attempts. Each call starts from the first step.
	Backoff wait.Backoff

	// DeleteTimeout bounds the wait for a deleted object to disappear.
	DeleteTimeout time.Duration

	// DeletePollInterval is how often the store is polled while waiting for a delete.
	DeletePollInterval time.Duration

	// FieldManager is recorded on every write.
	FieldManager string

	// ObserverFor returns an additional observer for a call on an object of the given kind.
	ObserverFor func(kind string) createorreplace.Observer
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Namespace:     cfg.Namespace,
		MaxAttempts:   cfg.MaxAttempts,
		Backoff:       cfg.Backoff.WaitBackoff(),
		DeleteTimeout: cfg.DeleteTimeout,
		FieldManager:  cfg.FieldManager,
	}
}

// ApplyOption configures a single CreateOrReplace call.
type ApplyOption func(*applyOptions)

type applyOptions struct {
	deleteExisting bool
	dryRun         bool
	fieldManager   string
}

// WithDeleteExisting resolves a conflict by deleting the stored object and creating it
// again instead of replacing it.
func WithDeleteExisting(deleteExisting bool) ApplyOption {
	return func(o *applyOptions) {
		o.deleteExisting = deleteExisting
	}
}

// WithDryRun sends every write as a server-side dry run.
func WithDryRun() ApplyOption {
	return func(o *applyOptions) {
		o.dryRun = true
	}
}

// WithFieldManager overrides the field manager for one call.
func WithFieldManager(fieldManager string) ApplyOption {
	return func(o *applyOptions) {
		o.fieldManager = fieldManager
	}
}

func (o applyOptions) createOptions() []client.CreateOption {
	var opts []client.CreateOption
	if o.dryRun {
		opts = append(opts, client.DryRunAll)
	}
	if o.fieldManager != "" {
		opts = append(opts, client.FieldOwner(o.fieldManager))
	}
	return opts
}

func (o applyOptions) updateOptions() []client.UpdateOption {
	var opts []client.UpdateOption
	if o.dryRun {
		opts = append(opts, client.DryRunAll)
	}
	if o.fieldManager != "" {
		opts = append(opts, client.FieldOwner(o.fieldManager))
	}
	return opts
}

func (o applyOptions) deleteOptions() []client.DeleteOption {
	opts := []client.DeleteOption{client.PropagationPolicy(metav1.DeletePropagationBackground)}
	if o.dryRun {
		opts = append(opts, client.DryRunAll)
	}
	return opts
}

// ResourceClient applies objects to an ObjectStore with create-or-replace semantics.
// It is safe for concurrent use.
type ResourceClient struct {
	store ObjectStore
	opts  Options
}

// NewResourceClient creates a ResourceClient over store.
func NewResourceClient(store ObjectStore, opts Options) *ResourceClient {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = createorreplace.DefaultMaxAttempts
	}
	if opts.Backoff == (wait.Backoff{}) {
		opts.Backoff = retry.DefaultBackoff
	}
	if opts.DeleteTimeout <= 0 {
		opts.DeleteTimeout = defaultDeleteTimeout
	}
	if opts.DeletePollInterval <= 0 {
		opts.DeletePollInterval = defaultDeletePollInterval
	}
	return &ResourceClient{store: store, opts: opts}
}

// CreateOrReplace makes the store hold obj and returns the store's copy together with
// the path that produced it. obj itself is not modified.
func (c *ResourceClient) CreateOrReplace(ctx context.Context, obj client.Object, opts ...ApplyOption) (client.Object, createorreplace.Outcome, error) {
	ao := applyOptions{fieldManager: c.opts.FieldManager}
	for _, opt := range opts {
		opt(&ao)
	}

	item := obj.DeepCopyObject().(client.Object)
	c.defaultNamespace(item)
	kind := c.kindOf(item)

	helperOpts := []createorreplace.Option{
		createorreplace.WithMaxAttempts(c.opts.MaxAttempts),
		createorreplace.WithObserver(createorreplace.LogObserver{}),
	}
	if c.opts.ObserverFor != nil {
		if obs := c.opts.ObserverFor(kind); obs != nil {
			helperOpts = append(helperOpts, createorreplace.WithObserver(obs))
		}
	}

	helper := createorreplace.New[client.Object](c.operations(ao), helperOpts...)
	result, outcome, err := helper.Reconcile(ctx, item, ao.deleteExisting)
	if err != nil {
		return nil, outcome, fmt.Errorf("failed to apply %s %s/%s: %w", kind, item.GetNamespace(), item.GetName(), err)
	}

	logging.Info("ResourceClient", "%s %s/%s %s (resourceVersion %s)",
		kind, result.GetNamespace(), result.GetName(), outcome, result.GetResourceVersion())
	return result, outcome, nil
}

// operations binds the five create-or-replace operations to the store for one call.
func (c *ResourceClient) operations(ao applyOptions) createorreplace.OperationFuncs[client.Object] {
	backoff := c.opts.Backoff

	// In a dry run nothing is deleted, so the recreate that follows a delete is
	// answered locally instead of hitting AlreadyExists in the store.
	dryRunDeleted := false

	return createorreplace.OperationFuncs[client.Object]{
		CreateFunc: func(ctx context.Context, obj client.Object) (client.Object, error) {
			created := obj.DeepCopyObject().(client.Object)
			if dryRunDeleted {
				return created, nil
			}
			if err := c.store.Create(ctx, created, ao.createOptions()...); err != nil {
				return nil, err
			}
			return created, nil
		},

		ReplaceFunc: func(ctx context.Context, obj client.Object) (client.Object, error) {
			replaced := obj.DeepCopyObject().(client.Object)
			if err := c.store.Update(ctx, replaced, ao.updateOptions()...); err != nil {
				return nil, err
			}
			return replaced, nil
		},

		ReloadFunc: func(ctx context.Context, obj client.Object) (client.Object, error) {
			existing := obj.DeepCopyObject().(client.Object)
			if err := c.store.Get(ctx, client.ObjectKeyFromObject(obj), existing); err != nil {
				if apierrors.IsNotFound(err) {
					return nil, nil
				}
				return nil, err
			}
			return existing, nil
		},

		WaitFunc: func(ctx context.Context, obj client.Object) error {
			delay := backoff.Step()
			logging.Debug("ResourceClient", "Waiting %s before retrying create of %s", delay, obj.GetName())

			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},

		DeleteFunc: func(ctx context.Context, obj client.Object) (bool, error) {
			target := obj.DeepCopyObject().(client.Object)
			target.SetResourceVersion("")
			if err := c.store.Delete(ctx, target, ao.deleteOptions()...); err != nil && !apierrors.IsNotFound(err) {
				return false, err
			}
			if ao.dryRun {
				dryRunDeleted = true
				return true, nil
			}
			if err := c.waitForDeletion(ctx, obj); err != nil {
				return false, err
			}
			return true, nil
		},
	}
}

// waitForDeletion polls until the store no longer returns obj. Background propagation
// and finalizers can keep a deleted object visible for a while.
func (c *ResourceClient) waitForDeletion(ctx context.Context, obj client.Object) error {
	key := client.ObjectKeyFromObject(obj)
	return wait.PollUntilContextTimeout(ctx, c.opts.DeletePollInterval, c.opts.DeleteTimeout, true,
		func(ctx context.Context) (bool, error) {
			probe := obj.DeepCopyObject().(client.Object)
			err := c.store.Get(ctx, key, probe)
			if apierrors.IsNotFound(err) {
				return true, nil
			}
			if err != nil {
				return false, err
			}
			logging.Debug("ResourceClient", "Waiting for %s to be deleted", key)
			return false, nil
		})
}

// Get reads the stored copy of obj.
func (c *ResourceClient) Get(ctx context.Context, obj client.Object) (client.Object, error) {
	item := obj.DeepCopyObject().(client.Object)
	c.defaultNamespace(item)

	if err := c.store.Get(ctx, client.ObjectKeyFromObject(item), item); err != nil {
		return nil, fmt.Errorf("failed to get %s %s/%s: %w", c.kindOf(item), item.GetNamespace(), item.GetName(), err)
	}
	return item, nil
}

// Delete removes obj from the store. A missing object is not an error.
func (c *ResourceClient) Delete(ctx context.Context, obj client.Object, opts ...ApplyOption) error {
	var ao applyOptions
	for _, opt := range opts {
		opt(&ao)
	}

	item := obj.DeepCopyObject().(client.Object)
	c.defaultNamespace(item)
	item.SetResourceVersion("")

	err := c.store.Delete(ctx, item, ao.deleteOptions()...)
	if apierrors.IsNotFound(err) {
		logging.Debug("ResourceClient", "%s %s/%s already absent", c.kindOf(item), item.GetNamespace(), item.GetName())
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s %s/%s: %w", c.kindOf(item), item.GetNamespace(), item.GetName(), err)
	}

	logging.Info("ResourceClient", "%s %s/%s deleted", c.kindOf(item), item.GetNamespace(), item.GetName())
	return nil
}

// defaultNamespace sets the configured namespace on objects that need one. Only kinds
// the store knows to be cluster-scoped are left alone.
func (c *ResourceClient) defaultNamespace(obj client.Object) {
	if obj.GetNamespace() != "" || c.opts.Namespace == "" {
		return
	}
	if scoper, ok := c.store.(interface {
		IsObjectNamespaced(obj runtime.Object) (bool, error)
	}); ok {
		if namespaced, err := scoper.IsObjectNamespaced(obj); err == nil && !namespaced {
			return
		}
	}
	obj.SetNamespace(c.opts.Namespace)
}

func (c *ResourceClient) kindOf(obj client.Object) string {
	if kind := obj.GetObjectKind().GroupVersionKind().Kind; kind != "" {
		return kind
	}
	if s, ok := c.store.(interface{ Scheme() *runtime.Scheme }); ok {
		if gvk, err := apiutil.GVKForObject(obj, s.Scheme()); err == nil {
			return gvk.Kind
		}
	}
	return fmt.Sprintf("%T", obj)
}

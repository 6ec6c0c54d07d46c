package createorreplace

import (
	"context"
	"fmt"
)

// DefaultMaxAttempts is the number of create attempts made while the store keeps
// answering with server-side errors.
const DefaultMaxAttempts = 3

// Option configures a Helper.
type Option func(*options)

type options struct {
	maxAttempts int
	classifier  Classifier
	observers   []Observer
}

// WithMaxAttempts sets the attempt ceiling. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithClassifier replaces the default APIStatusClassifier.
func WithClassifier(c Classifier) Option {
	return func(o *options) {
		if c != nil {
			o.classifier = c
		}
	}
}

// WithObserver adds an observer. The LogObserver is used when none is given.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// Helper turns a create and a version-checked replace into one idempotent call.
// It is immutable after New and safe for concurrent use.
type Helper[T Object] struct {
	ops         Operations[T]
	classifier  Classifier
	observer    Observer
	maxAttempts int
}

// New creates a Helper driving ops.
func New[T Object](ops Operations[T], opts ...Option) *Helper[T] {
	o := options{
		maxAttempts: DefaultMaxAttempts,
		classifier:  APIStatusClassifier{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	var observer Observer = LogObserver{}
	switch len(o.observers) {
	case 0:
	case 1:
		observer = o.observers[0]
	default:
		observer = multiObserver(o.observers)
	}

	return &Helper[T]{
		ops:         ops,
		classifier:  o.classifier,
		observer:    observer,
		maxAttempts: o.maxAttempts,
	}
}

// MaxAttempts returns the attempt ceiling.
func (h *Helper[T]) MaxAttempts() int {
	return h.maxAttempts
}

// CreateOrReplace makes the store hold item and returns the store's copy.
//
// The resourceVersion of item is read once when the call starts and cleared before
// every create. A replace puts that captured version back on item, so item is modified
// in place. With deleteExisting set, a conflict deletes the stored object and creates
// item again instead of replacing it.
func (h *Helper[T]) CreateOrReplace(ctx context.Context, item T, deleteExisting bool) (T, error) {
	obj, _, err := h.Reconcile(ctx, item, deleteExisting)
	return obj, err
}

// Reconcile is CreateOrReplace that also reports which path produced the result.
func (h *Helper[T]) Reconcile(ctx context.Context, item T, deleteExisting bool) (T, Outcome, error) {
	c := &call[T]{
		helper:          h,
		name:            item.GetName(),
		resourceVersion: item.GetResourceVersion(),
		state:           StateStart,
	}

	obj, outcome, err := c.run(ctx, item, deleteExisting)
	h.observer.ObserveOutcome(c.name, outcome, c.attempts, err)
	return obj, outcome, err
}

// call carries the state of one CreateOrReplace invocation.
type call[T Object] struct {
	helper *Helper[T]
	name   string

	// resourceVersion is the version observed before any mutation.
	resourceVersion string

	attempts int
	state    State
}

func (c *call[T]) enter(to State) {
	c.helper.observer.ObserveTransition(c.name, c.state, to)
	c.state = to
}

func (c *call[T]) fail(err error) (T, Outcome, error) {
	var zero T
	c.enter(StateFailed)
	return zero, OutcomeFailed, err
}

func (c *call[T]) run(ctx context.Context, item T, deleteExisting bool) (T, Outcome, error) {
	ops := c.helper.ops
	classifier := c.helper.classifier

	var lastErr error
	for c.attempts < c.helper.maxAttempts {
		if err := ctx.Err(); err != nil {
			return c.fail(err)
		}

		c.attempts++
		c.enter(StateCreating)
		item.SetResourceVersion("")
		created, err := ops.Create(ctx, item)
		if err == nil {
			c.enter(StateDone)
			return created, OutcomeCreated, nil
		}

		switch {
		case classifier.IsServerError(err):
			c.enter(StateReloading)
			present, reloadErr := c.reload(ctx, item)
			if reloadErr != nil {
				return c.fail(fmt.Errorf("failed to reload %s after server error: %w", c.name, reloadErr))
			}
			if present {
				break
			}

			lastErr = err
			if c.attempts >= c.helper.maxAttempts {
				return c.fail(&RetriesExhaustedError{Name: c.name, Attempts: c.attempts, Err: lastErr})
			}
			c.enter(StateRetry)
			if waitErr := ops.Wait(ctx, item); waitErr != nil {
				return c.fail(fmt.Errorf("failed waiting to retry create of %s: %w", c.name, waitErr))
			}
			continue

		case classifier.IsConflict(err):

		default:
			return c.fail(err)
		}

		c.enter(StateConflict)
		return c.resolveConflict(ctx, item, deleteExisting)
	}

	return c.fail(&RetriesExhaustedError{Name: c.name, Attempts: c.attempts, Err: lastErr})
}

// reload reports whether the object is present in the store.
func (c *call[T]) reload(ctx context.Context, item T) (bool, error) {
	var zero T
	existing, err := c.helper.ops.Reload(ctx, item)
	if err != nil {
		if c.helper.classifier.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return existing != zero, nil
}

func (c *call[T]) resolveConflict(ctx context.Context, item T, deleteExisting bool) (T, Outcome, error) {
	ops := c.helper.ops

	if deleteExisting {
		c.enter(StateDeleting)
		deleted, err := ops.Delete(ctx, item)
		if err != nil || !deleted {
			return c.fail(&DeleteFailedError{Name: c.name, Err: err})
		}

		c.enter(StateRecreating)
		item.SetResourceVersion("")
		created, err := ops.Create(ctx, item)
		if err != nil {
			return c.fail(err)
		}
		c.enter(StateDone)
		return created, OutcomeRecreated, nil
	}

	c.enter(StateReplacing)
	item.SetResourceVersion(c.resourceVersion)
	replaced, err := ops.Replace(ctx, item)
	if err != nil {
		return c.fail(err)
	}
	c.enter(StateDone)
	return replaced, OutcomeReplaced, nil
}

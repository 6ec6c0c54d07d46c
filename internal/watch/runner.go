package watch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/giantswarm/upsert/pkg/logging"
)

// DefaultWorkers is the number of files applied in parallel when none is configured.
const DefaultWorkers = 2

// Runner applies changed manifest files from a Queue.
type Runner struct {
	queue   *Queue
	apply   ApplyFunc
	workers int
}

// NewRunner creates a runner that calls apply for each changed file with the given
// number of workers.
func NewRunner(apply ApplyFunc, workers int) *Runner {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &Runner{
		queue:   NewQueue(),
		apply:   apply,
		workers: workers,
	}
}

// Queue returns the runner's queue.
func (r *Runner) Queue() *Queue {
	return r.queue
}

// Run forwards events from changes into the queue and processes them until ctx is
// done or changes is closed. Apply failures are logged and do not stop the runner.
func (r *Runner) Run(ctx context.Context, changes <-chan ChangeEvent) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer r.queue.Shutdown()
		for {
			select {
			case <-ctx.Done():
				return nil
			case event, ok := <-changes:
				if !ok {
					return nil
				}
				r.queue.Add(event)
			}
		}
	})

	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			for {
				event, ok := r.queue.Get(ctx)
				if !ok {
					return nil
				}
				r.process(ctx, event)
				r.queue.Done(event)
			}
		})
	}

	return g.Wait()
}

func (r *Runner) process(ctx context.Context, event ChangeEvent) {
	if event.Operation == OperationDelete {
		logging.Info("ManifestWatcher", "Manifest %s was removed; objects it created are left in place", event.FilePath)
		return
	}

	logging.Info("ManifestWatcher", "Re-applying %s after %s", event.FilePath, event.Operation)
	if err := r.apply(ctx, event.FilePath); err != nil {
		logging.Error("ManifestWatcher", err, "Failed to apply %s", event.FilePath)
	}
}

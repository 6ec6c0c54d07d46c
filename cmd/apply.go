package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/giantswarm/upsert/internal/client"
	"github.com/giantswarm/upsert/internal/config"
	"github.com/giantswarm/upsert/internal/formatting"
	"github.com/giantswarm/upsert/internal/manifest"
	"github.com/giantswarm/upsert/internal/metrics"
	"github.com/giantswarm/upsert/internal/watch"
	"github.com/giantswarm/upsert/pkg/logging"
)

type applyOptions struct {
	root *rootOptions

	filenames      []string
	deleteExisting bool
	output         string
	color          bool
	watch          bool
	concurrency    int
	dryRun         bool
	fieldManager   string
	metricsAddr    string
}

func newApplyCmd(root *rootOptions) *cobra.Command {
	o := &applyOptions{root: root}

	cmd := &cobra.Command{
		Use:   "apply -f FILENAME",
		Short: "Create or replace the objects in manifest files",
		Long: `Create or replace every object found in the given manifests.

An object that does not exist yet is created. An existing object is replaced,
using the resourceVersion from the manifest as a precondition when one is set.
Transient server errors are retried as long as the object has not appeared.

Examples:
  upsert apply -f deployment.yaml
  upsert apply -f manifests/ --delete-existing
  cat cm.yaml | upsert apply -f -
  upsert apply -f manifests/ --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&o.filenames, "filename", "f", nil, "Manifest files or directories to apply, - for stdin")
	cmd.Flags().BoolVar(&o.deleteExisting, "delete-existing", false, "Delete and recreate existing objects instead of replacing them")
	cmd.Flags().StringVarP(&o.output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().BoolVar(&o.color, "color", false, "Color the table output")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "Apply again whenever a manifest file changes")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 0, "Objects applied in parallel (default from configuration)")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Send every write as a dry run")
	cmd.Flags().StringVar(&o.fieldManager, "field-manager", "", "Field manager recorded on writes (default from configuration)")
	cmd.Flags().StringVar(&o.metricsAddr, "metrics-bind-address", "", "Serve Prometheus metrics on this address while watching, e.g. :8080")
	_ = cmd.MarkFlagRequired("filename")

	return cmd
}

func (o *applyOptions) run(cmd *cobra.Command) error {
	format, err := formatting.ParseFormat(o.output)
	if err != nil {
		return err
	}
	if o.metricsAddr != "" && !o.watch {
		return fmt.Errorf("--metrics-bind-address requires --watch")
	}

	cfg, err := o.root.loadConfig(cmd)
	if err != nil {
		return err
	}
	if o.concurrency > 0 {
		cfg.Concurrency = o.concurrency
	}
	if cmd.Flags().Changed("delete-existing") {
		cfg.DeleteExisting = o.deleteExisting
	}

	applyMetrics := metrics.NewApplyMetrics()
	rc, err := newResourceClient(cfg, applyMetrics)
	if err != nil {
		return err
	}

	applyOpts := []client.ApplyOption{client.WithDeleteExisting(cfg.DeleteExisting)}
	if o.dryRun {
		applyOpts = append(applyOpts, client.WithDryRun())
	}
	if o.fieldManager != "" {
		applyOpts = append(applyOpts, client.WithFieldManager(o.fieldManager))
	}

	objects, err := manifest.ReadFiles(o.filenames)
	if err != nil {
		return err
	}

	renderOpts := formatting.Options{Format: format, Color: o.color}
	out := cmd.OutOrStdout()

	results := applyObjects(cmd.Context(), rc, objects, cfg.Concurrency, applyOpts)
	if err := formatting.Render(out, results, renderOpts); err != nil {
		return err
	}

	if o.watch {
		defer applyMetrics.LogSummary()
		return o.watchAndApply(cmd.Context(), out, rc, cfg, applyOpts, renderOpts)
	}
	applyMetrics.LogSummary()
	return partialFailure(results)
}

// newResourceClient creates a client whose calls are counted in applyMetrics.
func newResourceClient(cfg config.Config, applyMetrics *metrics.ApplyMetrics) (*client.ResourceClient, error) {
	store, err := newStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	opts := client.OptionsFromConfig(cfg)
	opts.ObserverFor = applyMetrics.Observer
	return client.NewResourceClient(store, opts), nil
}

// applyObjects applies objects with at most concurrency calls in flight. Results keep
// the order of objects.
func applyObjects(ctx context.Context, rc *client.ResourceClient, objects []*unstructured.Unstructured, concurrency int, opts []client.ApplyOption) []formatting.Result {
	results := make([]formatting.Result, len(objects))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for i, obj := range objects {
		g.Go(func() error {
			results[i] = applyObject(ctx, rc, obj, opts)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func applyObject(ctx context.Context, rc *client.ResourceClient, obj *unstructured.Unstructured, opts []client.ApplyOption) formatting.Result {
	result := formatting.Result{
		Kind:      obj.GetKind(),
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
	}

	applied, outcome, err := rc.CreateOrReplace(ctx, obj, opts...)
	result.Outcome = string(outcome)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	result.Namespace = applied.GetNamespace()
	result.ResourceVersion = applied.GetResourceVersion()
	return result
}

func (o *applyOptions) watchAndApply(ctx context.Context, out io.Writer, rc *client.ResourceClient, cfg config.Config, applyOpts []client.ApplyOption, renderOpts formatting.Options) error {
	watcher, err := watch.NewWatcher(o.filenames, watch.DefaultDebounceInterval)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	changes := make(chan watch.ChangeEvent, 100)
	if err := watcher.Start(ctx, changes); err != nil {
		return err
	}

	// Renders of concurrent files are serialized so tables do not interleave.
	renders := make(chan []formatting.Result)
	apply := func(ctx context.Context, path string) error {
		objects, err := manifest.ReadFile(path)
		if err != nil {
			return err
		}
		results := applyObjects(ctx, rc, objects, cfg.Concurrency, applyOpts)
		select {
		case renders <- results:
		case <-ctx.Done():
			return ctx.Err()
		}
		return partialFailure(results)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case results := <-renders:
				if err := formatting.Render(out, results, renderOpts); err != nil {
					logging.Error("Apply", err, "Failed to render results")
				}
			}
		}
	})
	g.Go(func() error {
		return watch.NewRunner(apply, cfg.Concurrency).Run(ctx, changes)
	})
	if o.metricsAddr != "" {
		g.Go(func() error {
			return metrics.Serve(ctx, o.metricsAddr)
		})
	}

	logging.Info("Apply", "Watching %d path(s), press Ctrl+C to stop", len(o.filenames))
	if err := g.Wait(); err != nil {
		return err
	}
	logging.Info("Apply", "Stopped watching %s", strings.Join(o.filenames, ", "))
	return nil
}

func partialFailure(results []formatting.Result) error {
	failed := 0
	for _, r := range results {
		if r.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return &PartialFailureError{Failed: failed, Total: len(results)}
	}
	return nil
}

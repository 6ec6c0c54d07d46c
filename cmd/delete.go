package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/giantswarm/upsert/internal/client"
	"github.com/giantswarm/upsert/internal/formatting"
	"github.com/giantswarm/upsert/internal/manifest"
	"github.com/giantswarm/upsert/pkg/createorreplace"
)

type deleteOptions struct {
	root *rootOptions

	filenames []string
	output    string
	color     bool
	dryRun    bool
}

func newDeleteCmd(root *rootOptions) *cobra.Command {
	o := &deleteOptions{root: root}

	cmd := &cobra.Command{
		Use:   "delete -f FILENAME",
		Short: "Delete the objects in manifest files",
		Long: `Delete every object found in the given manifests.

Objects that do not exist are reported as deleted.

Examples:
  upsert delete -f deployment.yaml
  upsert delete -f manifests/ --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.run(cmd)
		},
	}

	cmd.Flags().StringSliceVarP(&o.filenames, "filename", "f", nil, "Manifest files or directories to delete, - for stdin")
	cmd.Flags().StringVarP(&o.output, "output", "o", "table", "Output format: table, json or yaml")
	cmd.Flags().BoolVar(&o.color, "color", false, "Color the table output")
	cmd.Flags().BoolVar(&o.dryRun, "dry-run", false, "Send deletes as a dry run")
	_ = cmd.MarkFlagRequired("filename")

	return cmd
}

func (o *deleteOptions) run(cmd *cobra.Command) error {
	format, err := formatting.ParseFormat(o.output)
	if err != nil {
		return err
	}

	cfg, err := o.root.loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}
	rc := client.NewResourceClient(store, client.OptionsFromConfig(cfg))

	objects, err := manifest.ReadFiles(o.filenames)
	if err != nil {
		return err
	}

	var opts []client.ApplyOption
	if o.dryRun {
		opts = append(opts, client.WithDryRun())
	}

	// Deletes run in reverse manifest order so dependents go before what they depend on.
	results := make([]formatting.Result, 0, len(objects))
	for i := len(objects) - 1; i >= 0; i-- {
		results = append(results, deleteObject(cmd.Context(), rc, objects[i], opts))
	}

	if err := formatting.Render(cmd.OutOrStdout(), results, formatting.Options{Format: format, Color: o.color}); err != nil {
		return err
	}
	return partialFailure(results)
}

func deleteObject(ctx context.Context, rc *client.ResourceClient, obj *unstructured.Unstructured, opts []client.ApplyOption) formatting.Result {
	result := formatting.Result{
		Kind:      obj.GetKind(),
		Namespace: obj.GetNamespace(),
		Name:      obj.GetName(),
		Outcome:   formatting.OutcomeDeleted,
	}
	if err := rc.Delete(ctx, obj, opts...); err != nil {
		result.Outcome = string(createorreplace.OutcomeFailed)
		result.Error = err.Error()
	}
	return result
}

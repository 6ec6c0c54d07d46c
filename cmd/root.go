package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/giantswarm/upsert/internal/client"
	"github.com/giantswarm/upsert/internal/config"
	"github.com/giantswarm/upsert/pkg/logging"
)

// Exit codes for CLI commands.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodePartialFailure indicates that some objects could not be applied or deleted.
	ExitCodePartialFailure = 2
)

// PartialFailureError is returned when at least one object failed. The per-object
// errors have already been reported in the command output.
type PartialFailureError struct {
	Failed int
	Total  int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d of %d object(s) failed", e.Failed, e.Total)
}

// newStore is swapped in tests.
var newStore = client.NewStore

// rootOptions holds the persistent flags shared by all subcommands.
type rootOptions struct {
	configPath     string
	debug          bool
	mode           string
	namespace      string
	kubeconfig     string
	filesystemPath string
}

// rootCmd represents the base command for the upsert application.
// It is assigned in init to break the initialization cycle through newVersionCmd.
var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Idempotently create or replace resources",
		Long: `upsert applies Kubernetes-style manifests with create-or-replace semantics.

Every object is created when absent and replaced when present. Replacements are
guarded by the resourceVersion found in the manifest, so a stale manifest fails
with a conflict instead of overwriting newer changes. With --delete-existing the
stored object is deleted and created again instead.

Objects are stored in a Kubernetes cluster or, without one, as YAML files on disk.`,
		// SilenceUsage prevents Cobra from printing the usage message on errors that are handled by the application.
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Configuration directory (default is $HOME/.config/upsert)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	flags.StringVar(&opts.mode, "mode", "", "Store to use: auto, kubernetes or filesystem")
	flags.StringVarP(&opts.namespace, "namespace", "n", "", "Namespace for objects that do not set one")
	flags.StringVar(&opts.kubeconfig, "kubeconfig", "", "Path to a kubeconfig file")
	flags.StringVar(&opts.filesystemPath, "filesystem-path", "", "Root directory of the filesystem store")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newApplyCmd(opts))
	cmd.AddCommand(newDeleteCmd(opts))

	return cmd
}

// loadConfig loads the configuration file, applies flag overrides and initializes
// logging on the command's error stream.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (config.Config, error) {
	configPath := o.configPath
	if configPath == "" {
		var err error
		configPath, err = config.GetDefaultConfigPath()
		if err != nil {
			return config.Config{}, err
		}
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.Config{}, err
	}

	if o.mode != "" {
		cfg.Mode = config.Mode(o.mode)
	}
	if o.namespace != "" {
		cfg.Namespace = o.namespace
	}
	if o.kubeconfig != "" {
		cfg.Kubeconfig = o.kubeconfig
	}
	if o.filesystemPath != "" {
		cfg.FilesystemPath = o.filesystemPath
	}
	if o.debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, err
	}
	logging.InitForCLI(level, cmd.ErrOrStderr())

	return cfg, nil
}

// SetVersion sets the version for the root command.
// This function is typically called from the main package to inject the application version at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// GetVersion returns the current version of the application.
func GetVersion() string {
	return rootCmd.Version
}

// Execute is the main entry point for the CLI application.
// This function is called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "upsert version %s\n" .Version}}`)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode determines the appropriate exit code based on the error type.
func getExitCode(err error) int {
	if err == nil {
		return ExitCodeSuccess
	}

	var partial *PartialFailureError
	if errors.As(err, &partial) {
		return ExitCodePartialFailure
	}

	return ExitCodeError
}

// Package logging provides the structured logger used across upsert.
//
// It wraps Go's slog package with a small set of helpers that tag every entry with a
// subsystem name, so output from the create-or-replace core, the stores and the CLI can
// be told apart and filtered.
//
// # Log Levels
//   - Debug: state transitions and per-call detail
//   - Info: applied resources and configuration loading
//   - Warn: failed reconciliations and recoverable problems
//   - Error: failures that abort an operation
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("ResourceClient", "Applied %s/%s", namespace, name)
//	logging.Debug("CreateOrReplace", "%s: %s -> %s", name, from, to)
//	logging.Error("FilesystemStore", err, "Failed to write %s", path)
//
// # Subsystems
//
//   - CreateOrReplace: the reconciliation core
//   - ResourceClient: the client facade and its stores
//   - FilesystemStore: the YAML-on-disk store
//   - ConfigLoader: configuration loading
//   - ManifestWatcher: file watching and re-applies
//   - Metrics: outcome accounting
//
// # controller-runtime
//
// InitForCLI also routes controller-runtime's logr logger through the same slog
// handler, so client and cache messages share the format and level filter.
//
// Logging before InitForCLI is a no-op.
package logging

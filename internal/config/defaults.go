package config

import (
	"time"

	"k8s.io/client-go/util/retry"

	"github.com/giantswarm/upsert/pkg/createorreplace"
)

const (
	// DefaultNamespace is used for manifests that do not set a namespace.
	DefaultNamespace = "default"

	// DefaultFilesystemPath is the root of the filesystem store.
	DefaultFilesystemPath = ".upsert"

	// DefaultConcurrency is the number of resources applied in parallel.
	DefaultConcurrency = 4

	// DefaultDeleteTimeout bounds the wait for a deleted object to disappear.
	DefaultDeleteTimeout = 30 * time.Second

	// DefaultFieldManager is recorded as the field manager of every write.
	DefaultFieldManager = "upsert"
)

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() Config {
	return Config{
		Mode:           ModeAuto,
		Namespace:      DefaultNamespace,
		FilesystemPath: DefaultFilesystemPath,
		MaxAttempts:    createorreplace.DefaultMaxAttempts,
		Concurrency:    DefaultConcurrency,
		Backoff: BackoffConfig{
			Duration: retry.DefaultBackoff.Duration,
			Factor:   retry.DefaultBackoff.Factor,
			Jitter:   retry.DefaultBackoff.Jitter,
			Steps:    retry.DefaultBackoff.Steps,
		},
		DeleteTimeout: DefaultDeleteTimeout,
		FieldManager:  DefaultFieldManager,
		LogLevel:      "info",
	}
}

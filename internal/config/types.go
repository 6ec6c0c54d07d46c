package config

import (
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Mode selects the store backing the resource client.
type Mode string

const (
	// ModeAuto uses Kubernetes when a cluster configuration is found, the filesystem otherwise.
	ModeAuto Mode = "auto"

	// ModeKubernetes talks to a Kubernetes API server.
	ModeKubernetes Mode = "kubernetes"

	// ModeFilesystem stores resources as YAML files on local disk.
	ModeFilesystem Mode = "filesystem"
)

// Config is the top-level configuration structure for upsert.
type Config struct {
	Mode      Mode   `yaml:"mode,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`

	// Kubeconfig is the path to a kubeconfig file. Empty uses standard discovery.
	Kubeconfig string `yaml:"kubeconfig,omitempty"`

	// FilesystemPath is the root directory of the filesystem store.
	FilesystemPath string `yaml:"filesystemPath,omitempty"`

	// MaxAttempts bounds create attempts while the store reports server errors.
	MaxAttempts int `yaml:"maxAttempts,omitempty"`

	// DeleteExisting resolves conflicts by delete-then-recreate instead of replace.
	DeleteExisting bool `yaml:"deleteExisting,omitempty"`

	// Concurrency is the number of resources applied in parallel.
	Concurrency int `yaml:"concurrency,omitempty"`

	// Backoff is the delay between create attempts.
	Backoff BackoffConfig `yaml:"backoff,omitempty"`

	// DeleteTimeout bounds the wait for a deleted object to disappear.
	DeleteTimeout time.Duration `yaml:"deleteTimeout,omitempty"`

	// FieldManager is recorded on every write.
	FieldManager string `yaml:"fieldManager,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`
}

// BackoffConfig mirrors wait.Backoff in a YAML friendly form.
type BackoffConfig struct {
	Duration time.Duration `yaml:"duration,omitempty"`
	Factor   float64       `yaml:"factor,omitempty"`
	Jitter   float64       `yaml:"jitter,omitempty"`
	Steps    int           `yaml:"steps,omitempty"`
	Cap      time.Duration `yaml:"cap,omitempty"`
}

// WaitBackoff converts the configuration to a wait.Backoff.
func (b BackoffConfig) WaitBackoff() wait.Backoff {
	return wait.Backoff{
		Duration: b.Duration,
		Factor:   b.Factor,
		Jitter:   b.Jitter,
		Steps:    b.Steps,
		Cap:      b.Cap,
	}
}

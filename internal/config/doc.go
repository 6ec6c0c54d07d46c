// Package config loads and validates the upsert configuration.
//
// Configuration lives in a single config.yaml inside the configuration directory
// (~/.config/upsert by default). A missing file is not an error: the defaults returned
// by GetDefaultConfig are used instead. Command-line flags override loaded values.
//
// Example config.yaml:
//
//	mode: auto
//	namespace: default
//	filesystemPath: ./.upsert
//	maxAttempts: 3
//	deleteExisting: false
//	concurrency: 4
//	backoff:
//	  duration: 500ms
//	  factor: 2.0
//	  jitter: 0.1
//	  steps: 5
//	deleteTimeout: 30s
//	logLevel: info
package config

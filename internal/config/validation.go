package config

import (
	"fmt"
	"strings"

	"github.com/giantswarm/upsert/pkg/logging"
)

// ValidationError represents a validation error with context
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

// Error implements the error interface
func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for multiple validation errors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// HasErrors returns true if there are any validation errors
func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{
		Field:   field,
		Value:   val,
		Message: message,
	})
}

// Validate checks the configuration and returns ValidationErrors when it is unusable.
func (c Config) Validate() error {
	var errs ValidationErrors

	switch c.Mode {
	case ModeAuto, ModeKubernetes, ModeFilesystem:
	default:
		errs.Add("mode", "must be one of auto, kubernetes, filesystem", c.Mode)
	}

	if c.Mode == ModeFilesystem && strings.TrimSpace(c.FilesystemPath) == "" {
		errs.Add("filesystemPath", "is required in filesystem mode")
	}
	if c.MaxAttempts < 1 {
		errs.Add("maxAttempts", "must be at least 1", c.MaxAttempts)
	}
	if c.Concurrency < 1 {
		errs.Add("concurrency", "must be at least 1", c.Concurrency)
	}
	if c.Backoff.Duration < 0 {
		errs.Add("backoff.duration", "must not be negative", c.Backoff.Duration)
	}
	if c.Backoff.Factor < 0 {
		errs.Add("backoff.factor", "must not be negative", c.Backoff.Factor)
	}
	if c.Backoff.Jitter < 0 {
		errs.Add("backoff.jitter", "must not be negative", c.Backoff.Jitter)
	}
	if c.DeleteTimeout <= 0 {
		errs.Add("deleteTimeout", "must be positive", c.DeleteTimeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs.Add("logLevel", err.Error(), c.LogLevel)
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

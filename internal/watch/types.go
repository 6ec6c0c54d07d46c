package watch

import (
	"context"
	"time"
)

// ChangeOperation represents the type of change detected.
type ChangeOperation string

const (
	// OperationCreate indicates a new manifest file appeared.
	OperationCreate ChangeOperation = "Create"

	// OperationUpdate indicates an existing manifest file was modified.
	OperationUpdate ChangeOperation = "Update"

	// OperationDelete indicates a manifest file was removed or renamed away.
	OperationDelete ChangeOperation = "Delete"
)

// ChangeEvent describes a change to a manifest file.
type ChangeEvent struct {
	// FilePath is the path to the file that changed.
	FilePath string

	// Operation describes what kind of change occurred.
	Operation ChangeOperation

	// Timestamp is when the change was detected.
	Timestamp time.Time
}

// ApplyFunc applies the manifests in one file.
type ApplyFunc func(ctx context.Context, path string) error

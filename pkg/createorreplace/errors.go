package createorreplace

import (
	"errors"
	"fmt"
)

var (
	// ErrRetriesExhausted is matched by the error returned when every create attempt
	// failed with a server-side error and the object never showed up in the store.
	ErrRetriesExhausted = errors.New("create-or-replace retries exhausted")

	// ErrDeleteFailed is matched by the error returned when delete-then-recreate could
	// not remove the existing object.
	ErrDeleteFailed = errors.New("failed to delete existing item")
)

// RetriesExhaustedError reports the last create failure once the attempt ceiling is hit.
type RetriesExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("failed to create %s after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrRetriesExhausted) succeed.
func (e *RetriesExhaustedError) Is(target error) bool { return target == ErrRetriesExhausted }

// DeleteFailedError is returned when the delete step of delete-then-recreate reports
// that the object is still present, or fails outright.
type DeleteFailedError struct {
	Name string
	Err  error
}

func (e *DeleteFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to delete existing item: %s: %v", e.Name, e.Err)
	}
	return "failed to delete existing item: " + e.Name
}

func (e *DeleteFailedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDeleteFailed) succeed.
func (e *DeleteFailedError) Is(target error) bool { return target == ErrDeleteFailed }

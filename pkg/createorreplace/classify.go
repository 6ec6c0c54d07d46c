package createorreplace

import (
	"errors"
	"net/http"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// Classifier decides how a Helper reacts to a failed store call.
type Classifier interface {
	// IsServerError reports whether err was encountered by the server and may be
	// transient.
	IsServerError(err error) bool

	// IsConflict reports whether err signals that the object already exists or that
	// the supplied version is stale.
	IsConflict(err error) bool

	// IsNotFound reports whether err means the object does not exist.
	IsNotFound(err error) bool
}

// APIStatusClassifier classifies errors by the HTTP status code carried by Kubernetes
// API status errors.
type APIStatusClassifier struct{}

// IsServerError returns true for 5xx status codes.
func (APIStatusClassifier) IsServerError(err error) bool {
	code := StatusCode(err)
	return code >= http.StatusInternalServerError && code < 600
}

// IsConflict returns true for 409, which covers both AlreadyExists and Conflict reasons.
func (APIStatusClassifier) IsConflict(err error) bool {
	return StatusCode(err) == http.StatusConflict
}

// IsNotFound returns true for NotFound status errors.
func (APIStatusClassifier) IsNotFound(err error) bool {
	return apierrors.IsNotFound(err)
}

// StatusCode extracts the HTTP status code from err, or 0 when err does not carry an
// API status.
func StatusCode(err error) int32 {
	if err == nil {
		return 0
	}
	var status apierrors.APIStatus
	if errors.As(err, &status) {
		return status.Status().Code
	}
	return 0
}

package classroom

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotLinked means the session carries no usable Google credential.
	ErrNotLinked = errors.New("google account not linked")

	// ErrMissingCourseID is returned by per-course fetches without a course id.
	ErrMissingCourseID = errors.New("course id is required")
)

// APIError is a non-2xx answer from the Classroom API.
type APIError struct {
	StatusCode int
	Resource   string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("classroom %s: %d %s", e.Resource, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("classroom %s: %d %s", e.Resource, e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the request may succeed if repeated.
// Authorization failures never do.
func (e *APIError) Retryable() bool {
	return e.StatusCode != http.StatusUnauthorized && e.StatusCode != http.StatusForbidden
}

// IsAuthError reports whether err is a 401 or 403 from the API.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Retryable()
}

package lms

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReauthenticationRequired means the stored token cannot be used or
	// refreshed; the user has to launch the tool again.
	ErrReauthenticationRequired = errors.New("lms: unauthorized, reauthentication required")
	// ErrBadRequest is returned for HTTP 400, usually a stale recipient or
	// a group that no longer exists.
	ErrBadRequest = errors.New("lms: bad request, likely invalid recipient or group")
	// ErrForeignURL is returned instead of sending the bearer token to a host
	// other than the configured LMS.
	ErrForeignURL = errors.New("lms: refusing request outside the configured LMS")
)

// APIError is any other non-2xx answer from the LMS.
type APIError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lms: %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode == 403 || e.StatusCode >= 500
}

package httpx

import (
	"errors"
	"fmt"
	"net/http"
)

// PermanentError is a 4xx response. These are surfaced immediately; on this
// source a 404 usually means an expired URL token rather than missing
// content.
type PermanentError struct {
	URL        string
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure fetching %s: status %d", e.URL, e.StatusCode)
}

// NotFound reports whether the failure was a 404.
func (e *PermanentError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// TransientError is returned once the retry budget for timeouts, connection
// failures, and 5xx responses is exhausted.
type TransientError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure fetching %s after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err carries a 404 permanent failure.
func IsNotFound(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm) && perm.NotFound()
}

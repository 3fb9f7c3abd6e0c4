package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// APIError is an HTTP-level failure from the upstream service. The status
// code alone drives control flow; body diagnostics are only logged.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Retryable reports whether the call may be retried: 429 and 5xx only.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// AuthFailure reports a permanent credential problem. These recur every tick
// and must surface prominently instead of being retried.
func (e *APIError) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsRetryable classifies any error from a client call. Timed-out calls count
// as retryable; all other transport errors are fatal for that call.
func IsRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAuthFailure reports whether err is a permanent auth failure.
func IsAuthFailure(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.AuthFailure()
}

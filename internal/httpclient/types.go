package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stacklok/bimsync/internal/syncerr"
)

// HTTPError represents an HTTP error that does not map onto the sync error taxonomy
type HTTPError struct {
	StatusCode int
	Message    string
	URL        string
}

// Error returns the error message
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d for URL %s: %s", e.StatusCode, e.URL, e.Message)
}

// NewHTTPError creates a new HTTP error
func NewHTTPError(statusCode int, url, message string) error {
	return &HTTPError{
		StatusCode: statusCode,
		URL:        url,
		Message:    message,
	}
}

// statusError classifies a non-success response.
// 401/403 are auth failures, 404 is not-found, 408/429/5xx are transient.
func statusError(op, url string, resp *http.Response) error {
	httpErr := NewHTTPError(resp.StatusCode, url, resp.Status)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &syncerr.AuthError{Reason: "credential rejected by upstream", StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusNotFound:
		return &syncerr.NotFoundError{Resource: url}
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return &syncerr.TransientNetworkError{
			Op:         op,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
			Err:        httpErr,
		}
	default:
		return httpErr
	}
}

// transportError wraps a failure that happened before a response was received.
// Cancellation by the caller is returned as is.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &syncerr.TransientNetworkError{Op: op, Err: fmt.Errorf("failed to execute request: %w", err)}
}

// parseRetryAfter understands both delta-seconds and HTTP-date values
func parseRetryAfter(value string, now time.Time) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

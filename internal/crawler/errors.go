package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidQuery is returned when the query is empty after sanitation.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidTemplate is returned when a URL template lacks the query placeholder.
	ErrInvalidTemplate = errors.New("invalid url template")
	// ErrInvalidSelector is returned for selectors outside the supported subset.
	ErrInvalidSelector = errors.New("invalid selector")
	// ErrPolicyDenied marks a URL the host's crawl policy forbids.
	ErrPolicyDenied = errors.New("denied by crawl policy")
	// ErrRetryableStatus marks throttling and server-side statuses worth retrying.
	ErrRetryableStatus = errors.New("retryable http status")
	// ErrNonHTML marks a response that is empty or not an HTML document.
	ErrNonHTML = errors.New("empty or non-html content")
	// ErrRetriesExhausted wraps the last error once the attempt budget is spent.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StatusError reports a non-success HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http status %d %s", e.Code, http.StatusText(e.Code))
}

// Is lets errors.Is(err, ErrRetryableStatus) match retryable codes.
func (e *StatusError) Is(target error) bool {
	return target == ErrRetryableStatus && IsRetryableStatus(e.Code)
}

// IsRetryableStatus reports whether the status code is transient.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

package crawler

import (
	"context"
	"net/http"
)

// Fetcher performs one logical GET and reports a terminal outcome.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) FetchOutcome
}

// Transport issues a single HTTP GET attempt. Non-2xx responses are returned
// as a Response, not an error; errors mean the exchange itself failed.
type Transport interface {
	Get(ctx context.Context, rawURL string, headers http.Header) (Response, error)
}

// Response is the raw result of one Transport attempt.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// PolicyChecker decides whether automated agents may fetch a URL.
type PolicyChecker interface {
	Allowed(ctx context.Context, rawURL, userAgent string) bool
}

// Sink receives records one at a time and persists them incrementally.
type Sink interface {
	Write(ctx context.Context, record Record) error
	Close() error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

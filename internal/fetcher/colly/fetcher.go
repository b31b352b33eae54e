// Package collyfetcher implements crawler.Transport using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/personsearch/internal/crawler"
)

// DefaultMaxBodyBytes caps response bodies when Config leaves it unset.
const DefaultMaxBodyBytes = 10 << 20

// Config controls the timeouts of each attempt.
type Config struct {
	// ConnectTimeout bounds dialing and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for response headers once the request is sent.
	ReadTimeout time.Duration
	// TotalTimeout bounds the whole exchange, redirects and body included.
	TotalTimeout time.Duration
	MaxBodyBytes int
}

// Transport issues one GET per call through a cloned Colly collector. All
// clones share the base collector's HTTP client and its connection pool.
type Transport struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Transport.
func New(cfg Config) *Transport {
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 20 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(cfg.MaxBodyBytes),
	)
	c.WithTransport(newHTTPTransport(cfg))
	c.SetRequestTimeout(cfg.TotalTimeout)

	return &Transport{
		cfg:           cfg,
		baseCollector: c,
	}
}

// Get implements crawler.Transport. Every status code, including errors, comes
// back as a Response; only failed exchanges return an error.
func (t *Transport) Get(ctx context.Context, rawURL string, headers http.Header) (crawler.Response, error) {
	var (
		result   crawler.Response
		fetchErr error
		received bool
	)
	collector := t.buildCollector(headers)
	t.configureCollectorHooks(collector, headers, &result, &received, &fetchErr)

	if err := t.runCollector(ctx, collector, rawURL); err != nil {
		return crawler.Response{}, err
	}
	if fetchErr != nil {
		return crawler.Response{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	if !received {
		return crawler.Response{}, fmt.Errorf("colly fetch produced no response for %s", rawURL)
	}
	return result, nil
}

func (t *Transport) buildCollector(headers http.Header) *colly.Collector {
	collector := t.baseCollector.Clone()
	collector.AllowURLRevisit = true
	collector.ParseHTTPErrorResponse = true
	collector.IgnoreRobotsTxt = true
	if ua := headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	}
	return collector
}

func (t *Transport) configureCollectorHooks(
	hooks collectorHooks,
	headers http.Header,
	result *crawler.Response,
	received *bool,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := ""
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		var hdr http.Header
		if r.Headers != nil {
			hdr = r.Headers.Clone()
		}
		*result = crawler.Response{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    hdr,
			Body:       append([]byte(nil), r.Body...),
		}
		*received = true
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (t *Transport) runCollector(ctx context.Context, collector *colly.Collector, rawURL string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		// The abandoned visit still ends within TotalTimeout.
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func copyHeaders(headers http.Header, r *colly.Request) {
	if headers == nil || r.Headers == nil {
		return
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport(cfg Config) *http.Transport {
	connect := cfg.ConnectTimeout
	if connect <= 0 {
		connect = 10 * time.Second
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   connect,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// Package robots caches per-host crawl policy decisions for the life of a run.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/personsearch/internal/metrics"
)

// DefaultTimeout bounds the policy document fetch independently of page fetches.
const DefaultTimeout = 5 * time.Second

const maxPolicyBytes = 1 << 20

// decision is the cached verdict source for one scheme://host. A nil data
// pointer means "no restrictions".
type decision struct {
	data *robotstxt.RobotsData
}

func (d *decision) allowed(path, userAgent string) bool {
	if d == nil || d.data == nil {
		return true
	}
	return d.data.TestAgent(path, userAgent)
}

func (d *decision) crawlDelay(userAgent string) time.Duration {
	if d == nil || d.data == nil {
		return 0
	}
	if g := d.data.FindGroup(userAgent); g != nil {
		return g.CrawlDelay
	}
	return 0
}

// Cache fetches each host's robots.txt once and memoizes the decision.
// Concurrent callers for the same host share a single in-flight fetch.
type Cache struct {
	client     *http.Client
	timeout    time.Duration
	delayAgent string
	logger     *zap.Logger

	mu      sync.RWMutex
	entries map[string]*decision
	flight  singleflight.Group
}

// Option customizes a Cache.
type Option func(*Cache)

// WithHTTPClient overrides the client used for policy document fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithTimeout overrides the policy document fetch timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Cache) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithDelayAgent sets the user agent whose group supplies CrawlDelay.
func WithDelayAgent(userAgent string) Option {
	return func(c *Cache) { c.delayAgent = userAgent }
}

// New builds an empty Cache.
func New(logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		client:  &http.Client{},
		timeout: DefaultTimeout,
		logger:  logger,
		entries: make(map[string]*decision),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Allowed reports whether userAgent may fetch rawURL. URLs without a scheme or
// host, and hosts whose policy cannot be retrieved, are allowed.
func (c *Cache) Allowed(ctx context.Context, rawURL, userAgent string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return true
	}
	return c.decisionFor(ctx, hostKey(parsed)).allowed(parsed.RequestURI(), userAgent)
}

// CrawlDelay returns the Crawl-delay the host's policy asks of the delay
// agent, or zero when it names none.
func (c *Cache) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return 0
	}
	return c.decisionFor(ctx, hostKey(parsed)).crawlDelay(c.delayAgent)
}

func hostKey(u *url.URL) string {
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func (c *Cache) lookup(key string) (*decision, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.entries[key]
	return d, ok
}

func (c *Cache) decisionFor(ctx context.Context, key string) *decision {
	if d, ok := c.lookup(key); ok {
		return d
	}
	v, _, _ := c.flight.Do(key, func() (any, error) {
		// A flight that finished just before this one already stored the entry.
		if d, ok := c.lookup(key); ok {
			return d, nil
		}
		d := c.fetch(ctx, key)
		c.mu.Lock()
		c.entries[key] = d
		c.mu.Unlock()
		return d, nil
	})
	d, ok := v.(*decision)
	if !ok {
		return nil
	}
	return d
}

// fetch never fails: every problem degrades to a permissive decision.
func (c *Cache) fetch(ctx context.Context, base string) *decision {
	robotsURL := base + "/robots.txt"
	// Shared by every waiter on this host, so one caller's cancellation must not poison it.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	data, err := c.load(fetchCtx, robotsURL)
	if err != nil {
		metrics.ObservePolicyFetch(robotsURL, "error")
		c.logger.Warn("robots fetch failed; allowing access", zap.String("url", robotsURL), zap.Error(err))
		return &decision{}
	}
	if data == nil {
		metrics.ObservePolicyFetch(robotsURL, "absent")
		c.logger.Debug("no crawl policy; allowing access", zap.String("url", robotsURL))
		return &decision{}
	}
	metrics.ObservePolicyFetch(robotsURL, "ok")
	return &decision{data: data}
}

func (c *Cache) load(ctx context.Context, robotsURL string) (*robotstxt.RobotsData, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPolicyBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromBytes(body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

// AllowAll is a PolicyChecker that never denies.
type AllowAll struct{}

// Allowed implements crawler.PolicyChecker.
func (AllowAll) Allowed(context.Context, string, string) bool { return true }

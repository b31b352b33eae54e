// Package ratelimit throttles requests per host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/personsearch/internal/metrics"
)

// DelaySource reports a host's requested minimum spacing between requests,
// such as a robots.txt Crawl-delay. Zero means no preference.
type DelaySource interface {
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS applies to every host; non-positive disables throttling
	// unless a DelaySource asks for it.
	DefaultRPS   float64
	DefaultBurst int
	// Delays, when set, is consulted once per host the first time it is seen.
	Delays DelaySource
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	hosts    map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	delays   DelaySource
	disabled bool
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		hosts:    make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		delays:   cfg.Delays,
		disabled: r == rate.Inf && cfg.Delays == nil,
	}
}

// Wait blocks until the URL's host may receive another request.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil || l.disabled {
		return nil
	}
	host := hostKey(rawURL)
	limiter := l.forHost(ctx, host, rawURL)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were immediately available are not worth a histogram sample.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Limit returns the rate currently applied to the URL's host, or rate.Inf for
// hosts not seen yet when no default applies.
func (l *Limiter) Limit(rawURL string) rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.hosts[hostKey(rawURL)]; ok {
		return limiter.Limit()
	}
	return l.rate
}

func (l *Limiter) forHost(ctx context.Context, host, rawURL string) *rate.Limiter {
	l.mu.Lock()
	limiter, ok := l.hosts[host]
	l.mu.Unlock()
	if ok {
		return limiter
	}

	// The delay lookup may hit the network, so it runs unlocked.
	r := l.rate
	if l.delays != nil {
		if d := l.delays.CrawlDelay(ctx, rawURL); d > 0 && rate.Every(d) < r {
			r = rate.Every(d)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.hosts[host]; ok {
		return existing
	}
	limiter = rate.NewLimiter(r, l.burst)
	l.hosts[host] = limiter
	return limiter
}

func hostKey(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		return strings.ToLower(u.Hostname())
	}
	return "unknown"
}

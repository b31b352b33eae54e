// Package fetcher implements the retrying fetch state machine shared by every
// Target in a search run.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/personsearch/internal/crawler"
	"github.com/JakeFAU/personsearch/internal/metrics"
)

// HostLimiter throttles requests per host before they take a concurrency slot.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// SleepFunc waits for d or until ctx ends.
type SleepFunc func(ctx context.Context, d time.Duration) error

type state int

const (
	stateAttempting state = iota
	stateBackingOff
	stateSucceeded
	stateDenied
	stateNonHTML
	stateRejected
	stateExhausted
	stateCanceled
)

func (s state) terminal() bool {
	return s != stateAttempting && s != stateBackingOff
}

// fetchRun is the mutable bookkeeping of one logical fetch.
type fetchRun struct {
	url     string
	agent   string
	attempt int
	body    string
	lastErr error
}

// Retrying performs one logical GET per call: crawl policy check, then up to
// MaxRetries+1 attempts separated by jittered exponential backoff. Slots of
// the shared limiter are held only for the network call.
type Retrying struct {
	cfg         crawler.FetchConfig
	transport   crawler.Transport
	policy      crawler.PolicyChecker
	hostLimiter HostLimiter
	slots       *semaphore.Weighted
	agents      *Agents
	headers     http.Header
	sleep       SleepFunc
	jitter      func() float64
	logger      *zap.Logger
}

// Option customizes a Retrying fetcher.
type Option func(*Retrying)

// WithPolicy sets the crawl policy consulted when ObeyPolicy is on.
func WithPolicy(policy crawler.PolicyChecker) Option {
	return func(r *Retrying) { r.policy = policy }
}

// WithHostLimiter adds per-host throttling ahead of the global limiter.
func WithHostLimiter(limiter HostLimiter) Option {
	return func(r *Retrying) { r.hostLimiter = limiter }
}

// WithAgents shares a User-Agent holder, e.g. with a pipeline that rotates it.
func WithAgents(agents *Agents) Option {
	return func(r *Retrying) {
		if agents != nil {
			r.agents = agents
		}
	}
}

// WithSleep replaces the context-aware sleep used for backoff and rate delay.
func WithSleep(sleep SleepFunc) Option {
	return func(r *Retrying) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// WithJitter replaces the [0, 1) jitter source.
func WithJitter(jitter func() float64) Option {
	return func(r *Retrying) {
		if jitter != nil {
			r.jitter = jitter
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Retrying) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRetrying builds a fetcher around transport.
func NewRetrying(cfg crawler.FetchConfig, transport crawler.Transport, opts ...Option) (*Retrying, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	headers.Set("Accept-Language", "en-US,en;q=0.5")
	r := &Retrying{
		cfg:       cfg,
		transport: transport,
		slots:     semaphore.NewWeighted(int64(cfg.Concurrency)),
		headers:   headers,
		sleep:     sleepWithContext,
		jitter:    defaultJitter,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.agents == nil {
		r.agents = NewAgents(cfg.UserAgents)
	}
	return r, nil
}

// Agents exposes the shared User-Agent holder.
func (r *Retrying) Agents() *Agents {
	return r.agents
}

// Fetch implements crawler.Fetcher.
func (r *Retrying) Fetch(ctx context.Context, rawURL string) crawler.FetchOutcome {
	run := &fetchRun{url: rawURL, agent: r.agents.Current()}
	st := stateAttempting
	if r.cfg.ObeyPolicy && r.policy != nil && !r.policy.Allowed(ctx, rawURL, run.agent) {
		st = stateDenied
	}
	for !st.terminal() {
		switch st {
		case stateAttempting:
			run.attempt++
			st = r.attempt(ctx, run)
		case stateBackingOff:
			st = r.backOff(ctx, run)
		}
	}
	return r.finish(st, run)
}

func (r *Retrying) attempt(ctx context.Context, run *fetchRun) state {
	if ctx.Err() != nil {
		run.lastErr = ctx.Err()
		return stateCanceled
	}
	if r.hostLimiter != nil {
		if err := r.hostLimiter.Wait(ctx, run.url); err != nil {
			run.lastErr = err
			return stateCanceled
		}
	}

	resp, err := r.roundTrip(ctx, run)
	if err != nil {
		if ctx.Err() != nil {
			run.lastErr = ctx.Err()
			return stateCanceled
		}
		run.lastErr = err
		if isTimeout(err) {
			metrics.ObserveFetchAttempt(run.url, "timeout")
			r.logger.Warn("fetch timeout",
				zap.String("url", run.url),
				zap.Int("attempt", run.attempt),
				zap.Duration("timeout", r.cfg.TotalTimeout),
				zap.Error(err),
			)
		} else {
			metrics.ObserveFetchAttempt(run.url, "transport_error")
			r.logger.Warn("fetch transport error",
				zap.String("url", run.url),
				zap.Int("attempt", run.attempt),
				zap.Error(err),
			)
		}
		return r.retryOrExhaust(run)
	}
	return r.classify(run, resp)
}

// roundTrip holds one limiter slot for the rate delay and the network call.
func (r *Retrying) roundTrip(ctx context.Context, run *fetchRun) (crawler.Response, error) {
	if err := r.slots.Acquire(ctx, 1); err != nil {
		return crawler.Response{}, fmt.Errorf("acquire fetch slot: %w", err)
	}
	metrics.IncInflight()
	defer func() {
		metrics.DecInflight()
		r.slots.Release(1)
	}()

	if r.cfg.RateDelay > 0 {
		if err := r.sleep(ctx, r.cfg.RateDelay); err != nil {
			return crawler.Response{}, fmt.Errorf("rate delay: %w", err)
		}
	}

	attemptCtx := ctx
	if r.cfg.TotalTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, r.cfg.TotalTimeout)
		defer cancel()
	}
	resp, err := r.transport.Get(attemptCtx, run.url, r.requestHeaders())
	if err != nil {
		return crawler.Response{}, fmt.Errorf("get %s: %w", run.url, err)
	}
	return resp, nil
}

func (r *Retrying) requestHeaders() http.Header {
	h := r.headers.Clone()
	h.Set("User-Agent", r.agents.Current())
	return h
}

func (r *Retrying) classify(run *fetchRun, resp crawler.Response) state {
	code := resp.StatusCode
	switch {
	case crawler.IsRetryableStatus(code):
		run.lastErr = &crawler.StatusError{Code: code}
		metrics.ObserveFetchAttempt(run.url, "retryable_status")
		r.logger.Warn("retryable http status",
			zap.String("url", run.url),
			zap.Int("status_code", code),
			zap.Int("attempt", run.attempt),
		)
		return r.retryOrExhaust(run)
	case code < 200 || code > 299:
		run.lastErr = &crawler.StatusError{Code: code}
		metrics.ObserveFetchAttempt(run.url, "rejected")
		return stateRejected
	case !isHTML(resp):
		run.lastErr = crawler.ErrNonHTML
		metrics.ObserveFetchAttempt(run.url, "non_html")
		return stateNonHTML
	default:
		run.body = string(resp.Body)
		metrics.ObserveFetchAttempt(run.url, "ok")
		return stateSucceeded
	}
}

func (r *Retrying) retryOrExhaust(run *fetchRun) state {
	if run.attempt > r.cfg.MaxRetries {
		return stateExhausted
	}
	return stateBackingOff
}

func (r *Retrying) backOff(ctx context.Context, run *fetchRun) state {
	delay := Backoff(r.cfg.BackoffBase, run.attempt, r.jitter())
	metrics.ObserveBackoff(delay)
	r.logger.Debug("backing off",
		zap.String("url", run.url),
		zap.Int("attempt", run.attempt),
		zap.Duration("delay", delay),
	)
	if err := r.sleep(ctx, delay); err != nil {
		run.lastErr = err
		return stateCanceled
	}
	return stateAttempting
}

func (r *Retrying) finish(st state, run *fetchRun) crawler.FetchOutcome {
	out := crawler.FetchOutcome{URL: run.url, Attempts: run.attempt}
	switch st {
	case stateSucceeded:
		out.Kind = crawler.OutcomeSuccess
		out.Body = run.body
	case stateDenied:
		out.Kind = crawler.OutcomeDenied
		out.Err = crawler.ErrPolicyDenied
		metrics.ObservePolicyDenial(run.url)
		r.logger.Info("blocked by crawl policy", zap.String("url", run.url), zap.String("user_agent", run.agent))
	case stateNonHTML:
		out.Kind = crawler.OutcomeNonHTML
		out.Err = run.lastErr
		r.logger.Info("skipping empty or non-html response", zap.String("url", run.url))
	case stateRejected:
		out.Kind = crawler.OutcomeRejected
		out.Err = run.lastErr
		r.logger.Warn("non-retryable http status", zap.String("url", run.url), zap.Error(run.lastErr))
	case stateExhausted:
		out.Kind = crawler.OutcomeFailed
		out.Err = fmt.Errorf("%w after %d attempts: %w", crawler.ErrRetriesExhausted, run.attempt, run.lastErr)
		r.logger.Error("fetch failed after retries",
			zap.String("url", run.url),
			zap.Int("attempts", run.attempt),
			zap.Error(run.lastErr),
		)
	default:
		out.Kind = crawler.OutcomeCanceled
		out.Err = run.lastErr
		r.logger.Debug("fetch canceled", zap.String("url", run.url), zap.Error(run.lastErr))
	}
	metrics.ObserveOutcome(out.Kind.String())
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isHTML(resp crawler.Response) bool {
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return false
	}
	contentType := ""
	if resp.Headers != nil {
		contentType = resp.Headers.Get("Content-Type")
	}
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/html")
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}

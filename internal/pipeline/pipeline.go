// Package pipeline drives a search run: it builds one URL per Target, fetches
// each through the shared retrying fetcher, extracts records and streams them
// to a Sink as they are produced.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/personsearch/internal/crawler"
	"github.com/JakeFAU/personsearch/internal/extract"
	"github.com/JakeFAU/personsearch/internal/metrics"
)

// Config holds the search-level knobs of a run.
type Config struct {
	// Intensive re-picks the User-Agent before every Target fetch.
	Intensive bool
	// MaxQueryLength bounds the query in runes; over-long queries are truncated.
	MaxQueryLength int
	// Sequential dispatches Targets one at a time in declaration order.
	Sequential bool
	// NormalizeWhitespace collapses whitespace in extracted values.
	NormalizeWhitespace bool
}

// Rotator swaps the active User-Agent.
type Rotator interface {
	Rotate() string
}

// Pipeline runs searches. It is safe to reuse across runs.
type Pipeline struct {
	cfg       Config
	fetcher   crawler.Fetcher
	extractor *extract.Extractor
	rotator   Rotator
	ids       crawler.IDGenerator
	publisher crawler.Publisher
	topic     string
	logger    *zap.Logger
	now       func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithRotator sets the User-Agent rotator used in intensive mode.
func WithRotator(r Rotator) Option {
	return func(p *Pipeline) { p.rotator = r }
}

// WithIDGenerator stamps each run with an ID.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(p *Pipeline) { p.ids = ids }
}

// WithPublisher publishes a RunSummary to topic when a run ends.
func WithPublisher(pub crawler.Publisher, topic string) Option {
	return func(p *Pipeline) {
		p.publisher = pub
		p.topic = topic
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New builds a Pipeline around fetcher.
func New(cfg Config, fetcher crawler.Fetcher, opts ...Option) (*Pipeline, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = DefaultMaxQueryLength
	}
	p := &Pipeline{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extract.New(cfg.NormalizeWhitespace),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// job is one Target ready for dispatch.
type job struct {
	index int
	url   string
	plan  *extract.Plan
}

type produced struct {
	index  int
	record crawler.Record
}

// Run searches every Target for query and writes surviving records to sink.
// It returns the number of rows written.
func (p *Pipeline) Run(ctx context.Context, query string, targets []crawler.Target, sink crawler.Sink) (int, error) {
	summary, err := p.Search(ctx, query, targets, sink)
	return summary.Rows, err
}

// Search is Run with per-Target statistics. Per-Target failures are recorded
// in the summary; the returned error is limited to invalid input, sink
// failures and cancellation. Rows written before an error stay in the sink.
func (p *Pipeline) Search(ctx context.Context, query string, targets []crawler.Target, sink crawler.Sink) (crawler.RunSummary, error) {
	start := p.now()
	summary := crawler.RunSummary{}

	q, err := SanitizeQuery(query, p.cfg.MaxQueryLength)
	if err != nil {
		return summary, err
	}
	summary.Query = q
	if len([]rune(strings.TrimSpace(query))) > p.cfg.MaxQueryLength {
		p.logger.Warn("query truncated", zap.Int("max_length", p.cfg.MaxQueryLength))
	}

	jobs, err := p.prepare(q, targets)
	if err != nil {
		return summary, err
	}
	if sink == nil {
		return summary, errors.New("sink is required")
	}

	if p.ids != nil {
		id, err := p.ids.NewID()
		if err != nil {
			return summary, fmt.Errorf("generate run id: %w", err)
		}
		summary.RunID = id
	}
	logger := p.logger.With(zap.String("run_id", summary.RunID))

	summary.Targets = make([]crawler.TargetSummary, len(jobs))
	for i, j := range jobs {
		summary.Targets[i] = crawler.TargetSummary{
			Name:    j.plan.Target().Name,
			URL:     j.url,
			Outcome: crawler.OutcomeCanceled.String(),
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	records := make(chan produced)
	go p.dispatch(runCtx, jobs, summary.Targets, records, logger)

	writeCtx := context.WithoutCancel(ctx)
	var writeErr error
	for item := range records {
		if writeErr != nil {
			continue
		}
		if err := sink.Write(writeCtx, item.record); err != nil {
			writeErr = fmt.Errorf("write record: %w", err)
			logger.Error("sink write failed", zap.String("source", item.record.Source), zap.Error(err))
			cancel()
			continue
		}
		summary.Rows++
		summary.Targets[item.index].Rows++
		metrics.ObserveRowWritten(item.record.Source)
	}

	elapsed := p.now().Sub(start)
	summary.ElapsedMs = elapsed.Milliseconds()
	summary.Canceled = ctx.Err() != nil

	logger.Info("search finished",
		zap.Int("rows", summary.Rows),
		zap.Duration("elapsed", elapsed),
		zap.Int("targets", len(jobs)),
		zap.Bool("canceled", summary.Canceled),
	)
	p.publish(ctx, summary, logger)

	switch {
	case writeErr != nil:
		return summary, writeErr
	case ctx.Err() != nil:
		return summary, ctx.Err()
	default:
		return summary, nil
	}
}

// prepare validates every Target before any request is made.
func (p *Pipeline) prepare(query string, targets []crawler.Target) ([]job, error) {
	jobs := make([]job, 0, len(targets))
	for i, t := range targets {
		plan, err := extract.Compile(t)
		if err != nil {
			return nil, err
		}
		u, err := BuildURL(t.URLTemplate, query)
		if err != nil {
			return nil, fmt.Errorf("target %q: %w", t.Name, err)
		}
		jobs = append(jobs, job{index: i, url: u, plan: plan})
	}
	return jobs, nil
}

func (p *Pipeline) dispatch(ctx context.Context, jobs []job, stats []crawler.TargetSummary, out chan<- produced, logger *zap.Logger) {
	defer close(out)
	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Sequential {
		g.SetLimit(1)
	}
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.runTarget(gctx, j, &stats[j.index], out, logger)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) runTarget(ctx context.Context, j job, stats *crawler.TargetSummary, out chan<- produced, logger *zap.Logger) {
	if ctx.Err() != nil {
		return
	}
	name := j.plan.Target().Name
	if p.cfg.Intensive && p.rotator != nil {
		ua := p.rotator.Rotate()
		logger.Debug("rotated user agent", zap.String("target", name), zap.String("user_agent", ua))
	}

	outcome := p.fetcher.Fetch(ctx, j.url)
	stats.Outcome = outcome.Kind.String()
	if outcome.Err != nil {
		stats.Error = outcome.Err.Error()
	}
	if !outcome.Succeeded() {
		logger.Debug("target skipped",
			zap.String("target", name),
			zap.String("outcome", stats.Outcome),
			zap.Error(outcome.Err),
		)
		return
	}

	seq, err := p.extractor.Extract(outcome.Body, j.plan)
	if err != nil {
		stats.Error = err.Error()
		logger.Warn("extract failed", zap.String("target", name), zap.Error(err))
		return
	}
	for rec := range seq {
		select {
		case out <- produced{index: j.index, record: rec}:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, summary crawler.RunSummary, logger *zap.Logger) {
	if p.publisher == nil || p.topic == "" {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	id, err := p.publisher.Publish(pubCtx, p.topic, summary)
	if err != nil {
		logger.Error("publish run summary", zap.String("topic", p.topic), zap.Error(err))
		return
	}
	logger.Debug("published run summary", zap.String("topic", p.topic), zap.String("message_id", id))
}

// Package app wires configuration into the long-lived services of a search
// run and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/personsearch/internal/config"
	"github.com/JakeFAU/personsearch/internal/crawler"
	"github.com/JakeFAU/personsearch/internal/fetcher"
	collyfetcher "github.com/JakeFAU/personsearch/internal/fetcher/colly"
	"github.com/JakeFAU/personsearch/internal/id/uuid"
	"github.com/JakeFAU/personsearch/internal/metrics"
	"github.com/JakeFAU/personsearch/internal/pipeline"
	"github.com/JakeFAU/personsearch/internal/policy/ratelimit"
	"github.com/JakeFAU/personsearch/internal/policy/robots"
	"github.com/JakeFAU/personsearch/internal/publisher/pubsub"
	"github.com/JakeFAU/personsearch/internal/sink"
)

// ErrCloseOutput marks a failure to finalize the output; rows written during
// the run may not have been persisted.
var ErrCloseOutput = errors.New("close output")

// App holds the services shared by every search it runs.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	transport crawler.Transport
	policy    crawler.PolicyChecker
	fetcher   *fetcher.Retrying
	ids       crawler.IDGenerator
	publisher crawler.Publisher
	storage   *storage.Client
	metrics   *metrics.Server
	closers   []io.Closer
}

// Option overrides a service App would otherwise build from configuration.
type Option func(*App)

// WithTransport replaces the colly transport.
func WithTransport(t crawler.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithPolicy replaces the robots.txt cache.
func WithPolicy(p crawler.PolicyChecker) Option {
	return func(a *App) { a.policy = p }
}

// WithPublisher replaces the Pub/Sub publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithIDGenerator replaces the UUIDv7 run ID generator.
func WithIDGenerator(ids crawler.IDGenerator) Option {
	return func(a *App) { a.ids = ids }
}

// WithStorageClient supplies the Cloud Storage client used for gs:// output.
func WithStorageClient(c *storage.Client) Option {
	return func(a *App) { a.storage = c }
}

// New builds the services for cfg. It fails fast when a configured backend
// cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, ids: uuid.New()}
	for _, opt := range opts {
		opt(a)
	}

	fc := cfg.FetchConfig()
	if err := fc.Validate(); err != nil {
		return nil, fmt.Errorf("validate fetch config: %w", err)
	}
	if a.transport == nil {
		a.transport = collyfetcher.New(collyfetcher.Config{
			ConnectTimeout: fc.ConnectTimeout,
			ReadTimeout:    fc.ReadTimeout,
			TotalTimeout:   fc.TotalTimeout,
			MaxBodyBytes:   fc.MaxBodyBytes,
		})
	}
	if a.policy == nil {
		a.policy = robots.New(logger,
			robots.WithTimeout(fc.RobotsTimeout),
			robots.WithDelayAgent(fc.UserAgents[0]),
		)
	}
	limits := ratelimit.Config{DefaultRPS: fc.PerHostRPS, DefaultBurst: 1}
	if delays, ok := a.policy.(ratelimit.DelaySource); ok && fc.ObeyPolicy {
		limits.Delays = delays
	}
	f, err := fetcher.NewRetrying(fc, a.transport,
		fetcher.WithPolicy(a.policy),
		fetcher.WithHostLimiter(ratelimit.New(limits)),
		fetcher.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}
	a.fetcher = f

	if a.publisher == nil && cfg.Publish.Topic != "" {
		pub, err := pubsub.Dial(ctx, cfg.Publish.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("initialize publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub)
		logger.Info("publishing run summaries", zap.String("topic", cfg.Publish.Topic))
	}

	if a.storage == nil && cfg.Output.Kind == config.OutputCSV && sink.IsGCSPath(cfg.Output.Path) {
		client, err := storage.NewClient(ctx)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		a.storage = client
		a.closers = append(a.closers, client)
	}

	if cfg.Metrics.ListenAddr != "" {
		a.metrics = metrics.NewServer(cfg.Metrics.ListenAddr, logger)
		if _, err := a.metrics.Start(); err != nil {
			a.metrics = nil
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Search runs one query against the configured targets and writes rows to
// the configured output.
func (a *App) Search(ctx context.Context, query string) (crawler.RunSummary, error) {
	// Invalid input must not truncate the previous output.
	if _, err := pipeline.SanitizeQuery(query, a.cfg.Search.MaxQueryLength); err != nil {
		return crawler.RunSummary{}, err
	}
	runID, err := a.ids.NewID()
	if err != nil {
		return crawler.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := a.logger.With(zap.String("run_id", runID))

	out, err := a.openSink(ctx, runID)
	if err != nil {
		return crawler.RunSummary{RunID: runID}, err
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(a.logger),
		pipeline.WithRotator(a.fetcher.Agents()),
		pipeline.WithIDGenerator(uuid.Fixed(runID)),
	}
	if a.publisher != nil {
		opts = append(opts, pipeline.WithPublisher(a.publisher, a.cfg.Publish.Topic))
	}
	p, err := pipeline.New(a.cfg.PipelineConfig(), a.fetcher, opts...)
	if err != nil {
		_ = out.Close()
		return crawler.RunSummary{RunID: runID}, err
	}

	summary, runErr := p.Search(ctx, query, a.cfg.Targets, out)
	if err := out.Close(); err != nil {
		logger.Error("close output", zap.String("kind", a.cfg.Output.Kind), zap.Error(err))
		runErr = errors.Join(runErr, fmt.Errorf("%w: %w", ErrCloseOutput, err))
	}
	return summary, runErr
}

func (a *App) openSink(ctx context.Context, runID string) (crawler.Sink, error) {
	out := a.cfg.Output
	switch out.Kind {
	case config.OutputCSV:
		dst, err := sink.OpenDestination(ctx, out.Path, a.storage)
		if err != nil {
			return nil, fmt.Errorf("open csv output: %w", err)
		}
		s, err := sink.NewCSV(dst)
		if err != nil {
			_ = dst.Close()
			return nil, err
		}
		return s, nil
	case config.OutputSQLite:
		return sink.OpenSQLite(ctx, out.SQLitePath, sink.SQLiteConfig{RunID: runID})
	case config.OutputPostgres:
		return sink.OpenPostgres(ctx, sink.PostgresConfig{
			DSN:   out.PostgresDSN,
			Table: out.PostgresTable,
			RunID: runID,
		})
	case config.OutputNone:
		return &sink.Discard{}, nil
	default:
		return nil, fmt.Errorf("unknown output kind %q", out.Kind)
	}
}

// Close shuts down the services App created.
func (a *App) Close() {
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown", zap.Error(err))
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close service", zap.Error(err))
		}
	}
	a.closers = nil
}

// Package config loads and validates search configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/personsearch/internal/crawler"
	"github.com/JakeFAU/personsearch/internal/extract"
	"github.com/JakeFAU/personsearch/internal/fetcher"
	"github.com/JakeFAU/personsearch/internal/pipeline"
)

// EnvPrefix namespaces environment overrides, e.g. PERSONSEARCH_FETCH_CONCURRENCY.
const EnvPrefix = "PERSONSEARCH"

// Output kinds.
const (
	OutputCSV      = "csv"
	OutputSQLite   = "sqlite"
	OutputPostgres = "postgres"
	OutputNone     = "none"
)

// Config captures every knob of a search run.
type Config struct {
	Fetch   FetchConfig      `mapstructure:"fetch"`
	Search  SearchConfig     `mapstructure:"search"`
	Output  OutputConfig     `mapstructure:"output"`
	Publish PublishConfig    `mapstructure:"publish"`
	Metrics MetricsConfig    `mapstructure:"metrics"`
	Logging LoggingConfig    `mapstructure:"logging"`
	Targets []crawler.Target `mapstructure:"targets"`
}

// FetchConfig governs the retrying fetcher and crawl politeness.
type FetchConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	TotalTimeout   time.Duration `mapstructure:"total_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	UserAgents     []string      `mapstructure:"user_agents"`
	ObeyRobots     bool          `mapstructure:"obey_robots"`
	RateDelay      time.Duration `mapstructure:"rate_delay"`
	PerHostRPS     float64       `mapstructure:"per_host_rps"`
	RobotsTimeout  time.Duration `mapstructure:"robots_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
}

// SearchConfig holds query handling and dispatch options.
type SearchConfig struct {
	Intensive           bool `mapstructure:"intensive"`
	MaxQueryLength      int  `mapstructure:"max_query_length"`
	NormalizeWhitespace bool `mapstructure:"normalize_whitespace"`
	Sequential          bool `mapstructure:"sequential"`
}

// OutputConfig selects where rows go.
type OutputConfig struct {
	Kind          string `mapstructure:"kind"`
	Path          string `mapstructure:"path"`
	SQLitePath    string `mapstructure:"sqlite_path"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	PostgresTable string `mapstructure:"postgres_table"`
}

// PublishConfig enables run summaries on Pub/Sub when Topic is set.
type PublishConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// MetricsConfig exposes Prometheus metrics during a run when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// flagKeys maps CLI flags onto configuration keys.
var flagKeys = map[string]string{
	"concurrency":     "fetch.concurrency",
	"timeout":         "fetch.total_timeout",
	"connect-timeout": "fetch.connect_timeout",
	"read-timeout":    "fetch.read_timeout",
	"retries":         "fetch.max_retries",
	"rate-delay":      "fetch.rate_delay",
	"csv":             "output.path",
	"output":          "output.kind",
	"intensive":       "search.intensive",
	"verbose":         "logging.development",
}

// Load builds a Config from defaults, an optional file, the environment and
// any flags the user changed, in increasing precedence.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := applyFlagOverrides(&cfg, flags); err != nil {
		return Config{}, err
	}
	if len(cfg.Targets) == 0 {
		cfg.Targets = DefaultTargets()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyFlagOverrides handles flags that do not map one-to-one onto a key.
func applyFlagOverrides(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	// User agents contain commas, so they bypass Viper's CSV flag parsing.
	if flags.Changed("ua") {
		agents, err := flags.GetStringArray("ua")
		if err != nil {
			return fmt.Errorf("read --ua: %w", err)
		}
		cfg.Fetch.UserAgents = agents
	}
	if flags.Changed("no-robots") {
		off, err := flags.GetBool("no-robots")
		if err != nil {
			return fmt.Errorf("read --no-robots: %w", err)
		}
		cfg.Fetch.ObeyRobots = !off
	}
	for _, alias := range []string{"intensiva", "intesiva"} {
		if !flags.Changed(alias) {
			continue
		}
		on, err := flags.GetBool(alias)
		if err != nil {
			return fmt.Errorf("read --%s: %w", alias, err)
		}
		cfg.Search.Intensive = cfg.Search.Intensive || on
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("fetch.concurrency", 8)
	v.SetDefault("fetch.connect_timeout", 5*time.Second)
	v.SetDefault("fetch.read_timeout", 10*time.Second)
	v.SetDefault("fetch.total_timeout", 20*time.Second)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("fetch.backoff_base", 500*time.Millisecond)
	v.SetDefault("fetch.user_agents", []string{fetcher.DefaultUserAgent})
	v.SetDefault("fetch.obey_robots", true)
	v.SetDefault("fetch.rate_delay", time.Duration(0))
	v.SetDefault("fetch.per_host_rps", 0.0)
	v.SetDefault("fetch.robots_timeout", 5*time.Second)
	v.SetDefault("fetch.max_body_bytes", 10<<20)
	v.SetDefault("search.intensive", false)
	v.SetDefault("search.max_query_length", pipeline.DefaultMaxQueryLength)
	v.SetDefault("search.normalize_whitespace", true)
	v.SetDefault("search.sequential", false)
	v.SetDefault("output.kind", OutputCSV)
	v.SetDefault("output.path", "results.csv")
	v.SetDefault("output.sqlite_path", "results.db")
	v.SetDefault("output.postgres_table", "search_results")
	v.SetDefault("logging.development", false)
}

// DefaultTargets is the search used when no targets are configured.
func DefaultTargets() []crawler.Target {
	return []crawler.Target{{
		Name:         "PeopleSearchExample",
		URLTemplate:  "https://example.com/search{query}",
		ItemSelector: ".result",
		Fields: map[string]string{
			"title":     ".title",
			"full_name": ".name",
			"username":  ".handle",
			"link":      "a[href]",
			"snippet":   ".summary",
		},
	}}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.FetchConfig().Validate(); err != nil {
		return err
	}
	if c.Fetch.RobotsTimeout <= 0 {
		return fmt.Errorf("fetch.robots_timeout must be > 0")
	}
	if c.Fetch.MaxBodyBytes < 0 {
		return fmt.Errorf("fetch.max_body_bytes must be >= 0")
	}
	if c.Search.MaxQueryLength <= 0 {
		return fmt.Errorf("search.max_query_length must be > 0")
	}
	switch c.Output.Kind {
	case OutputCSV:
		if strings.TrimSpace(c.Output.Path) == "" {
			return fmt.Errorf("output.path is required for csv output")
		}
	case OutputSQLite:
		if strings.TrimSpace(c.Output.SQLitePath) == "" {
			return fmt.Errorf("output.sqlite_path is required for sqlite output")
		}
	case OutputPostgres:
		if c.Output.PostgresDSN == "" {
			return fmt.Errorf("output.postgres_dsn is required for postgres output")
		}
	case OutputNone:
	default:
		return fmt.Errorf("output.kind %q must be one of csv, sqlite, postgres, none", c.Output.Kind)
	}
	if c.Publish.Topic != "" && c.Publish.ProjectID == "" {
		return fmt.Errorf("publish.project_id must be set when publish.topic is set")
	}
	return validateTargets(c.Targets)
}

func validateTargets(targets []crawler.Target) error {
	if len(targets) == 0 {
		return errors.New("at least one target is required")
	}
	seen := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("targets[%d].name is required", i)
		}
		if _, dup := seen[t.Name]; dup {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = struct{}{}
		if !strings.Contains(t.URLTemplate, pipeline.QueryPlaceholder) {
			return fmt.Errorf("target %q: %w: url_template must contain %s",
				t.Name, crawler.ErrInvalidTemplate, pipeline.QueryPlaceholder)
		}
		if _, err := extract.Compile(t); err != nil {
			return err
		}
	}
	return nil
}

// FetchConfig converts the fetch section for the fetcher.
func (c Config) FetchConfig() crawler.FetchConfig {
	return crawler.FetchConfig{
		Concurrency:    c.Fetch.Concurrency,
		ConnectTimeout: c.Fetch.ConnectTimeout,
		ReadTimeout:    c.Fetch.ReadTimeout,
		TotalTimeout:   c.Fetch.TotalTimeout,
		MaxRetries:     c.Fetch.MaxRetries,
		BackoffBase:    c.Fetch.BackoffBase,
		UserAgents:     append([]string(nil), c.Fetch.UserAgents...),
		ObeyPolicy:     c.Fetch.ObeyRobots,
		RateDelay:      c.Fetch.RateDelay,
		PerHostRPS:     c.Fetch.PerHostRPS,
		RobotsTimeout:  c.Fetch.RobotsTimeout,
		MaxBodyBytes:   c.Fetch.MaxBodyBytes,
	}
}

// PipelineConfig converts the search section for the pipeline.
func (c Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		Intensive:           c.Search.Intensive,
		MaxQueryLength:      c.Search.MaxQueryLength,
		Sequential:          c.Search.Sequential,
		NormalizeWhitespace: c.Search.NormalizeWhitespace,
	}
}

package crawler

import (
	"fmt"
	"time"
)

// Columns is the fixed column set every sink projects records onto.
var Columns = []string{"source", "title", "full_name", "username", "link", "snippet"}

// SourceColumn holds the Target name on every Record.
const SourceColumn = "source"

// Target describes one searchable endpoint and how to pull records from its result page.
type Target struct {
	Name         string            `mapstructure:"name" yaml:"name"`
	URLTemplate  string            `mapstructure:"url_template" yaml:"url_template"`
	ItemSelector string            `mapstructure:"item_selector" yaml:"item_selector"`
	Fields       map[string]string `mapstructure:"fields" yaml:"fields"`
}

// FetchConfig carries the network knobs for one pipeline run.
type FetchConfig struct {
	Concurrency    int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	UserAgents     []string
	ObeyPolicy     bool
	RateDelay      time.Duration
	PerHostRPS     float64
	RobotsTimeout  time.Duration
	MaxBodyBytes   int
}

// Validate checks for obviously bad fetch settings.
func (c FetchConfig) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("fetch.concurrency must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must be >= 0")
	}
	if c.BackoffBase < 0 {
		return fmt.Errorf("fetch.backoff_base must be >= 0")
	}
	if c.ConnectTimeout <= 0 || c.ReadTimeout <= 0 || c.TotalTimeout <= 0 {
		return fmt.Errorf("fetch timeouts must be > 0")
	}
	if c.RateDelay < 0 {
		return fmt.Errorf("fetch.rate_delay must be >= 0")
	}
	if c.PerHostRPS < 0 {
		return fmt.Errorf("fetch.per_host_rps must be >= 0")
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("fetch.user_agents must include at least one user agent")
	}
	for _, ua := range c.UserAgents {
		if ua == "" {
			return fmt.Errorf("fetch.user_agents must not contain empty entries")
		}
	}
	return nil
}

// Record is one extracted result row. Fields holds a value for every field the
// Target declares; the map is owned by whoever receives the Record.
type Record struct {
	Source string
	Fields map[string]string
}

// Value returns the named column, treating "source" as the Target name.
func (r Record) Value(column string) string {
	if column == SourceColumn {
		return r.Source
	}
	return r.Fields[column]
}

// Row projects the record onto Columns; missing fields become empty strings.
func (r Record) Row() []string {
	row := make([]string, len(Columns))
	for i, col := range Columns {
		row[i] = r.Value(col)
	}
	return row
}

// OutcomeKind enumerates the terminal results of a logical fetch.
type OutcomeKind int

// Outcome kinds returned by a Fetcher.
const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeDenied
	OutcomeNonHTML
	OutcomeRejected
	OutcomeFailed
	OutcomeCanceled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeDenied:
		return "denied"
	case OutcomeNonHTML:
		return "empty_or_non_html"
	case OutcomeRejected:
		return "rejected"
	case OutcomeFailed:
		return "failed"
	case OutcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// FetchOutcome is the result of one logical fetch. Body is set only for
// OutcomeSuccess; Err carries the last error for Failed, Rejected and Canceled.
type FetchOutcome struct {
	Kind     OutcomeKind
	URL      string
	Body     string
	Err      error
	Attempts int
}

// Succeeded reports whether the outcome carries a usable body.
func (o FetchOutcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}

// TargetSummary reports what one Target contributed to a run.
type TargetSummary struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Outcome string `json:"outcome"`
	Rows    int    `json:"rows"`
	Error   string `json:"error,omitempty"`
}

// RunSummary is published once a run completes.
type RunSummary struct {
	RunID     string          `json:"run_id"`
	Query     string          `json:"query"`
	Rows      int             `json:"rows"`
	ElapsedMs int64           `json:"elapsed_ms"`
	Canceled  bool            `json:"canceled"`
	Targets   []TargetSummary `json:"targets"`
}

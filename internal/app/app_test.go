package app

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/api/option"

	"github.com/JakeFAU/personsearch/internal/config"
	"github.com/JakeFAU/personsearch/internal/crawler"
	"github.com/JakeFAU/personsearch/internal/id/uuid"
	"github.com/JakeFAU/personsearch/internal/publisher/memory"
)

const resultsPage = `<html><body>
<div class="result"><h3 class="title">Ada</h3><span class="name">Ada Lovelace</span>
  <span class="handle">@ada</span><a href="/people/ada">p</a><p class="summary">engines</p></div>
<div class="result"><h3 class="title">Grace</h3><span class="name">Grace Hopper</span>
  <span class="handle">grace</span><a href="/people/grace">p</a><p class="summary">compilers</p></div>
</body></html>`

type searchSite struct {
	server      *httptest.Server
	robotsHits  atomic.Int32
	privateHits atomic.Int32
	flakyHits   atomic.Int32
}

func newSearchSite(t *testing.T) *searchSite {
	t.Helper()
	s := &searchSite{}
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		s.robotsHits.Add(1)
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, resultsPage)
	})
	mux.HandleFunc("/private/search", func(w http.ResponseWriter, _ *http.Request) {
		s.privateHits.Add(1)
		fmt.Fprint(w, resultsPage)
	})
	mux.HandleFunc("/flaky", func(w http.ResponseWriter, _ *http.Request) {
		s.flakyHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	s.server = httptest.NewServer(mux)
	t.Cleanup(s.server.Close)
	return s
}

func (s *searchSite) target(name, path string) crawler.Target {
	return crawler.Target{
		Name:         name,
		URLTemplate:  s.server.URL + path + "?q={query}",
		ItemSelector: ".result",
		Fields: map[string]string{
			"title":     ".title",
			"full_name": ".name",
			"username":  ".handle",
			"link":      "a[href]",
			"snippet":   ".summary",
		},
	}
}

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("", nil)
	require.NoError(t, err)
	cfg.Fetch.Concurrency = 2
	cfg.Fetch.MaxRetries = 1
	cfg.Fetch.BackoffBase = time.Millisecond
	cfg.Fetch.TotalTimeout = 5 * time.Second
	cfg.Output.Path = filepath.Join(t.TempDir(), "out", "results.csv")
	return cfg
}

func TestSearchWritesCSV(t *testing.T) {
	t.Parallel()

	site := newSearchSite(t)
	cfg := baseConfig(t)
	cfg.Targets = []crawler.Target{
		site.target("Public", "/search"),
		site.target("Private", "/private/search"),
		site.target("Flaky", "/flaky"),
	}
	cfg.Publish = config.PublishConfig{ProjectID: "proj", Topic: "search-runs"}
	pub := memory.New()

	a, err := New(context.Background(), cfg, zaptest.NewLogger(t),
		WithPublisher(pub),
		WithIDGenerator(uuid.Fixed("run-42")),
	)
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Search(context.Background(), "Ada Lovelace")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Rows)
	require.Equal(t, "run-42", summary.RunID)

	outcomes := map[string]string{}
	for _, ts := range summary.Targets {
		outcomes[ts.Name] = ts.Outcome
	}
	require.Equal(t, map[string]string{"Public": "success", "Private": "denied", "Flaky": "failed"}, outcomes)
	require.Zero(t, site.privateHits.Load())
	require.Equal(t, int32(1), site.robotsHits.Load())
	require.Equal(t, int32(2), site.flakyHits.Load())

	f, err := os.Open(cfg.Output.Path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, crawler.Columns, rows[0])
	require.Equal(t, []string{"Public", "Ada", "Ada Lovelace", "'@ada", "/people/ada", "engines"}, rows[1])

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Contains(t, string(msgs[0].Data), `"run_id":"run-42"`)
}

func TestSearchWithoutOutput(t *testing.T) {
	t.Parallel()

	site := newSearchSite(t)
	cfg := baseConfig(t)
	cfg.Output.Kind = config.OutputNone
	cfg.Fetch.ObeyRobots = false
	cfg.Targets = []crawler.Target{site.target("Private", "/private/search")}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Search(context.Background(), "Ada")
	require.NoError(t, err)
	require.Equal(t, 2, summary.Rows)
	require.NotEmpty(t, summary.RunID)
	require.Zero(t, site.robotsHits.Load())
	require.NoFileExists(t, cfg.Output.Path)
}

func TestSearchToSQLite(t *testing.T) {
	t.Parallel()

	site := newSearchSite(t)
	cfg := baseConfig(t)
	cfg.Output.Kind = config.OutputSQLite
	cfg.Output.SQLitePath = filepath.Join(t.TempDir(), "results.db")
	cfg.Targets = []crawler.Target{site.target("Public", "/search")}

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	rows, err := a.Search(context.Background(), "Ada")
	require.NoError(t, err)
	require.Equal(t, 2, rows.Rows)
	require.FileExists(t, cfg.Output.SQLitePath)
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	t.Parallel()

	site := newSearchSite(t)
	cfg := baseConfig(t)
	cfg.Targets = []crawler.Target{site.target("Public", "/search")}

	previous := "source,title\nPrevious,run\n"
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.Output.Path), 0o750))
	require.NoError(t, os.WriteFile(cfg.Output.Path, []byte(previous), 0o600))

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Search(context.Background(), "   ")
	require.ErrorIs(t, err, crawler.ErrInvalidQuery)
	require.Zero(t, site.robotsHits.Load())

	got, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	require.Equal(t, previous, string(got), "a rejected query must leave earlier output alone")
}

func TestSearchInterruptedKeepsCloudStorageRows(t *testing.T) {
	t.Parallel()

	var uploads atomic.Int32
	uploaded := make(chan string, 1)
	bucket := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		uploads.Add(1)
		uploaded <- string(body)
		fmt.Fprintln(w, `{"name": "runs/results.csv", "bucket": "exports"}`)
	}))
	t.Cleanup(bucket.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(bucket.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var laterHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, resultsPage)
	})
	mux.HandleFunc("/interrupt", func(w http.ResponseWriter, _ *http.Request) {
		cancel()
		// Answer only after the fetcher has observed the cancellation.
		time.Sleep(200 * time.Millisecond)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, resultsPage)
	})
	mux.HandleFunc("/later", func(w http.ResponseWriter, _ *http.Request) {
		laterHits.Add(1)
		fmt.Fprint(w, resultsPage)
	})
	site := &searchSite{server: httptest.NewServer(mux)}
	t.Cleanup(site.server.Close)

	cfg := baseConfig(t)
	cfg.Fetch.ObeyRobots = false
	cfg.Search.Sequential = true
	cfg.Output.Path = "gs://exports/runs/results.csv"
	cfg.Targets = []crawler.Target{
		site.target("First", "/search"),
		site.target("Interrupted", "/interrupt"),
		site.target("Later", "/later"),
	}

	a, err := New(context.Background(), cfg, nil, WithStorageClient(client))
	require.NoError(t, err)
	defer a.Close()

	summary, err := a.Search(ctx, "Ada")
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrCloseOutput)
	require.Equal(t, 2, summary.Rows)
	require.True(t, summary.Canceled)
	require.Zero(t, laterHits.Load())

	body := <-uploaded
	require.Equal(t, int32(1), uploads.Load())
	require.Contains(t, body, "First,Ada,Ada Lovelace,'@ada,/people/ada,engines")
	require.Contains(t, body, "First,Grace,Grace Hopper,grace,/people/grace,compilers")
	require.NotContains(t, body, "Interrupted,")
}

func TestNewStartsMetricsServer(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Metrics.ListenAddr = "127.0.0.1:0"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, a.metrics)
	a.Close()
}

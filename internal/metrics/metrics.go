// Package metrics exposes Prometheus collectors for the search engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchAttemptsTotal         *prometheus.CounterVec
	fetchOutcomesTotal         *prometheus.CounterVec
	fetchInflight              prometheus.Gauge
	backoffSeconds             prometheus.Histogram
	policyFetchesTotal         *prometheus.CounterVec
	policyDenialsTotal         *prometheus.CounterVec
	rowsWrittenTotal           *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_fetch_attempts_total",
				Help: "Total number of HTTP fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		fetchOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_fetch_outcomes_total",
				Help: "Total number of logical fetches, labeled by terminal outcome.",
			},
			[]string{"outcome"},
		)

		fetchInflight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "search_fetch_inflight",
				Help: "Number of network calls currently holding a concurrency slot.",
			},
		)

		backoffSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "search_fetch_backoff_seconds",
				Help:    "Histogram of backoff sleeps between fetch attempts.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		policyFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_policy_fetches_total",
				Help: "Total number of crawl policy documents fetched, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		policyDenialsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_policy_denials_total",
				Help: "Total number of URLs skipped because the crawl policy denied them.",
			},
			[]string{"site"},
		)

		rowsWrittenTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "search_rows_written_total",
				Help: "Total number of result rows written to the sink, labeled by source.",
			},
			[]string{"source"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "search_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetchAttempt counts one network attempt.
func ObserveFetchAttempt(rawURL, result string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObserveOutcome counts one terminal fetch outcome.
func ObserveOutcome(outcome string) {
	Init()
	fetchOutcomesTotal.WithLabelValues(outcome).Inc()
}

// IncInflight marks a network call as holding a slot.
func IncInflight() {
	Init()
	fetchInflight.Inc()
}

// DecInflight releases the in-flight marker.
func DecInflight() {
	Init()
	fetchInflight.Dec()
}

// ObserveBackoff records one backoff sleep.
func ObserveBackoff(d time.Duration) {
	Init()
	backoffSeconds.Observe(d.Seconds())
}

// ObservePolicyFetch counts one crawl policy document fetch.
func ObservePolicyFetch(rawURL, result string) {
	Init()
	policyFetchesTotal.WithLabelValues(SanitizeSite(rawURL), result).Inc()
}

// ObservePolicyDenial counts a URL skipped by crawl policy.
func ObservePolicyDenial(rawURL string) {
	Init()
	policyDenialsTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveRowWritten counts a row handed to the sink.
func ObserveRowWritten(source string) {
	Init()
	rowsWrittenTotal.WithLabelValues(source).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

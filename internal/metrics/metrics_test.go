package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchAttemptsTotal == nil || fetchOutcomesTotal == nil || rowsWrittenTotal == nil ||
		policyDenialsTotal == nil || httpRequestsTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserversIncrementCounters(t *testing.T) {
	Init()

	attempts := fetchAttemptsTotal.WithLabelValues("observe.example", "retryable_status")
	before := testutil.ToFloat64(attempts)
	ObserveFetchAttempt("https://Observe.example/search?q=x", "retryable_status")
	if got := testutil.ToFloat64(attempts); got != before+1 {
		t.Errorf("expected attempts counter to grow by 1, got %f -> %f", before, got)
	}

	rows := rowsWrittenTotal.WithLabelValues("observe-source")
	before = testutil.ToFloat64(rows)
	ObserveRowWritten("observe-source")
	ObserveRowWritten("observe-source")
	if got := testutil.ToFloat64(rows); got != before+2 {
		t.Errorf("expected rows counter to grow by 2, got %f -> %f", before, got)
	}

	denials := policyDenialsTotal.WithLabelValues("denied.example")
	before = testutil.ToFloat64(denials)
	ObservePolicyDenial("https://denied.example/private")
	if got := testutil.ToFloat64(denials); got != before+1 {
		t.Errorf("expected denial counter to grow by 1, got %f -> %f", before, got)
	}

	ObserveBackoff(250 * time.Millisecond)
	if val := testutil.CollectAndCount(backoffSeconds); val <= 0 {
		t.Errorf("expected backoff histogram to be observed, got %d", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}

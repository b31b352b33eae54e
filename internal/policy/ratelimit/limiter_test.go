package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

type fixedDelays struct {
	delays map[string]time.Duration
	calls  atomic.Int32
}

func (f *fixedDelays) CrawlDelay(_ context.Context, rawURL string) time.Duration {
	f.calls.Add(1)
	return f.delays[hostKey(rawURL)]
}

func TestLimiterWaitThrottlesPerHost(t *testing.T) {
	t.Parallel()

	// 10 RPS with burst 1: one token every 100ms.
	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "second call on the same host should wait")

	start = time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.com/a"))
	require.Less(t, time.Since(start), 50*time.Millisecond, "a different host has its own bucket")
}

func TestLimiterDisabledWhenRateIsZero(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://example.com"))
	}
	require.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonorsCrawlDelay(t *testing.T) {
	t.Parallel()

	delays := &fixedDelays{delays: map[string]time.Duration{"polite.com": 2 * time.Second}}
	l := New(Config{Delays: delays})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://polite.com/a"))
	require.NoError(t, l.Wait(ctx, "https://fast.com/a"))
	require.NoError(t, l.Wait(ctx, "https://fast.com/b"))

	require.Equal(t, rate.Every(2*time.Second), l.Limit("https://polite.com/x"))
	require.Equal(t, rate.Inf, l.Limit("https://fast.com/x"))
	require.Equal(t, int32(2), delays.calls.Load(), "delay is looked up once per host")

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(waitCtx, "https://polite.com/b"), "second request must wait for the crawl delay")
}

func TestLimiterCrawlDelayNeverSpeedsUp(t *testing.T) {
	t.Parallel()

	delays := &fixedDelays{delays: map[string]time.Duration{"example.com": 10 * time.Millisecond}}
	l := New(Config{DefaultRPS: 1, Delays: delays})

	require.NoError(t, l.Wait(context.Background(), "https://example.com/"))
	require.Equal(t, rate.Limit(1), l.Limit("https://example.com/"))
}

func TestLimiterConcurrentFirstSightShareBucket(t *testing.T) {
	t.Parallel()

	delays := &fixedDelays{}
	l := New(Config{DefaultRPS: 1000, DefaultBurst: 10, Delays: delays})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Wait(context.Background(), "https://shared.com/")
		}()
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	require.Len(t, l.hosts, 1)
}

func TestLimiterWaitContextCancel(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestNilLimiterIsNoop(t *testing.T) {
	t.Parallel()

	var l *Limiter
	require.NoError(t, l.Wait(context.Background(), "https://example.com"))
}

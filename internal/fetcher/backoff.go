package fetcher

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

const (
	jitterLow  = 0.7
	jitterSpan = 0.6
)

// Backoff returns the sleep before the attempt following attempt (1-based):
// base * 2^(attempt-1) scaled by 0.7 + 0.6*jitter, with jitter in [0, 1).
func Backoff(base time.Duration, attempt int, jitter float64) time.Duration {
	if base <= 0 || attempt < 1 {
		return 0
	}
	jitter = math.Min(math.Max(jitter, 0), 1)
	delay := float64(base) * math.Pow(2, float64(attempt-1)) * (jitterLow + jitterSpan*jitter)
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

func defaultJitter() float64 {
	return rand.Float64()
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

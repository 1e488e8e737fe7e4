package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"
)

// BackoffPolicy controls the delay between retry attempts. Delays grow
// exponentially from BaseDelay, capped at MaxDelay, with a jitter term so
// concurrent runs do not hammer the same remote source in lockstep.
type BackoffPolicy struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // +/- fraction of the computed delay
}

// DefaultBackoffPolicy returns the policy used when none is configured.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:    500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
}

// Delay returns the backoff before the given attempt (1-based count of
// failures so far), jitter included.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if time.Duration(delay) >= p.MaxDelay {
			delay = float64(p.MaxDelay)
			break
		}
	}
	if p.JitterFactor > 0 {
		jitter := delay * p.JitterFactor
		delay = delay - jitter + rand.Float64()*2*jitter
	}
	if d := time.Duration(delay); d < p.MaxDelay {
		return d
	}
	return p.MaxDelay
}

// RunWithRetry executes op up to maxRetries+1 times, each attempt bounded by
// timeout. A timed-out attempt counts as a failure like any other. After the
// final attempt the last error is returned unchanged, along with the number of
// retries actually consumed. Cancellation of ctx aborts immediately with
// ctx.Err().
func RunWithRetry[T any](ctx context.Context, op func(context.Context) (T, error), maxRetries int, timeout time.Duration, policy BackoffPolicy) (T, int, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := op(attemptCtx)
		cancel()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if attempt == maxRetries {
			break
		}

		delay := policy.Delay(attempt + 1)
		slog.Warn("operation failed, backing off before retry",
			"attempt", attempt+1,
			"max_attempts", maxRetries+1,
			"delay_ms", delay.Milliseconds(),
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, attempt + 1, ctx.Err()
		}
	}
	return zero, maxRetries, lastErr
}

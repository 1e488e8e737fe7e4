package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy() BackoffPolicy {
	return BackoffPolicy{
		BaseDelay:  time.Millisecond,
		MaxDelay:   4 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestRunWithRetrySucceedsFirstAttempt(t *testing.T) {
	v, retries, err := RunWithRetry(context.Background(), func(context.Context) (int, error) {
		return 42, nil
	}, 3, time.Second, fastPolicy())

	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Zero(t, retries)
}

func TestRunWithRetrySucceedsAfterFailures(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	v, retries, err := RunWithRetry(context.Background(), func(context.Context) (string, error) {
		calls++
		if calls <= 2 {
			return "", boom
		}
		return "ok", nil
	}, 2, time.Second, fastPolicy())

	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	// Two failures before success with a budget of two retries.
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, calls)
}

func TestRunWithRetryExhaustsBudget(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	_, retries, err := RunWithRetry(context.Background(), func(context.Context) (int, error) {
		calls++
		return 0, boom
	}, 2, time.Second, fastPolicy())

	// The last error comes back unchanged.
	assert.Same(t, boom, err)
	assert.Equal(t, 2, retries)
	assert.Equal(t, 3, calls)
}

func TestRunWithRetryAttemptTimeout(t *testing.T) {
	_, retries, err := RunWithRetry(context.Background(), func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}, 1, 5*time.Millisecond, fastPolicy())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, retries)
}

func TestRunWithRetryCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	boom := errors.New("boom")

	done := make(chan struct{})
	var err error
	go func() {
		defer close(done)
		_, _, err = RunWithRetry(ctx, func(context.Context) (int, error) {
			return 0, boom
		}, 1000, time.Second, BackoffPolicy{
			BaseDelay:  time.Hour,
			MaxDelay:   time.Hour,
			Multiplier: 1.0,
		})
	}()

	// The operation fails instantly, so the call is parked in backoff.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffPolicyDelayGrowth(t *testing.T) {
	p := BackoffPolicy{
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
		Multiplier: 2.0,
	}

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 400*time.Millisecond, p.Delay(3))
	// Capped at MaxDelay from here on.
	assert.Equal(t, time.Second, p.Delay(5))
	assert.Equal(t, time.Second, p.Delay(50))
}

func TestBackoffPolicyJitterStaysInBounds(t *testing.T) {
	p := BackoffPolicy{
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
	}
	for range 100 {
		d := p.Delay(2)
		assert.GreaterOrEqual(t, d, 160*time.Millisecond)
		assert.LessOrEqual(t, d, 240*time.Millisecond)
	}
}

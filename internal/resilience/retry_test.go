package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
		AttemptTimeout: time.Second,
	}
}

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), DefaultRetryConfig(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewStatusError("openai", 503, "overloaded")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
		calls++
		return NewStatusError("gemini", 429, "rate limited")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "two retries after the first attempt")
	assert.Equal(t, 429, StatusCode(err))
}

func TestDo_FatalStatusNotRetried(t *testing.T) {
	for _, code := range []int{400, 401, 403} {
		var calls int
		err := Do(context.Background(), fastRetry(), func(_ context.Context) error {
			calls++
			return NewStatusError("anthropic", code, "nope")
		})
		require.Error(t, err)
		assert.Equal(t, 1, calls, "status %d must not be retried", code)
	}
}

func TestDo_AttemptTimeoutIsRetried(t *testing.T) {
	cfg := fastRetry()
	cfg.AttemptTimeout = 10 * time.Millisecond

	var calls atomic.Int32
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDo_AttemptTimeoutIgnoringContext(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxAttempts = 1
	cfg.AttemptTimeout = 10 * time.Millisecond

	release := make(chan struct{})
	defer close(release)

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		<-release
		return nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAttemptTimeout))
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	err := Do(ctx, fastRetry(), func(_ context.Context) error {
		calls++
		cancel()
		return NewStatusError("openai", 500, "boom")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_OnRetryCallback(t *testing.T) {
	cfg := fastRetry()
	var attempts []int
	cfg.OnRetry = func(attempt int, delay time.Duration, _ error) {
		attempts = append(attempts, attempt)
		assert.LessOrEqual(t, delay, cfg.MaxBackoff)
	}

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return errors.New("ECONNRESET")
	})
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestDoVal_ReturnsValue(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), fastRetry(), func(_ context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("fetch failed")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", val)
	assert.Equal(t, 2, calls)
}

func TestComputeBackoff(t *testing.T) {
	cfg := RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		JitterFraction: 0.5,
	}

	for attempt, floor := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		d := computeBackoff(attempt, cfg)
		assert.GreaterOrEqual(t, d, floor)
		assert.LessOrEqual(t, d, floor+500*time.Millisecond)
	}

	assert.Equal(t, 10*time.Second, computeBackoff(6, cfg), "capped at MaxBackoff")
}

func TestFromRetryConfig(t *testing.T) {
	cfg := FromRetryConfig(2, 1000, 10000, 60)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, time.Second, cfg.InitialBackoff)
	assert.Equal(t, 10*time.Second, cfg.MaxBackoff)
	assert.Equal(t, time.Minute, cfg.AttemptTimeout)

	cfg = FromRetryConfig(0, 0, 0, 0)
	assert.Equal(t, 1, cfg.MaxAttempts)
	assert.Equal(t, DefaultRetryConfig().AttemptTimeout, cfg.AttemptTimeout)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func quietConfig(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestWithBackoffSucceedsFirstTry(t *testing.T) {
	calls := 0
	result := WithBackoff(context.Background(), quietConfig(3), "test", func() error {
		calls++
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, 1, calls)
}

func TestWithBackoffRetriesRetryableErrors(t *testing.T) {
	calls := 0
	result := WithBackoff(context.Background(), quietConfig(3), "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
}

func TestWithBackoffStopsOnNonRetryable(t *testing.T) {
	calls := 0
	result := WithBackoff(context.Background(), quietConfig(3), "test", func() error {
		calls++
		return errors.New("booking not found")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls, "non-retryable errors must not be retried")
}

func TestWithBackoffExhaustsRetries(t *testing.T) {
	result := WithBackoff(context.Background(), quietConfig(2), "test", func() error {
		return errors.New("timeout")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Error(t, result.LastError)
}

func TestWithBackoffHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := quietConfig(5)
	cfg.BaseDelay = 50 * time.Millisecond

	result := WithBackoff(ctx, cfg, "test", func() error {
		return errors.New("timeout")
	})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestCalculateDelayCapsAtMax(t *testing.T) {
	cfg := Config{BaseDelay: time.Second, MaxDelay: 2 * time.Second, Multiplier: 10}
	delay := calculateDelay(cfg, 5)
	assert.LessOrEqual(t, delay, 2*time.Second)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("503 Service Unavailable")))
	assert.True(t, IsRetryable(errors.New("dial tcp: connection refused")))
	assert.False(t, IsRetryable(errors.New("invalid booking id")))
	assert.False(t, IsRetryable(nil))
}

package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyBackoff(t *testing.T) {
	policy := RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		MaxBackoff:     4 * time.Second,
	}

	require.Zero(t, policy.Backoff(1))

	// doubling with ±25% jitter
	require.InDelta(t, float64(time.Second), float64(policy.Backoff(2)), float64(time.Second)*0.25)
	require.InDelta(t, float64(2*time.Second), float64(policy.Backoff(3)), float64(2*time.Second)*0.25)

	// capped at MaxBackoff before jitter
	for attempt := 4; attempt <= 8; attempt++ {
		backoff := policy.Backoff(attempt)
		require.LessOrEqual(t, backoff, 5*time.Second)
	}
}

func TestRetryWithBackoffSucceedsAfterRecoverableFailures(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}

	calls := 0
	err := RetryWithBackoff(context.Background(), policy, "test_op", func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryWithBackoffNonRetryableFailsImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond}

	calls := 0
	err := RetryWithBackoff(context.Background(), policy, "test_op", func() error {
		calls++
		return errors.New("execution reverted")
	})

	require.Error(t, err)
	require.Contains(t, err.Error(), "non-retryable")
	require.Equal(t, 1, calls)
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}

	calls := 0
	err := RetryWithBackoff(context.Background(), policy, "test_op", func() error {
		calls++
		return errors.New("request timeout")
	})

	require.Error(t, err)
	require.Contains(t, err.Error(), "all 3 attempts failed")
	require.Equal(t, 3, calls)
}

func TestRetryWithBackoffRespectsContext(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, InitialBackoff: time.Minute}

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- RetryWithBackoff(ctx, policy, "test_op", func() error {
			calls++
			return errors.New("request timeout")
		})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryWithBackoffZeroAttempts(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), RetryPolicy{}, "test_op", func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

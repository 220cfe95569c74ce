package rpc

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy describes the batch retry behavior: MaxAttempts attempts with
// exponential backoff starting at InitialBackoff, capped at MaxBackoff.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Backoff computes the backoff duration before the given attempt (1-based),
// doubling per attempt with ±25% jitter.
func (rp RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(rp.InitialBackoff) * math.Pow(2, float64(attempt-2))

	if max := float64(rp.MaxBackoff); rp.MaxBackoff > 0 && backoff > max {
		backoff = max
	}

	jitterRange := backoff * 0.25
	backoff += (rand.Float64() * 2 * jitterRange) - jitterRange

	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// RetryWithBackoff executes fn up to MaxAttempts times, backing off between
// attempts. It respects context cancellation; non-recoverable errors fail
// immediately.
func RetryWithBackoff(ctx context.Context, policy RetryPolicy, operation string, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var lastErr error
	startTime := time.Now()

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !Recoverable(err) {
			return fmt.Errorf("non-retryable error on attempt %d/%d: %w", attempt, policy.MaxAttempts, err)
		}

		if attempt >= policy.MaxAttempts {
			break
		}

		if backoff := policy.Backoff(attempt + 1); backoff > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w",
					attempt, policy.MaxAttempts, ctx.Err())
			}
		}

		RPCRetryInc(operation)
	}

	return fmt.Errorf("all %d attempts failed after %v (last error: %w)",
		policy.MaxAttempts, time.Since(startTime), lastErr)
}

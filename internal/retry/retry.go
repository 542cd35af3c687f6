package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when an operation outlives its own deadline.
var ErrTimeout = errors.New("operation timed out")

type RetryConfig struct {
	MaxAttempts    int
	Delay          time.Duration
	Backoff        bool          // Linear backoff: attempt * Delay
	AttemptTimeout time.Duration // 0 = no per-attempt deadline

	// OnRetry runs after a failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Do calls fn until it succeeds or MaxAttempts is reached. Each attempt gets
// its own deadline when AttemptTimeout is set. Only the value of the
// successful attempt is returned; a timed-out attempt never leaks its result.
func Do[T any](ctx context.Context, config RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		val, err := WithTimeout(ctx, config.AttemptTimeout, fn)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}
		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		delay := config.Delay
		if config.Backoff {
			delay = time.Duration(attempt) * config.Delay
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	if attempts == 1 {
		return zero, lastErr
	}
	return zero, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// WithTimeout runs fn under a deadline of d. It returns ErrTimeout as soon as
// the deadline passes, even if fn has not returned yet. fn keeps running in
// the background until it observes the cancelled context.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
		}
		return zero, ctx.Err()
	}
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryPolicy bounds retries of session-critical catalog calls.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is used when no policy is configured.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, Delay: 500 * time.Millisecond}

// retry calls fn until it succeeds, the policy is exhausted or ctx is done.
func retry[T any](
	ctx context.Context,
	policy RetryPolicy,
	op string,
	fn func(context.Context) (T, error),
) (T, error) {
	attempts := max(policy.Attempts, 1)

	var zero T
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		slog.Warn("catalog call failed",
			"op", op,
			"attempt", attempt,
			"attempts", attempts,
			"error", err,
		)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(policy.Delay):
		}
	}

	return zero, fmt.Errorf("%s: %w: %w", op, ErrRetriesExhausted, lastErr)
}

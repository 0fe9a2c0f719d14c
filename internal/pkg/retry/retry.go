package retry

import (
	"context"
	"fmt"
	"time"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	OnRetry     func(attempt int, err error)
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// Do calls fn until it succeeds or MaxAttempts is reached, sleeping Delay
// between attempts. OnRetry runs after every failed attempt, including the last.
func Do[T any](ctx context.Context, policy Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var lastErr error
	attempts := policy.attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && policy.Delay > 0 {
			select {
			case <-ctx.Done():
				return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(policy.Delay):
			}
		}
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if policy.OnRetry != nil {
			policy.OnRetry(attempt+1, err)
		}
	}
	return result, lastErr
}

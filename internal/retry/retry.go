// Package retry runs an action under a bounded linear retry policy.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

// Linear retries up to Attempts times in total, waiting Delay between
// attempts.
type Linear struct {
	Attempts int
	Delay    time.Duration

	// OnRetry, if set, is called after each failed attempt that will be
	// retried. attempt is 1-based.
	OnRetry func(attempt int, err error)
}

func (p Linear) backoff() goretry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	delay := p.Delay
	if delay <= 0 {
		delay = time.Nanosecond
	}
	return goretry.WithMaxRetries(uint64(attempts-1), goretry.NewConstant(delay))
}

// Do runs action until it succeeds, fails with an error retryable rejects,
// or the attempts are used up. The last error is returned unwrapped. A
// cancelled ctx stops the loop with ctx.Err().
func Do(ctx context.Context, p Linear, retryable func(error) bool, action func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, retryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, action(ctx)
	})
	return err
}

// DoValue is Do for actions that produce a value.
func DoValue[T any](ctx context.Context, p Linear, retryable func(error) bool, action func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	attempts := p.Attempts

	return goretry.DoValue(ctx, p.backoff(), func(ctx context.Context) (T, error) {
		attempt++
		v, err := action(ctx)
		if err == nil {
			return v, nil
		}
		if retryable != nil && !retryable(err) {
			return v, err
		}
		if p.OnRetry != nil && attempt < attempts {
			p.OnRetry(attempt, err)
		}
		return v, goretry.RetryableError(err)
	})
}

package browser

import (
	"context"
	"time"

	"chrome-agent/pkg/apperr"
)

// retryPolicy is the single retry mechanism shared by the interaction
// primitives. Backoff runs between attempts, never after the last one.
type retryPolicy struct {
	maxAttempts int
	backoff     func(attempt int) time.Duration
	retryable   func(error) bool
	sleep       func(time.Duration)
}

func newRetryPolicy(maxAttempts int, backoff func(int) time.Duration) retryPolicy {
	return retryPolicy{
		maxAttempts: maxAttempts,
		backoff:     backoff,
		retryable:   alwaysRetryable,
		sleep:       time.Sleep,
	}
}

func fixedBackoff(delay time.Duration) func(int) time.Duration {
	return func(int) time.Duration {
		return delay
	}
}

// linearBackoff grows the delay with the attempt number: base, 2*base, ...
func linearBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

func alwaysRetryable(error) bool {
	return true
}

// notParamError stops retrying on malformed instructions; re-running a step
// with a missing parameter can never succeed.
func notParamError(err error) bool {
	return !apperr.IsCode(err, apperr.CodeActionParameter)
}

// do runs fn up to maxAttempts times, passing the 1-based attempt number.
// Returns nil on the first success, the last error otherwise.
func (p retryPolicy) do(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}

			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if p.retryable != nil && !p.retryable(lastErr) {
			return lastErr
		}

		if attempt < p.maxAttempts && p.backoff != nil {
			p.sleep(p.backoff(attempt))
		}
	}

	return lastErr
}

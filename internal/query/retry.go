package query

import (
	"context"
	"time"
)

// RetryPolicy bounds an operation to a fixed attempt budget with a fresh
// per-attempt timeout. Callers branch on the returned error instead of
// catching anything; the last attempt's error wins.
type RetryPolicy struct {
	Attempts int
	Timeout  time.Duration
}

func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		err := op(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
	}
	return lastErr
}

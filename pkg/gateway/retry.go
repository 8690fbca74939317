package gateway

import (
	"context"
	"errors"
	"time"
)

// Policy bounds the retry loop around one upstream call.
type Policy struct {
	MaxRetries int           // retries after the first attempt, e.g. 3
	BaseDelay  time.Duration // first wait; doubles per retry (2s → 4s → 8s)

	// OnRetry is an optional hook for logging/metrics.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// do runs fn until it succeeds, fails with a non-retryable classification,
// or spends MaxRetries retries. An explicit loop, never recursion, so the
// policy stays testable and stack depth stays flat.
func do(ctx context.Context, p Policy, fn func() error) error {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 2 * time.Second
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return classifyErr("retry", err)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		var ge *Error
		if !errors.As(err, &ge) || !ge.Category.Retryable() {
			return err
		}
		if attempt == p.MaxRetries {
			return lastErr
		}

		wait := p.BaseDelay << attempt
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return classifyErr("retry", ctx.Err())
		case <-timer.C:
		}
	}
}

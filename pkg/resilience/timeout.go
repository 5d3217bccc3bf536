package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout bounds one attempt of fn, typically a single broker write
// inside Retry, so a stuck call cannot use up the whole retry budget. fn runs
// under a context that expires after timeout. If fn has not returned by then,
// WithTimeout returns an error wrapping context.DeadlineExceeded without
// waiting for it. Cancelling ctx returns its error instead. A timeout of zero
// or less runs fn under ctx directly.
func WithTimeout(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// buffered: a late fn must not block once nobody is listening
	done := make(chan error, 1)
	go func() {
		done <- fn(attemptCtx)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out after %v: %w", op, timeout, err)
		}
		return err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s abandoned: %w", op, err)
		}
		return fmt.Errorf("%s timed out after %v: %w", op, timeout, context.DeadlineExceeded)
	}
}

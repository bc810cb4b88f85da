package appointment

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type retryPolicy struct {
	attempts int
	backoff  time.Duration
}

// do runs op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. Business errors are never retried.
func (p retryPolicy) do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.attempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt >= attempts {
			return fmt.Errorf("%w after %d attempts: %v", ErrStoreUnavailable, attempt, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, ctx.Err())
		case <-time.After(p.backoff * time.Duration(attempt)):
		}
	}
}

// IsTransient reports store failures that are safe to retry: the request
// never reached the server, so repeating it cannot double-apply.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

package migrations

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// retrier retries a migration operation against transient Postgres errors
// (lock contention, connection resets) — the same class of failure
// internal/database/postgres.RetryExecutor guards the adapter pool against.
type retrier struct {
	logger     *slog.Logger
	maxRetries int
	delay      time.Duration
}

func newRetrier(logger *slog.Logger, maxRetries int, delay time.Duration) *retrier {
	return &retrier{logger: logger, maxRetries: maxRetries, delay: delay}
}

func (r *retrier) run(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			r.logger.Info("retrying migration operation", "attempt", attempt)
		}

		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		r.logger.Warn("migration operation failed, will retry", "error", lastErr)
	}
	return lastErr
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"deadlock",
		"lock wait timeout",
		"could not serialize access",
		"too many connections",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

package odb

import (
	"context"
	"errors"
	log "log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retry executes task with Fibonacci backoff. Errors for which ShouldRetry reports true are
// retried up to retryCount times; any other error stops the loop and is returned as is.
func Retry(ctx context.Context, retryCount int, baseDelay time.Duration, task func(ctx context.Context) error) error {
	if baseDelay <= 0 {
		baseDelay = 10 * time.Millisecond
	}
	if retryCount < 0 {
		retryCount = 0
	}
	b := retry.WithMaxRetries(uint64(retryCount), retry.NewFibonacci(baseDelay))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := task(ctx); err != nil {
			if ShouldRetry(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil && ShouldRetry(err) {
		log.Warn(err.Error() + ", gave up")
	}
	return err
}

// ShouldRetry reports whether the error is retryable (non-nil and not a known permanent failure).
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code == StorageFailure || oe.Code == Unknown
	}
	return true
}

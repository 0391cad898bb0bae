package engine

import (
	"context"
	"time"

	"github.com/chainguard-dev/clog"
)

type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

var defaultStoreRetry = RetryConfig{MaxRetries: 3, BaseBackoff: 50 * time.Millisecond, MaxBackoff: time.Second}

// retryWithBackoff calls fn until it succeeds, returns an error that
// isRetryable rejects, or runs out of attempts.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, operation string, isRetryable func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		if isRetryable == nil || !isRetryable(lastErr) || attempt >= cfg.MaxRetries {
			return lastErr
		}

		backoff := min(cfg.BaseBackoff<<attempt, cfg.MaxBackoff)
		clog.FromContext(ctx).With("operation", operation).
			With("attempt", attempt+1).
			With("backoff", backoff).
			With("error", lastErr.Error()).
			Warn("storage busy, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return lastErr
}

package rpc

import (
	"context"
	"log/slog"
	"time"
)

type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
}

// calculateBackoff returns baseDelay*2^attempt: 1s, 2s, 4s, 8s... for a 1s base.
func calculateBackoff(attempt int, baseDelay time.Duration) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	return baseDelay * time.Duration(uint(1)<<uint(attempt))
}

// retryWithBackoff retries operation on transient/rate-limit failures with
// exponential backoff; permanent failures and context cancellation return
// immediately.
func retryWithBackoff(ctx context.Context, cfg *retryConfig, operation func() error, logger *slog.Logger, name string) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		class := classify(err)
		logger.Warn("node rpc call failed",
			"operation", name,
			"attempt", attempt+1,
			"class", class.String(),
			"error", err.Error(),
		)

		if class == classPermanent {
			return err
		}
		if attempt >= cfg.maxRetries {
			return err
		}

		delay := calculateBackoff(attempt, cfg.baseDelay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// Package retry applies bounded fixed-delay retries to fallible operations.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy bounds a retried operation: MaxAttempts total invocations with a
// fixed Delay between them.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do invokes op until it succeeds or the policy is exhausted, then returns
// the last error. Each failed attempt short of the limit logs a warning and
// sleeps the fixed delay; the delay is interrupted by context cancellation.
func Do(ctx context.Context, policy Policy, logger *zap.Logger, name string, op func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt < policy.MaxAttempts {
			logger.Warn("operation failed, retrying",
				zap.String("op", name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", policy.MaxAttempts),
				zap.Duration("delay", policy.Delay),
				zap.Error(lastErr),
			)
			if !pause(ctx, policy.Delay) {
				return lastErr
			}
		}
	}
	return lastErr
}

// pause sleeps for delay unless the context finishes first. It reports
// whether the full delay elapsed.
func pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

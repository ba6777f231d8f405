package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the parameters for the retry strategy shared by every
// scraper and the geocoder.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means uncapped
	Logger      *Logger
}

// Do executes fn with exponential back-off retry logic.
func (r *RetryConfig) Do(operationName string, fn func() error) error {
	return r.DoContext(context.Background(), operationName, func(context.Context) error {
		return fn()
	})
}

// DoContext is Do with cancellation: a cancelled ctx stops both the wait
// between attempts and any further attempts.
func (r *RetryConfig) DoContext(ctx context.Context, operationName string, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == attempts {
			break
		}

		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, attempts, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s cancelled after %d attempts: %w", operationName, attempt, lastErr)
		case <-timer.C:
		}

		delay *= 2
		if r.MaxDelay > 0 && delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// Backoff returns the wait before retry number attempt (1-based), following
// the same doubling schedule as DoContext. Callbacks that cannot block inside
// DoContext, such as colly's OnError, use it to space their own retries.
func (r *RetryConfig) Backoff(attempt int) time.Duration {
	delay := r.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if r.MaxDelay > 0 && delay > r.MaxDelay {
			return r.MaxDelay
		}
	}
	return delay
}

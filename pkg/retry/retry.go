package retry

import (
	"context"
	"time"

	"github.com/ikkim/cartsync/pkg/logger"
)

// Operation is a fallible unit of work executed under retry.
type Operation func(ctx context.Context) error

// Config controls the retry schedule.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultConfig returns the standard schedule: 3 attempts, 1s base delay.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Backoff returns the delay to wait before the given 1-indexed attempt.
// The first attempt runs immediately; attempt n>1 waits BaseDelay * 2^(n-2).
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	return c.BaseDelay << (attempt - 2)
}

// Do runs op until it succeeds, attempts are exhausted, or ctx is cancelled.
// The last error is returned once attempts run out.
func Do(ctx context.Context, cfg Config, op Operation) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if delay := cfg.Backoff(attempt); delay > 0 {
			logger.Debug("Backing off before retry", map[string]interface{}{
				"attempt": attempt,
				"delay":   delay.String(),
			})
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		logger.Warn("Operation attempt failed", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": cfg.MaxAttempts,
			"error":        lastErr.Error(),
		})
	}

	return lastErr
}

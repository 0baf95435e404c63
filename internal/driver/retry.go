package driver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

// RetryExhaustedError is returned when an update kept losing the version
// race until it ran out of attempts. The update can be retried later.
type RetryExhaustedError struct {
	Family   string
	EntityID string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s %s: gave up after %d attempts: %v", e.Family, e.EntityID, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may run the update again.
func (e *RetryExhaustedError) Retryable() bool {
	return true
}

// calculateBackoff computes the backoff duration for a given attempt with jitter.
func calculateBackoff(attempt int, cfg *config.RetryConfig) time.Duration {
	if attempt <= 1 {
		return 0
	}

	backoff := float64(cfg.InitialBackoff.Duration) * math.Pow(cfg.BackoffMultiplier, float64(attempt-2))
	if backoff > float64(cfg.MaxBackoff.Duration) {
		backoff = float64(cfg.MaxBackoff.Duration)
	}

	// Add jitter (±25%)
	jitterRange := backoff * 0.25
	jitter := (rand.Float64() * 2 * jitterRange) - jitterRange //nolint:gosec
	backoff += jitter
	if backoff < 0 {
		backoff = 0
	}

	return time.Duration(backoff)
}

// withOptimisticRetry runs one read-fold-write cycle per attempt until it
// stops returning reduce.ErrWriteConflict. Any other error ends the loop.
// Each attempt must re-read the entity it writes.
func withOptimisticRetry(
	ctx context.Context,
	cfg *config.RetryConfig,
	family, id string,
	onConflict func(attempt int, err error),
	fn func(attempt int) error,
) error {
	attempts := 1
	if cfg != nil && cfg.MaxAttempts > 1 {
		attempts = cfg.MaxAttempts
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context cancelled before attempt %d: %w", attempt, err)
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, reduce.ErrWriteConflict) {
			return err
		}

		lastErr = err
		if onConflict != nil {
			onConflict(attempt, err)
		}
		if attempt == attempts {
			break
		}

		if cfg != nil {
			if backoff := calculateBackoff(attempt+1, cfg); backoff > 0 {
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return fmt.Errorf("context cancelled during backoff (attempt %d/%d): %w", attempt, attempts, ctx.Err())
				}
			}
		}
	}

	return &RetryExhaustedError{Family: family, EntityID: id, Attempts: attempts, Err: lastErr}
}

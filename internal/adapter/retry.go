package adapter

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls the exponential backoff every adapter call is
// wrapped in. The teacher's ConnectWithRetry (internal/service/speech/connection.go)
// retries with a linear i+1 second delay; this generalizes that shape into
// real exponential backoff with the base/cap/attempts the spec requires.
type RetryConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// DefaultRetryConfig matches the spec: base 1s, cap 8s, at most 3 attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{BaseDelay: time.Second, MaxDelay: 8 * time.Second, MaxAttempts: 3}
}

// WithRetry calls fn, retrying only on TransientProviderError with
// exponential backoff. A PermanentInputError (or any other error) is
// returned immediately without retrying. Cancellation via ctx is observed
// between attempts and during the backoff sleep.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		var transient *TransientProviderError
		if !errors.As(err, &transient) {
			return err
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

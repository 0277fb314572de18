package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrAborted wraps a non-retryable failure: the retry driver stopped early
// because repeating the call could not succeed (e.g., invalid credentials).
var ErrAborted = errors.New("non-retryable error")

// RetryConfig tunes a [Retry] loop. Zero-value fields take defaults matching
// the transcription pipeline policy: 3 attempts, 2 s base delay, doubling.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first.
	MaxAttempts int

	// BaseDelay is the sleep before the second attempt. Each further
	// attempt doubles it (2 s, 4 s, 8 s, …).
	BaseDelay time.Duration

	// Retryable reports whether err is worth retrying. A nil func retries
	// every error. When it returns false, Retry stops immediately and
	// returns the error wrapped in [ErrAborted].
	Retryable func(err error) bool

	// Name is a label used in log messages.
	Name string
}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff between
// attempts. Backoff sleeps honour ctx; cancelling the context ends the loop
// with ctx.Err(). The last error is returned once attempts are exhausted.
//
// Each Retry call owns its backoff timer; concurrent loops for different
// assets never block each other.
func Retry[R any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (R, error)) (R, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}

	var (
		zero    R
		lastErr error
	)
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, errors.Join(ErrAborted, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Warn("attempt failed, backing off",
			"name", cfg.Name,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
		delay *= 2
	}
	return zero, lastErr
}

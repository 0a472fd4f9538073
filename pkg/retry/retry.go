// Package retry provides retry logic with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts int           // Maximum number of attempts (0 = infinite)
	InitialWait time.Duration // Initial wait time
	MaxWait     time.Duration // Maximum wait time
	Multiplier  float64       // Backoff multiplier
	Jitter      float64       // Jitter factor (0-1)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     10 * time.Second,
		Multiplier:  2.0,
		Jitter:      0.1,
	}
}

// RetryableError wraps an error that should be retried.
type RetryableError struct {
	Err error
}

func (e RetryableError) Error() string {
	return e.Err.Error()
}

func (e RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error should be retried.
func IsRetryable(err error) bool {
	var retryable RetryableError
	return errors.As(err, &retryable)
}

// Retryable wraps an error to mark it as retryable.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err}
}

// Backoff returns an exponential backoff policy for cfg. The policy never
// gives up on elapsed time; MaxAttempts bounds it instead.
func Backoff(cfg Config) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialWait > 0 {
		b.InitialInterval = cfg.InitialWait
	}
	if cfg.MaxWait > 0 {
		b.MaxInterval = cfg.MaxWait
	}
	if cfg.Multiplier >= 1 {
		b.Multiplier = cfg.Multiplier
	}
	b.RandomizationFactor = cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()

	if cfg.MaxAttempts > 0 {
		return backoff.WithMaxRetries(b, uint64(cfg.MaxAttempts-1))
	}
	return b
}

// Do executes fn with retries. Only errors wrapped with Retryable are
// retried; anything else is returned immediately.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes fn with retries and returns a result.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	op := func() (T, error) {
		r, err := fn()
		if err != nil && !IsRetryable(err) {
			return r, backoff.Permanent(err)
		}
		return r, err
	}
	return backoff.RetryWithData(op, backoff.WithContext(Backoff(cfg), ctx))
}

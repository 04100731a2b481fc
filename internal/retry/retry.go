// Package retry restarts failing operations with exponential backoff.
//
// The supervisor uses it to rebind a port listener that died on a bind or
// accept error:
//
//	err := retry.Do(ctx, retry.Config{
//	    MaxRetries:     5,
//	    InitialBackoff: time.Second,
//	    MaxBackoff:     30 * time.Second,
//	}, func(attempt int) error {
//	    return listener.Run(ctx)
//	}, nil)
//
// The wait before attempt n (n >= 1) is InitialBackoff * 2^(n-1), capped at
// MaxBackoff, plus a jitter share that grows with n.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
type Config struct {
	// MaxRetries is the maximum number of calls to fn. Values below 1 are
	// treated as 1.
	MaxRetries int

	// InitialBackoff is the wait before the second call.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to backoff*Jitter extra wait on the last attempt (0.0 to 1.0).
	Jitter float64

	// OnRetry, if set, is called with the failed attempt number, its error,
	// and the wait before the next call.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// ShouldRetryFunc reports whether err should trigger another attempt.
// A nil ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it returns nil, shouldRetry rejects its error, the
// attempts run out, or ctx is done. fn receives the zero-based attempt
// number.
//
// When the attempts run out the returned error wraps the last error from fn.
// When ctx ends during a wait, ctx.Err() is returned.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error, shouldRetry ShouldRetryFunc) error {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := Backoff(cfg, attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt-1, lastErr, wait)
			}

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", maxRetries, lastErr)
}

// Backoff returns the wait before the given attempt (attempt >= 1).
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	backoff := time.Duration(math.Pow(2, float64(attempt-1)) * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		backoff += time.Duration(float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries))
	}

	return backoff
}

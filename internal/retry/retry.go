// Package retry runs remote operations with exponential backoff. Only errors
// classified as retryable are retried; anything else stops immediately.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/promptsync/internal/syncerr"
)

// Policy configures the backoff schedule. The delay before attempt n+1 is
// min(BaseDelay * Multiplier^(n-1), MaxDelay).
type Policy struct {
	// MaxRetries is the total number of attempts.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultPolicy is used for remote calls when nothing else is configured.
var DefaultPolicy = Policy{
	MaxRetries: 3,
	BaseDelay:  time.Second,
	MaxDelay:   30 * time.Second,
	Multiplier: 2,
}

// WithDefaults fills unset fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultPolicy.MaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultPolicy.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultPolicy.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	p.MaxDelay = max(p.MaxDelay, p.BaseDelay)
	return p
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements the error interface
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, fails with a non-retryable error, the attempts
// are exhausted or ctx is done. Non-retryable errors are returned unchanged.
func Do[T any](ctx context.Context, name string, p Policy, op func(context.Context) (T, error)) (T, error) {
	p = p.WithDefaults()
	attempts := 0

	operation := func() (T, error) {
		attempts++
		v, err := op(ctx)
		if err != nil && !syncerr.IsRetryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(p.MaxRetries)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Debug("Retrying remote operation",
				"operation", name,
				"attempt", attempts,
				"next_delay", next,
				"error", err)
		}),
	)
	if err == nil {
		return v, nil
	}
	if ctx.Err() == nil && attempts >= p.MaxRetries && syncerr.IsRetryable(err) {
		return v, &ExhaustedError{Attempts: attempts, Err: err}
	}
	return v, err
}

// Run is Do for operations without a result.
func Run(ctx context.Context, name string, p Policy, op func(context.Context) error) error {
	_, err := Do(ctx, name, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

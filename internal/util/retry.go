package util

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// BackoffPolicy describes bounded exponential backoff with jitter. All call
// sites that retry the rendering proxy share one policy value instead of
// hand-rolling sleep loops.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the delay randomized in each direction,
	// e.g. 0.2 yields delays in [0.8d, 1.2d].
	Jitter float64
}

// DefaultBackoff is the 1s/2s/4s progression with a cap.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    15 * time.Second,
		Jitter:      0.2,
	}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks an error as non-retryable; Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Delay returns the backoff delay for a 0-indexed attempt, jittered.
func (b BackoffPolicy) Delay(attempt int) time.Duration {
	d := b.BaseDelay << uint(attempt)
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	if b.Jitter > 0 {
		spread := (rand.Float64()*2 - 1) * b.Jitter
		d = time.Duration(float64(d) * (1 + spread))
	}
	return d
}

// Retry calls fn up to MaxAttempts times, sleeping between attempts. fn
// receives the current attempt number (0-indexed). A Permanent error or a
// cancelled context stops retries immediately.
func (b BackoffPolicy) Retry(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return perm.err
		}

		if attempt == b.MaxAttempts-1 {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Delay(attempt)):
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", b.MaxAttempts, lastErr)
}

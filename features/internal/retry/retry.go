// Package retry provides the bounded backoff loop backend adapters use
// around transient store failures. Adapters give up after a few attempts and
// return the last error; callers translate it into a node or execution error.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	maxAttempts = 3
	baseDelay   = 50 * time.Millisecond
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable. Do returns the wrapped error
// immediately instead of attempting again. Use it for not-found and
// validation failures that more attempts cannot fix.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do invokes fn up to three times with doubling delay between attempts. It
// stops early on success, on a Permanent error, or when ctx is done, and
// returns the last error observed.
func Do(ctx context.Context, fn func(context.Context) error) error {
	var err error
	delay := baseDelay
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			delay *= 2
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}

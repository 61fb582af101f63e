// Package retry runs an operation under an attempt budget with a pluggable
// backoff schedule.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls how Do repeats a failing operation.
//
// Attempts is the total number of tries (values below 1 mean one try).
// Backoff returns the wait after the given failed attempt; attempts are
// numbered from 1. Retryable, when set, stops the loop early for errors it
// rejects. OnRetry is called before each wait.
type Policy struct {
	Attempts  int
	Backoff   func(attempt int, err error) time.Duration
	Retryable func(err error) bool
	OnRetry   func(attempt int, err error)
	Sleep     func(ctx context.Context, d time.Duration) error
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Fixed waits d between attempts.
func Fixed(d time.Duration) func(int, error) time.Duration {
	return func(int, error) time.Duration { return d }
}

// Exponential waits base*2^attempt after the given attempt.
func Exponential(base time.Duration) func(int, error) time.Duration {
	return func(attempt int, _ error) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		if attempt > 30 {
			attempt = 30
		}
		return base << uint(attempt)
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do calls fn until it succeeds, the policy gives up or ctx is cancelled.
// fn receives the 1-based attempt number. No wait happens after the last try.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// DoValue is Do for operations returning a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return zero, fmt.Errorf("%w (last error: %v)", err, last)
			}
			return zero, err
		}
		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		last = err
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return zero, err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return zero, err
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, fmt.Errorf("%w (last error: %v)", err, last)
		}
	}
	return zero, &ExhaustedError{Attempts: attempts, Last: last}
}

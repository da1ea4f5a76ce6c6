package infra

import (
	"context"
	"errors"
	"time"
)

// ErrRetry marks an error as worth another attempt.
var ErrRetry = errors.New("retry")

// Backoff blocks until the next attempt may start.
//
// It returns ctx.Err() if ctx is done first.
type Backoff func(context.Context) error

// ExponentialBackoff waits initialInterval, then multiplies the wait by r
// after every call.
func ExponentialBackoff(initialInterval time.Duration, r float64) Backoff {
	interval := initialInterval
	return func(ctx context.Context) error {
		timer := time.NewTimer(interval)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			interval = time.Duration(float64(interval) * r)
			return nil
		}
	}
}

// Bounded calls f up to 1+retries times. Only errors wrapping ErrRetry are
// retried; the backoff runs before each retry, never before the first call.
// onRetry, if non-nil, is told about each failed attempt that will be retried.
func Bounded[T any](
	ctx context.Context,
	retries int,
	b Backoff,
	onRetry func(attempt int, err error),
	f func() (T, error),
) (T, error) {
	attempt := 0
	for {
		value, err := f()
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, ErrRetry) || attempt >= retries {
			return value, err
		}
		attempt++
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if berr := b(ctx); berr != nil {
			return value, berr
		}
	}
}

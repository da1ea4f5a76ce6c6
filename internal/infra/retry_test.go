package infra

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(context.Context) error { return nil }

func TestBounded(t *testing.T) {
	t.Run("returns the first success", func(t *testing.T) {
		calls := 0
		v, err := Bounded(context.Background(), 3, noWait, nil, func() (int, error) {
			calls++
			if calls < 3 {
				return 0, fmt.Errorf("flaky: %w", ErrRetry)
			}
			return 42, nil
		})

		require.NoError(t, err)
		assert.Equal(t, 42, v)
		assert.Equal(t, 3, calls)
	})

	t.Run("non-retryable errors return immediately", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		_, err := Bounded(context.Background(), 3, noWait, nil, func() (int, error) {
			calls++
			return 0, boom
		})

		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after the retry budget and reports each retry", func(t *testing.T) {
		var attempts []int
		calls := 0
		_, err := Bounded(context.Background(), 2, noWait,
			func(attempt int, err error) { attempts = append(attempts, attempt) },
			func() (int, error) {
				calls++
				return 0, fmt.Errorf("still down: %w", ErrRetry)
			})

		assert.ErrorIs(t, err, ErrRetry)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []int{1, 2}, attempts)
	})

	t.Run("zero retries means a single attempt", func(t *testing.T) {
		calls := 0
		_, err := Bounded(context.Background(), 0, noWait, nil, func() (int, error) {
			calls++
			return 0, ErrRetry
		})

		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("backoff failure ends the loop", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := Bounded(ctx, 5, ExponentialBackoff(time.Hour, 2), nil, func() (int, error) {
			return 0, ErrRetry
		})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("waits at least the initial interval", func(t *testing.T) {
		b := ExponentialBackoff(5*time.Millisecond, 2)

		start := time.Now()
		require.NoError(t, b(context.Background()))
		require.NoError(t, b(context.Background()))

		assert.GreaterOrEqual(t, time.Since(start), 15*time.Millisecond)
	})
}

package quake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(3, time.Millisecond, 4*time.Millisecond)
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return errors.New("transient")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
}

func TestRetrySucceedsMidway(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(3, time.Millisecond, 4*time.Millisecond)
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryDoesNotRetryCancellation(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(5, time.Millisecond, 4*time.Millisecond)
	calls := 0
	err := Retry(context.Background(), policy, func() error {
		calls++
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	policy := NewRetryPolicy(10, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 0; attempt < 8; attempt++ {
		d := policy.Backoff(attempt)
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

package trader

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsMidway(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}
	permanent := errors.New("permanent")

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return permanent
	})
	require.ErrorIs(t, err, permanent)
	require.Equal(t, 3, calls)
}

func TestRetryStopsOnCancel(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, Delay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func() error {
			calls++
			return errors.New("transient")
		})
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
		require.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryTreatsZeroAttemptsAsOne(t *testing.T) {
	policy := RetryPolicy{}

	calls := 0
	err := policy.Do(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

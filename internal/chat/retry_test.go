package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, FixedBackoff(0), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryRecoversAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, FixedBackoff(0), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("attempt %d failed", calls)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, FixedBackoff(0), func() error {
		calls++
		return fmt.Errorf("attempt %d failed", calls)
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "attempt 3")
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, 5, FixedBackoff(time.Hour), func() error {
		calls++
		cancel()
		return fmt.Errorf("failed")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no further attempts once the context ends")
}

func TestLinearBackoff(t *testing.T) {
	b := LinearBackoff(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 300*time.Millisecond, b(3))
}

func TestFixedBackoff(t *testing.T) {
	b := FixedBackoff(time.Second)
	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, time.Second, b(7))
}

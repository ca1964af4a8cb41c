package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosslock/swapcore/pkg/escrow"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "create", func() error {
		calls++
		if calls < 3 {
			return escrow.MarkRetryable("create", errors.New("timeout"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryNeverRetriesRejections(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "withdraw", func() error {
		calls++
		return escrow.MarkRejected("withdraw", "commitment mismatch")
	})
	assert.True(t, escrow.IsRejected(err))
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustion(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "create", func() error {
		calls++
		return escrow.MarkRetryable("create", errors.New("timeout"))
	})

	var ex *ExhaustedError
	require.ErrorAs(t, err, &ex)
	assert.Equal(t, 3, ex.Attempts)
	assert.Equal(t, 3, calls)
	assert.True(t, escrow.IsRetryable(errors.Unwrap(err)))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Minute, MaxBackoff: time.Minute}.
		Do(ctx, "create", func() error {
			return escrow.MarkRetryable("create", errors.New("timeout"))
		})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 10*time.Millisecond)

	assert.True(t, cb.Allow())
	cb.Failure()
	assert.True(t, cb.Allow())
	cb.Failure()

	// Threshold reached: open.
	assert.False(t, cb.Allow())
	assert.True(t, escrow.IsRetryable(cb.Err()))

	// After the reset timeout it half-opens, then closes on success.
	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.Allow())
	cb.Success()
	assert.True(t, cb.Allow())
}

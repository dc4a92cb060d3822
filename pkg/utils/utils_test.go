package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageID_Unique(t *testing.T) {
	a, b := NewMessageID(), NewMessageID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestLockTokenFromDeliveryTag(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, id, LockTokenFromDeliveryTag(id[:]))

	short := []byte{1, 2, 3}
	assert.Equal(t, LockTokenFromDeliveryTag(short), LockTokenFromDeliveryTag(short))
	assert.NotEqual(t, LockTokenFromDeliveryTag(short), LockTokenFromDeliveryTag([]byte{3, 2, 1}))
}

func TestRetry(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), cfg, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		sentinel := errors.New("still broken")
		err := Retry(context.Background(), cfg, func() error { return sentinel })
		assert.ErrorIs(t, err, sentinel)
	})

	t.Run("non retryable stops immediately", func(t *testing.T) {
		calls := 0
		c := cfg
		c.ShouldRetry = func(error) bool { return false }
		_ = Retry(context.Background(), c, func() error {
			calls++
			return errors.New("permanent")
		})
		assert.Equal(t, 1, calls)
	})

	t.Run("honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, cfg, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCalculateDelay_Capped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 250 * time.Millisecond, Multiplier: 2}
	assert.Equal(t, 100*time.Millisecond, calculateDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, calculateDelay(cfg, 1))
	assert.Equal(t, 250*time.Millisecond, calculateDelay(cfg, 2))
}

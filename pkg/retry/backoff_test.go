package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
}

func TestWithBackoffSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(5), zaptest.NewLogger(t), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffGivesUp(t *testing.T) {
	cause := errors.New("still down")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(3), zaptest.NewLogger(t), "op", func() error {
		calls++
		return cause
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 3, calls)
}

func TestWithBackoffStopsOnPermanent(t *testing.T) {
	cause := errors.New("bad input")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(5), zaptest.NewLogger(t), "op", func() error {
		calls++
		return Permanent(cause)
	})
	assert.Same(t, cause, err)
	assert.Equal(t, 1, calls)
	assert.False(t, IsPermanent(err))
	assert.True(t, IsPermanent(Permanent(cause)))
	assert.NoError(t, Permanent(nil))
}

func TestWithBackoffStopsOnWrappedPermanent(t *testing.T) {
	cause := errors.New("duplicate key")
	calls := 0
	err := WithBackoff(context.Background(), fastConfig(5), zaptest.NewLogger(t), "op", func() error {
		calls++
		return fmt.Errorf("write height 3: %w", Permanent(cause))
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "write height 3")
}

func TestWithBackoffHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := WithBackoff(ctx, fastConfig(5), zaptest.NewLogger(t), "op", func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestZeroRetriesStillRunsOnce(t *testing.T) {
	calls := 0
	_ = WithBackoff(context.Background(), Config{}, zaptest.NewLogger(t), "op", func() error {
		calls++
		return errors.New("x")
	})
	assert.Equal(t, 1, calls)
}

func TestCalculateBackoffCapsAtMaxDelay(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, MaxDelay: 4 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateBackoff(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateBackoff(cfg, 2))
	assert.Equal(t, 4*time.Second, calculateBackoff(cfg, 5))
}

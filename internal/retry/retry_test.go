package retry

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3, Backoff: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := Policy{MaxAttempts: 3, Backoff: time.Millisecond}.Do(context.Background(), func(context.Context) error {
		calls++
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	p := Policy{
		MaxAttempts: 5,
		Backoff:     time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}

	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return permanent
	})

	assert.Equal(t, permanent, err)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	err := Policy{}.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Policy{MaxAttempts: 10, Backoff: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})

	assert.ErrorIs(t, err, errTransient)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestExponential(t *testing.T) {
	tests := []struct {
		base    time.Duration
		attempt int
		want    time.Duration
	}{
		{time.Second, 0, time.Second},
		{time.Second, 3, 8 * time.Second},
		{time.Second, -1, time.Second},
		{0, 5, 0},
		{time.Hour, 100, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Exponential(tt.base, tt.attempt))
	}
}

func TestFullJitter(t *testing.T) {
	assert.Zero(t, FullJitter(0))
	for i := 0; i < 100; i++ {
		d := FullJitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.Less(t, d, 10*time.Millisecond)
	}
}

func TestDoExponentialBackoffGrows(t *testing.T) {
	var gaps []time.Duration
	last := time.Now()

	err := Policy{MaxAttempts: 4, Backoff: 5 * time.Millisecond, Exponential: true}.Do(context.Background(), func(context.Context) error {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		return errTransient
	})

	require.Error(t, err)
	require.Len(t, gaps, 4)
	// pauses of 5ms, 10ms and 20ms precede attempts two to four
	assert.GreaterOrEqual(t, gaps[1], 5*time.Millisecond)
	assert.GreaterOrEqual(t, gaps[2], 10*time.Millisecond)
	assert.GreaterOrEqual(t, gaps[3], 20*time.Millisecond)
}

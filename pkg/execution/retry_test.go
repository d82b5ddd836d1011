package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 8*time.Second, p.Delay(3))
	assert.Equal(t, 16*time.Second, p.Delay(4))

	p.MaxDelay = 5 * time.Second
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 5*time.Second, p.Delay(3))
}

func TestRetryPolicyDelayOverflow(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 100, BaseDelay: time.Second}
	assert.Positive(t, p.Delay(80))
}

func TestRetryExhaustsExactAttempts(t *testing.T) {
	clock := newFakeClock()
	boom := errors.New("connection reset")

	calls := 0
	retries, err := DefaultRetryPolicy().Do(context.Background(), clock.Sleep, func(ctx context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, calls)
	assert.Equal(t, 4, retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, clock.Sleeps())
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	clock := newFakeClock()

	calls := 0
	retries, err := DefaultRetryPolicy().Do(context.Background(), clock.Sleep, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("timeout")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 2, retries)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, clock.Sleeps())
}

func TestRetryPermanentStopsImmediately(t *testing.T) {
	clock := newFakeClock()
	rejected := errors.New("rejected")

	calls := 0
	_, err := DefaultRetryPolicy().Do(context.Background(), clock.Sleep, func(ctx context.Context) error {
		calls++
		return Permanent(rejected)
	})

	assert.ErrorIs(t, err, rejected)
	assert.NotErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 1, calls)
	assert.Empty(t, clock.Sleeps())
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := DefaultRetryPolicy().Do(ctx, blockingSleep, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("unavailable")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRetrySingleAttempt(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 0, BaseDelay: time.Second}

	calls := 0
	retries, err := p.Do(context.Background(), newFakeClock().Sleep, func(ctx context.Context) error {
		calls++
		return errors.New("down")
	})

	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, retries)
}

func TestPermanentNil(t *testing.T) {
	assert.NoError(t, Permanent(nil))
}

func TestSleepContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepContext(ctx, time.Hour), context.Canceled)
	assert.NoError(t, SleepContext(context.Background(), time.Millisecond))
}

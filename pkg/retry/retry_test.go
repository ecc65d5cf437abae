package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func recordSleeps(delays *[]time.Duration) Option {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return ctx.Err()
	})
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var delays []time.Duration
	calls := 0

	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errFlaky)
		}
		return nil
	}, WithMaxAttempts(5), WithSchedule(time.Second, 2*time.Second, 5*time.Second), recordSleeps(&delays))

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestDo_ScheduleRepeatsLastStep(t *testing.T) {
	var delays []time.Duration

	err := Do(context.Background(), func(ctx context.Context) error {
		return Retryable(errFlaky)
	}, WithMaxAttempts(5), WithSchedule(time.Second, 2*time.Second), recordSleeps(&delays))

	assert.ErrorIs(t, err, errFlaky)
	assert.False(t, IsRetryable(err), "marker is stripped")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second, 2 * time.Second}, delays)
}

func TestDo_UnmarkedErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	}, WithMaxAttempts(5))

	assert.Equal(t, errFlaky, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIf(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errFlaky
	}, WithMaxAttempts(3), WithRetryIf(func(err error) bool { return errors.Is(err, errFlaky) }),
		WithSleep(func(context.Context, time.Duration) error { return nil }))

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 3, calls)
}

func TestDo_CancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0

	err := Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return Retryable(errFlaky)
	}, WithMaxAttempts(4), WithSchedule(time.Hour))

	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDelay_Exponential(t *testing.T) {
	r := New(WithInitialDelay(100*time.Millisecond), WithMaxDelay(time.Second), WithMultiplier(2), WithJitter(0))

	assert.Equal(t, 100*time.Millisecond, r.Delay(1))
	assert.Equal(t, 200*time.Millisecond, r.Delay(2))
	assert.Equal(t, 400*time.Millisecond, r.Delay(3))
	assert.Equal(t, time.Second, r.Delay(10))
}

func TestPushRetrier(t *testing.T) {
	r := PushRetrier()
	assert.Equal(t, 4, r.MaxAttempts())
	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 5*time.Second, r.Delay(3))
}

func TestDoWithData(t *testing.T) {
	calls := 0
	r := New(WithMaxAttempts(2), WithSleep(func(context.Context, time.Duration) error { return nil }))

	got, err := DoWithData(context.Background(), r, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errFlaky)
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func fast(opts ...Option) []Option {
	return append([]Option{WithInitialDelay(time.Millisecond), WithMaxDelay(2 * time.Millisecond), WithJitter(0)}, opts...)
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Retryable(errBusy)
		}
		return nil
	}, fast(WithMaxAttempts(5))...)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	calls := 0
	var retries []int
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Retryable(errBusy)
	}, fast(WithMaxAttempts(3), WithOnRetry(func(attempt int, err error, d time.Duration) {
		retries = append(retries, attempt)
	}))...)

	assert.Equal(t, errBusy, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBusy
	}, fast(WithMaxAttempts(5))...)

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Permanent(errBusy)
	}, fast(WithMaxAttempts(5), WithRetryIf(func(error) bool { return true }))...)

	assert.Equal(t, errBusy, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetryIf(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errBusy
	}, fast(WithMaxAttempts(4), WithRetryIf(func(err error) bool { return errors.Is(err, errBusy) }))...)

	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 4, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, func(ctx context.Context) error {
		t.Fatal("operation must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoWithData(t *testing.T) {
	calls := 0
	v, err := DoWithData(context.Background(), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, Retryable(errBusy)
		}
		return 42, nil
	}, fast()...)

	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestLockRetrier_Attempts(t *testing.T) {
	r := LockRetrier(100*time.Millisecond, func(error) bool { return true })
	assert.Equal(t, 5, r.config.MaxAttempts)

	r = LockRetrier(0, func(error) bool { return true })
	assert.Equal(t, 2, r.config.MaxAttempts)
}

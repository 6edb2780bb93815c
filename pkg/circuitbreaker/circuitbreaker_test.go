package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

var errDown = errors.New("redis down")

func fail(context.Context) error { return errDown }
func ok(context.Context) error   { return nil }

func TestBreaker_OpensAfterThresholdAndRecovers(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	var transitions []string
	b := New(Config{
		Name:             "ledger-cache",
		FailureThreshold: 2,
		Cooldown:         10 * time.Second,
		Clock:            clock.Now,
		OnStateChange: func(_ string, from, to State) {
			transitions = append(transitions, from.String()+">"+to.String())
		},
	})
	ctx := context.Background()

	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateClosed, b.State())
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	called := false
	err := b.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)

	clock.Advance(10 * time.Second)
	require.NoError(t, b.Execute(ctx, ok))
	assert.Equal(t, StateClosed, b.State())

	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
	assert.Equal(t, Counts{Successes: 1, Failures: 2, Rejected: 1}, b.Counts())
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 1, Cooldown: time.Second, Clock: clock.Now})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	require.Equal(t, StateOpen, b.State())

	clock.Advance(time.Second)
	assert.ErrorIs(t, b.Execute(ctx, fail), errDown)
	assert.Equal(t, StateOpen, b.State())

	// The cooldown restarts from the failed trial call.
	clock.Advance(500 * time.Millisecond)
	assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
}

func TestBreaker_SingleTrialWhileHalfOpen(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	b := New(Config{FailureThreshold: 1, Cooldown: time.Second, Clock: clock.Now})
	ctx := context.Background()

	_ = b.Execute(ctx, fail)
	clock.Advance(time.Second)

	err := b.Execute(ctx, func(ctx context.Context) error {
		// A concurrent caller is rejected while the trial call runs.
		assert.ErrorIs(t, b.Execute(ctx, ok), ErrOpen)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_CancellationIsNotAFailure(t *testing.T) {
	b := New(Config{FailureThreshold: 1})
	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, b.State())
}

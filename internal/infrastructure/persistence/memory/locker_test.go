package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

func TestLocker_SerializesPerUser(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLocker(0)
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(ctx, "u1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Equal(t, 0, l.Len())
}

func TestLocker_IndependentUsers(t *testing.T) {
	l := NewLocker(50 * time.Millisecond)
	ctx := context.Background()

	r1, err := l.Acquire(ctx, "u1")
	require.NoError(t, err)
	defer r1()

	r2, err := l.Acquire(ctx, "u2")
	require.NoError(t, err)
	r2()
}

func TestLocker_WaitBudget(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := NewLocker(20 * time.Millisecond)
	ctx := context.Background()

	release, err := l.Acquire(ctx, "u1")
	require.NoError(t, err)

	_, err = l.Acquire(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrLockNotAcquired)

	release()
	release() // second call is a no-op
	assert.Equal(t, 0, l.Len())

	again, err := l.Acquire(ctx, "u1")
	require.NoError(t, err)
	again()
}

func TestLocker_ContextCanceled(t *testing.T) {
	l := NewLocker(0)

	release, err := l.Acquire(context.Background(), "u1")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, "u1")
	assert.ErrorIs(t, err, context.Canceled)
}

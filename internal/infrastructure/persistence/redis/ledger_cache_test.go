package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/circuitbreaker"
)

// unreachable returns a cache whose every command fails fast.
func unreachable(t *testing.T) *Cache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheWithClient(client)
}

func TestLedgerCache_BreakerTurnsOutageIntoMisses(t *testing.T) {
	ctx := context.Background()
	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
		IsFailure:        IsCacheFailure,
	})
	c := NewLedgerCache(unreachable(t)).WithBreaker(breaker)
	userID := shared.UserID("u1")

	for i := 0; i < 2; i++ {
		_, err := c.Get(ctx, userID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, progress.ErrCacheMiss)
	}
	require.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err := c.Get(ctx, userID)
	assert.ErrorIs(t, err, progress.ErrCacheMiss)

	stored, err := c.SetIfAbsent(ctx, progress.Ledger{UserID: userID}, time.Minute)
	assert.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, int64(2), breaker.Counts().Rejected)

	// A write-through that the breaker rejects falls back to deleting the
	// key, and deletes bypass the breaker.
	assert.Error(t, c.Set(ctx, progress.Ledger{UserID: userID}, time.Minute))
	assert.Equal(t, int64(3), breaker.Counts().Rejected)
	assert.Error(t, c.Invalidate(ctx, userID))
}

func TestIsCacheFailure(t *testing.T) {
	assert.False(t, IsCacheFailure(nil))
	assert.False(t, IsCacheFailure(progress.ErrCacheMiss))
	assert.False(t, IsCacheFailure(context.Canceled))
	assert.True(t, IsCacheFailure(redis.ErrClosed))
}

func TestLedgerKey(t *testing.T) {
	assert.Equal(t, PrefixLedger+"u1", LedgerKey("u1"))
}

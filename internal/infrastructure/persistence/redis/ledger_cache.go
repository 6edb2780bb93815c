package redis

import (
	"context"
	"errors"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/circuitbreaker"
)

// LedgerCache implements progress.LedgerCache on the generic Cache.
type LedgerCache struct {
	cache *Cache

	// breaker - optional; while open, reads miss and writes are skipped.
	breaker *circuitbreaker.Breaker
}

// NewLedgerCache creates a new LedgerCache.
func NewLedgerCache(cache *Cache) *LedgerCache {
	return &LedgerCache{cache: cache}
}

// WithBreaker stops the cache from adding Redis timeouts to every request
// while Redis is unreachable.
func (c *LedgerCache) WithBreaker(b *circuitbreaker.Breaker) *LedgerCache {
	c.breaker = b
	return c
}

var _ progress.LedgerCache = (*LedgerCache)(nil)

// IsCacheFailure reports whether err means Redis is unhealthy. Misses and
// cancelled requests are not failures.
func IsCacheFailure(err error) bool {
	return err != nil && !errors.Is(err, progress.ErrCacheMiss) && !errors.Is(err, context.Canceled)
}

// NewLedgerCacheBreaker returns the breaker used in front of the ledger cache.
func NewLedgerCacheBreaker(cooldown time.Duration, onChange func(name string, from, to circuitbreaker.State)) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		Name:             "ledger-cache",
		FailureThreshold: 5,
		Cooldown:         cooldown,
		IsFailure:        IsCacheFailure,
		OnStateChange:    onChange,
	})
}

func (c *LedgerCache) guard(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

// Get returns the cached ledger, or progress.ErrCacheMiss.
func (c *LedgerCache) Get(ctx context.Context, userID shared.UserID) (progress.Ledger, error) {
	var l progress.Ledger
	err := c.guard(ctx, func(ctx context.Context) error {
		err := c.cache.Get(ctx, LedgerKey(userID.String()), &l)
		if errors.Is(err, ErrCacheMiss) {
			// A miss is a healthy answer.
			return progress.ErrCacheMiss
		}
		return err
	})
	switch {
	case err == nil:
		return l, nil
	case errors.Is(err, circuitbreaker.ErrOpen):
		return progress.Ledger{}, progress.ErrCacheMiss
	default:
		return progress.Ledger{}, err
	}
}

// Set caches a ledger. While the breaker is open the entry is deleted instead,
// so an older ledger cannot outlive the outage.
func (c *LedgerCache) Set(ctx context.Context, l progress.Ledger, ttl time.Duration) error {
	err := c.guard(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, LedgerKey(l.UserID.String()), l, ttl)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return c.Invalidate(ctx, l.UserID)
	}
	return err
}

// SetIfAbsent caches a ledger with SET NX. It stores nothing while the
// breaker is open.
func (c *LedgerCache) SetIfAbsent(ctx context.Context, l progress.Ledger, ttl time.Duration) (bool, error) {
	var stored bool
	err := c.guard(ctx, func(ctx context.Context) error {
		var err error
		stored, err = c.cache.SetNX(ctx, LedgerKey(l.UserID.String()), l, ttl)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false, nil
	}
	return stored, err
}

// Invalidate drops the cached ledger. It always reaches Redis: a skipped
// invalidation would leave a stale entry behind once Redis recovers.
func (c *LedgerCache) Invalidate(ctx context.Context, userID shared.UserID) error {
	return c.cache.Delete(ctx, LedgerKey(userID.String()))
}

// InvalidateAll drops every cached ledger.
func (c *LedgerCache) InvalidateAll(ctx context.Context) (int, error) {
	return c.cache.DeleteByPattern(ctx, PrefixLedger+"*")
}

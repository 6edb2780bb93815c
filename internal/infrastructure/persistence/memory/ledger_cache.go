package memory

import (
	"context"
	"sync"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

type cachedLedger struct {
	ledger    progress.Ledger
	expiresAt time.Time
}

// LedgerCache implements progress.LedgerCache in process memory.
type LedgerCache struct {
	mu      sync.RWMutex
	entries map[shared.UserID]cachedLedger
	now     func() time.Time
}

// NewLedgerCache creates an empty cache.
func NewLedgerCache() *LedgerCache {
	return &LedgerCache{entries: make(map[shared.UserID]cachedLedger), now: time.Now}
}

var _ progress.LedgerCache = (*LedgerCache)(nil)

func (e cachedLedger) live(now time.Time) bool {
	return e.expiresAt.IsZero() || !now.After(e.expiresAt)
}

func (c *LedgerCache) entry(l progress.Ledger, ttl time.Duration) cachedLedger {
	e := cachedLedger{ledger: l}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	return e
}

func (c *LedgerCache) Get(_ context.Context, userID shared.UserID) (progress.Ledger, error) {
	c.mu.RLock()
	e, ok := c.entries[userID]
	c.mu.RUnlock()

	if !ok || !e.live(c.now()) {
		return progress.Ledger{}, progress.ErrCacheMiss
	}
	return e.ledger, nil
}

// Set stores a ledger. A zero ttl never expires.
func (c *LedgerCache) Set(_ context.Context, l progress.Ledger, ttl time.Duration) error {
	e := c.entry(l, ttl)

	c.mu.Lock()
	c.entries[l.UserID] = e
	c.mu.Unlock()
	return nil
}

// SetIfAbsent stores a ledger unless a live entry exists.
func (c *LedgerCache) SetIfAbsent(_ context.Context, l progress.Ledger, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[l.UserID]; ok && e.live(c.now()) {
		return false, nil
	}
	c.entries[l.UserID] = c.entry(l, ttl)
	return true, nil
}

func (c *LedgerCache) Invalidate(_ context.Context, userID shared.UserID) error {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
	return nil
}

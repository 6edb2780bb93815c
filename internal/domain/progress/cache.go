package progress

import (
	"context"
	"errors"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// ErrCacheMiss is returned by a LedgerCache that holds no entry for a user.
var ErrCacheMiss = errors.New("progress: ledger cache miss")

// LedgerCache is a read-through cache of stored ledgers. It is never the
// source of truth. Writers Set the committed ledger while holding the user
// lock; readers only fill with SetIfAbsent, so a ledger read before a commit
// cannot replace the one written after it.
type LedgerCache interface {
	Get(ctx context.Context, userID shared.UserID) (Ledger, error)
	Set(ctx context.Context, l Ledger, ttl time.Duration) error
	// SetIfAbsent stores l only when the user has no live entry and reports
	// whether it did.
	SetIfAbsent(ctx context.Context, l Ledger, ttl time.Duration) (bool, error)
	Invalidate(ctx context.Context, userID shared.UserID) error
}

// Locker serializes reward application per user.
type Locker interface {
	// Acquire blocks until the user's lock is held or ctx ends. It returns
	// shared.ErrLockNotAcquired when the wait budget runs out.
	Acquire(ctx context.Context, userID shared.UserID) (release func(), err error)
}

// ChainLockers returns a Locker that takes every lock in order and releases
// them in reverse. Nil lockers are skipped.
func ChainLockers(lockers ...Locker) Locker {
	var chain chainLocker
	for _, l := range lockers {
		if l != nil {
			chain = append(chain, l)
		}
	}
	return chain
}

type chainLocker []Locker

func (c chainLocker) Acquire(ctx context.Context, userID shared.UserID) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, l := range c {
		release, err := l.Acquire(ctx, userID)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}

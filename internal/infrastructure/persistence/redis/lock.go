package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
	"github.com/habitverse/habitverse-core/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// DISTRIBUTED LOCK
// ══════════════════════════════════════════════════════════════════════════════

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockConfig tunes the per-user lock.
type LockConfig struct {
	// TTL - how long a lock survives a crashed holder.
	TTL time.Duration

	// Wait - how long Acquire polls before giving up.
	Wait time.Duration
}

// UserLocker implements progress.Locker with SET NX PX and a token-checked
// release, so every instance of the service shares one lock per user.
type UserLocker struct {
	cache  *Cache
	config LockConfig
	log    *logger.Logger
}

// NewUserLocker creates a distributed per-user locker.
func NewUserLocker(cache *Cache, cfg LockConfig, log *logger.Logger) *UserLocker {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 2 * time.Second
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &UserLocker{cache: cache, config: cfg, log: log.Named("redis_lock")}
}

var _ progress.Locker = (*UserLocker)(nil)

// Acquire takes lock:ledger:<user>, polling until Wait elapses.
func (l *UserLocker) Acquire(ctx context.Context, userID shared.UserID) (func(), error) {
	key := LockKey(LedgerKey(userID.String()))
	token := uuid.NewString()

	r := retry.LockRetrier(l.config.Wait, func(err error) bool {
		return errors.Is(err, shared.ErrLockNotAcquired)
	})
	err := r.Do(ctx, func(ctx context.Context) error {
		ok, err := l.cache.Client().SetNX(ctx, key, token, l.config.TTL).Result()
		if err != nil {
			return retry.Permanent(fmt.Errorf("lock %s: %w", key, err))
		}
		if !ok {
			return shared.ErrLockNotAcquired
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	release := func() {
		// Release must succeed even when the caller's context is done.
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.cache.Client(), []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release lock", logger.String("key", key), logger.Err(err))
		}
	}
	return release, nil
}

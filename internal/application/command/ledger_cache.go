package command

import (
	"context"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ledgerCacheWriter keeps the ledger cache in step with committed writes.
// Callers must still hold the user lock, so writes for one user land in
// commit order.
type ledgerCacheWriter struct {
	cache progress.LedgerCache

	// ttl - 0 drops the entry instead of replacing it.
	ttl time.Duration

	log *logger.Logger
}

// write replaces the cached ledger with the committed one. When that fails the
// entry is dropped so readers go back to the store.
func (w ledgerCacheWriter) write(ctx context.Context, l progress.Ledger) {
	if w.cache == nil {
		return
	}
	if w.ttl > 0 {
		err := w.cache.Set(ctx, l, w.ttl)
		if err == nil {
			return
		}
		w.log.Warn("failed to write ledger cache", logger.UserID(l.UserID.String()), logger.Err(err))
	}
	if err := w.cache.Invalidate(ctx, l.UserID); err != nil {
		w.log.Warn("failed to invalidate ledger cache", logger.UserID(l.UserID.String()), logger.Err(err))
	}
}

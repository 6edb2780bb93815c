package command

import (
	"context"
	"fmt"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
	"github.com/habitverse/habitverse-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPIRE STREAKS COMMAND
// Resets streaks of users who missed a whole local day. Runs daily.
// ══════════════════════════════════════════════════════════════════════════════

// ExpireStreaksCommand contains the parameters of one expiry sweep.
type ExpireStreaksCommand struct {
	// Now is the sweep time (defaults to the handler clock).
	Now time.Time

	// BatchSize is how many streaks are loaded per page.
	BatchSize int

	CorrelationID string
}

// Validate validates the command.
func (c ExpireStreaksCommand) Validate() error {
	if c.BatchSize < 0 {
		return shared.NewDomainError("progress", "ExpireStreaks", shared.ErrInvalidInput, "batch size must not be negative")
	}
	return nil
}

// ExpireStreaksResult contains the sweep totals.
type ExpireStreaksResult struct {
	Checked int
	Expired int
	Failed  int

	// Users whose streak was reset.
	Users []string
}

// ExpireStreaksHandler handles the ExpireStreaksCommand.
type ExpireStreaksHandler struct {
	store     progress.Store
	locker    progress.Locker
	cache     ledgerCacheWriter
	publisher shared.EventPublisher
	location  *time.Location
	now       func() time.Time
	log       *logger.Logger
}

// NewExpireStreaksHandler creates a new ExpireStreaksHandler.
func NewExpireStreaksHandler(
	store progress.Store,
	locker progress.Locker,
	cache progress.LedgerCache,
	publisher shared.EventPublisher,
	loc *time.Location,
	log *logger.Logger,
) *ExpireStreaksHandler {
	if loc == nil {
		loc = time.UTC
	}
	if locker == nil {
		locker = progress.ChainLockers()
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("expire_streaks")
	return &ExpireStreaksHandler{
		store:     store,
		locker:    locker,
		cache:     ledgerCacheWriter{cache: cache, log: log},
		publisher: publisher,
		location:  loc,
		now:       time.Now,
		log:       log,
	}
}

// WithCacheTTL writes expired ledgers through to the cache for ttl instead of
// dropping the cached entry.
func (h *ExpireStreaksHandler) WithCacheTTL(ttl time.Duration) *ExpireStreaksHandler {
	h.cache.ttl = ttl
	return h
}

const defaultSweepBatch = 500

// Handle executes the expiry sweep.
func (h *ExpireStreaksHandler) Handle(ctx context.Context, cmd ExpireStreaksCommand) (*ExpireStreaksResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("expire_streaks: validation failed: %w", err)
	}

	now := cmd.Now
	if now.IsZero() {
		now = h.now()
	}
	batch := cmd.BatchSize
	if batch == 0 {
		batch = defaultSweepBatch
	}

	cutoff := progress.StaleCutoff(now, h.location)
	result := &ExpireStreaksResult{}

	// Paging by user id moves past users that fail, so they cannot hold up
	// the rest of the sweep.
	var after shared.UserID
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		stale, err := h.store.ListStaleStreaks(ctx, cutoff, after, batch)
		if err != nil {
			return result, fmt.Errorf("expire_streaks: failed to list streaks: %w", err)
		}

		for _, s := range stale {
			result.Checked++

			// A streak refreshed since listing is skipped by expireOne.
			expired, err := h.expireOne(ctx, s.UserID, now, cmd.CorrelationID)
			if err != nil {
				result.Failed++
				h.log.Warn("failed to expire streak", logger.UserID(s.UserID.String()), logger.Err(err))
				continue
			}
			if expired {
				result.Expired++
				result.Users = append(result.Users, s.UserID.String())
			}
		}

		if len(stale) < batch {
			break
		}
		after = stale[len(stale)-1].UserID
	}

	if result.Expired > 0 || result.Failed > 0 {
		h.log.Info("streak sweep finished",
			logger.Int("checked", result.Checked),
			logger.Int("expired", result.Expired),
			logger.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (h *ExpireStreaksHandler) expireOne(ctx context.Context, userID shared.UserID, now time.Time, correlationID string) (bool, error) {
	release, err := h.locker.Acquire(ctx, userID)
	if err != nil {
		return false, err
	}
	defer release()

	var (
		before  progress.Streak
		ledger  progress.Ledger
		expired bool
	)

	err = h.store.WithinTx(ctx, func(tx progress.Tx) error {
		expired = false

		st, err := tx.GetStreak(ctx, userID)
		if err != nil {
			return err
		}
		if !st.IsStale(now, h.location) {
			return nil
		}
		before = st
		if err := tx.SaveStreak(ctx, st.Expire()); err != nil {
			return err
		}

		l, err := tx.LockLedger(ctx, userID)
		if err != nil {
			return err
		}
		if l.Streak != 0 {
			l.Streak = 0
			l.UpdatedAt = now.UTC()
			if err := tx.SaveLedger(ctx, l); err != nil {
				return err
			}
		}
		ledger = l
		expired = true
		return nil
	})
	if err != nil || !expired {
		return false, err
	}

	h.cache.write(ctx, ledger)

	missed := timeutil.DaysBetweenIn(before.LastActiveDate, now, h.location) - 1
	ev := shared.NewStreakBrokenEvent(userID.String(), before.Current, max(missed, 1))
	ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
	publishAll(h.publisher, h.log, ev)
	return true, nil
}

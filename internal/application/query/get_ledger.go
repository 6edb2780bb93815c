// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET LEDGER QUERY
// Returns a user's stats with the derived level progress. Reads go through the
// ledger cache; concurrent misses for one user share a single store read.
// ══════════════════════════════════════════════════════════════════════════════

// GetLedgerQuery contains the parameters of a ledger read.
type GetLedgerQuery struct {
	// UserID - owner of the ledger.
	UserID string

	// BypassCache - read straight from the store.
	BypassCache bool
}

// Validate validates the query.
func (q *GetLedgerQuery) Validate() error {
	_, err := shared.NewUserID(q.UserID)
	return err
}

// LedgerView is a ledger with the values derived from it.
type LedgerView struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Stored stats
	// ─────────────────────────────────────────────────────────────────────────

	progress.Ledger

	// ─────────────────────────────────────────────────────────────────────────
	// Derived
	// ─────────────────────────────────────────────────────────────────────────

	// XPToNextLevel - XP missing to leave the current level.
	XPToNextLevel int `json:"xp_to_next_level"`

	// LevelProgressPercent - share of the current level band earned, 0-99.
	LevelProgressPercent int `json:"level_progress_percent"`

	// BestStreak - longest streak ever recorded.
	BestStreak int `json:"best_streak"`

	// Cached - served from the ledger cache.
	Cached bool `json:"-"`
}

// NewLedgerView derives the view of a ledger on a curve.
func NewLedgerView(l progress.Ledger, curve progress.LevelCurve) LedgerView {
	return LedgerView{
		Ledger:               l,
		XPToNextLevel:        curve.XPToNext(l.XP, l.Level),
		LevelProgressPercent: curve.ProgressPercent(l.XP),
	}
}

// GetLedgerHandler handles GetLedgerQuery.
type GetLedgerHandler struct {
	store    progress.Store
	cache    progress.LedgerCache
	curve    progress.LevelCurve
	cacheTTL time.Duration
	group    singleflight.Group
	log      *logger.Logger
}

// NewGetLedgerHandler creates a new GetLedgerHandler. cache may be nil.
func NewGetLedgerHandler(
	store progress.Store,
	cache progress.LedgerCache,
	curve progress.LevelCurve,
	cacheTTL time.Duration,
	log *logger.Logger,
) *GetLedgerHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &GetLedgerHandler{
		store:    store,
		cache:    cache,
		curve:    curve,
		cacheTTL: cacheTTL,
		log:      log.Named("get_ledger"),
	}
}

// Handle executes the query.
func (h *GetLedgerHandler) Handle(ctx context.Context, q GetLedgerQuery) (*LedgerView, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_ledger: validation failed: %w", err)
	}
	userID := shared.UserID(q.UserID)

	if h.cache != nil && !q.BypassCache {
		l, err := h.cache.Get(ctx, userID)
		if err == nil {
			view := NewLedgerView(l, h.curve)
			view.Cached = true
			return h.withStreak(ctx, view), nil
		}
		if !errors.Is(err, progress.ErrCacheMiss) {
			h.log.Warn("ledger cache read failed", logger.UserID(q.UserID), logger.Err(err))
		}
	}

	v, err, _ := h.group.Do(q.UserID, func() (interface{}, error) {
		l, err := h.store.GetLedger(ctx, userID)
		if err != nil {
			return nil, err
		}
		// Only fill an empty slot: a writer that committed after the read
		// above has already cached a newer ledger.
		if h.cache != nil && h.cacheTTL > 0 {
			if _, err := h.cache.SetIfAbsent(ctx, l, h.cacheTTL); err != nil {
				h.log.Warn("ledger cache write failed", logger.UserID(q.UserID), logger.Err(err))
			}
		}
		return l, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get_ledger: %w", err)
	}

	return h.withStreak(ctx, NewLedgerView(v.(progress.Ledger), h.curve)), nil
}

func (h *GetLedgerHandler) withStreak(ctx context.Context, view LedgerView) *LedgerView {
	st, err := h.store.GetStreak(ctx, view.UserID)
	if err != nil {
		h.log.Debug("streak read failed", logger.UserID(view.UserID.String()), logger.Err(err))
		return &view
	}
	view.BestStreak = st.Best
	return &view
}

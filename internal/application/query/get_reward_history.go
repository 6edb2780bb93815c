package query

import (
	"context"
	"fmt"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET REWARD HISTORY QUERY
// ══════════════════════════════════════════════════════════════════════════════

const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// GetRewardHistoryQuery contains the parameters of a history read.
type GetRewardHistoryQuery struct {
	UserID string

	// Limit - number of claims, newest first (default 20, max 100).
	Limit int
}

// Validate validates the query and clamps the limit.
func (q *GetRewardHistoryQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.Limit < 0 {
		return shared.NewDomainError("progress", "GetRewardHistory", shared.ErrNegativeValue, "limit cannot be negative")
	}
	if q.Limit == 0 {
		q.Limit = DefaultHistoryLimit
	}
	if q.Limit > MaxHistoryLimit {
		q.Limit = MaxHistoryLimit
	}
	return nil
}

// RewardHistoryView lists recent claims.
type RewardHistoryView struct {
	UserID string                 `json:"user_id"`
	Claims []progress.RewardClaim `json:"claims"`

	// TotalXP - XP across the listed claims.
	TotalXP int `json:"total_xp"`
}

// GetRewardHistoryHandler handles GetRewardHistoryQuery.
type GetRewardHistoryHandler struct {
	store progress.Store
}

// NewGetRewardHistoryHandler creates a new GetRewardHistoryHandler.
func NewGetRewardHistoryHandler(store progress.Store) *GetRewardHistoryHandler {
	return &GetRewardHistoryHandler{store: store}
}

// Handle executes the query. A user without a ledger is reported as not found.
func (h *GetRewardHistoryHandler) Handle(ctx context.Context, q GetRewardHistoryQuery) (*RewardHistoryView, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_reward_history: validation failed: %w", err)
	}
	userID := shared.UserID(q.UserID)

	if _, err := h.store.GetLedger(ctx, userID); err != nil {
		return nil, fmt.Errorf("get_reward_history: %w", err)
	}

	claims, err := h.store.ListClaims(ctx, userID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("get_reward_history: failed to list claims: %w", err)
	}

	view := &RewardHistoryView{UserID: q.UserID, Claims: claims}
	if view.Claims == nil {
		view.Claims = []progress.RewardClaim{}
	}
	for _, c := range claims {
		view.TotalXP += c.XPGain
	}
	return view, nil
}

package query

import (
	"context"
	"fmt"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET ACHIEVEMENTS QUERY
// Evaluates the catalog against a user's ledger, with recorded unlocks layered
// on top, and summarizes the result.
// ══════════════════════════════════════════════════════════════════════════════

// GetAchievementsQuery contains the parameters of an achievements read.
type GetAchievementsQuery struct {
	UserID string

	// Category - optional filter.
	Category string

	// Rarity - optional filter.
	Rarity string

	// OnlyUnlocked - hide locked entries.
	OnlyUnlocked bool
}

// Validate validates the query and normalizes the filters.
func (q *GetAchievementsQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.Category != "" {
		c, err := progress.ParseCategory(q.Category)
		if err != nil {
			return err
		}
		q.Category = string(c)
	}
	if q.Rarity != "" {
		r, err := progress.ParseRarity(q.Rarity)
		if err != nil {
			return err
		}
		q.Rarity = string(r)
	}
	return nil
}

// AchievementsView is the filtered status list of one user.
type AchievementsView struct {
	UserID string `json:"user_id"`

	// Statuses - filtered, in catalog order.
	Statuses []progress.AchievementStatus `json:"achievements"`

	// Summary - over the whole catalog, not just the filtered entries.
	Summary progress.Summary `json:"summary"`
}

// GetAchievementsHandler handles GetAchievementsQuery.
type GetAchievementsHandler struct {
	store   progress.Store
	catalog progress.Catalog
	flags   *config.FeatureFlags
	log     *logger.Logger
}

// NewGetAchievementsHandler creates a new GetAchievementsHandler.
func NewGetAchievementsHandler(store progress.Store, catalog progress.Catalog, flags *config.FeatureFlags, log *logger.Logger) *GetAchievementsHandler {
	if catalog == nil {
		catalog = progress.DefaultCatalog()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &GetAchievementsHandler{
		store:   store,
		catalog: catalog,
		flags:   flags,
		log:     log.Named("get_achievements"),
	}
}

// Handle executes the query.
func (h *GetAchievementsHandler) Handle(ctx context.Context, q GetAchievementsQuery) (*AchievementsView, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_achievements: validation failed: %w", err)
	}
	userID := shared.UserID(q.UserID)

	l, err := h.store.GetLedger(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get_achievements: %w", err)
	}

	statuses := progress.Evaluate(h.catalog, l)
	if h.flags.IsEnabled(config.FeatureStickyUnlocks, config.ForUser(q.UserID)) {
		unlocks, err := h.store.GetUnlocks(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get_achievements: failed to load unlocks: %w", err)
		}
		statuses = progress.MergeUnlocks(statuses, unlocks)
	}

	filter := progress.StatusFilter{
		Category:     progress.Category(q.Category),
		Rarity:       progress.Rarity(q.Rarity),
		OnlyUnlocked: q.OnlyUnlocked,
	}

	return &AchievementsView{
		UserID:   q.UserID,
		Statuses: filter.Apply(statuses),
		Summary:  progress.Summarize(statuses),
	}, nil
}

package command

import (
	"context"
	"fmt"
	"time"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONCILE ACHIEVEMENTS COMMAND
// Records unlocks that ledgers earned but were never persisted, e.g. after a
// catalog change lowered a threshold or a new achievement was added.
// ══════════════════════════════════════════════════════════════════════════════

// ReconcileAchievementsCommand contains the parameters of one reconcile pass.
type ReconcileAchievementsCommand struct {
	BatchSize     int
	CorrelationID string
}

// Validate validates the command.
func (c ReconcileAchievementsCommand) Validate() error {
	if c.BatchSize < 0 {
		return shared.NewDomainError("progress", "ReconcileAchievements", shared.ErrInvalidInput, "batch size must not be negative")
	}
	return nil
}

// ReconcileAchievementsResult contains the pass totals.
type ReconcileAchievementsResult struct {
	Scanned         int
	UsersUpdated    int
	UnlocksRecorded int
	Failed          int

	// Skipped is true when unlocks are not persisted.
	Skipped bool
}

// ReconcileAchievementsHandler handles the ReconcileAchievementsCommand.
type ReconcileAchievementsHandler struct {
	store     progress.Store
	catalog   progress.Catalog
	publisher shared.EventPublisher
	flags     *config.FeatureFlags
	now       func() time.Time
	log       *logger.Logger
}

// NewReconcileAchievementsHandler creates a new ReconcileAchievementsHandler.
func NewReconcileAchievementsHandler(
	store progress.Store,
	catalog progress.Catalog,
	publisher shared.EventPublisher,
	flags *config.FeatureFlags,
	log *logger.Logger,
) *ReconcileAchievementsHandler {
	if catalog == nil {
		catalog = progress.DefaultCatalog()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &ReconcileAchievementsHandler{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		flags:     flags,
		now:       time.Now,
		log:       log.Named("reconcile_achievements"),
	}
}

// Handle executes the reconcile pass.
func (h *ReconcileAchievementsHandler) Handle(ctx context.Context, cmd ReconcileAchievementsCommand) (*ReconcileAchievementsResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("reconcile_achievements: validation failed: %w", err)
	}

	result := &ReconcileAchievementsResult{}
	if !h.flags.IsEnabled(config.FeatureStickyUnlocks, nil) {
		result.Skipped = true
		return result, nil
	}

	batch := cmd.BatchSize
	if batch == 0 {
		batch = defaultSweepBatch
	}

	var after shared.UserID
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		ledgers, err := h.store.ListLedgers(ctx, after, batch)
		if err != nil {
			return result, fmt.Errorf("reconcile_achievements: failed to list ledgers: %w", err)
		}

		for _, l := range ledgers {
			result.Scanned++
			fresh, err := h.reconcileOne(ctx, l)
			if err != nil {
				result.Failed++
				h.log.Warn("failed to reconcile user", logger.UserID(l.UserID.String()), logger.Err(err))
				continue
			}
			if len(fresh) == 0 {
				continue
			}
			result.UsersUpdated++
			result.UnlocksRecorded += len(fresh)
			h.publishUnlocks(l.UserID, fresh, cmd.CorrelationID)
		}

		if len(ledgers) < batch {
			break
		}
		after = ledgers[len(ledgers)-1].UserID
	}

	if result.UnlocksRecorded > 0 || result.Failed > 0 {
		h.log.Info("reconcile finished",
			logger.Int("scanned", result.Scanned),
			logger.Int("users_updated", result.UsersUpdated),
			logger.Int("unlocks_recorded", result.UnlocksRecorded),
			logger.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (h *ReconcileAchievementsHandler) reconcileOne(ctx context.Context, l progress.Ledger) ([]progress.Unlock, error) {
	now := h.now().UTC()
	var fresh []progress.Unlock

	err := h.store.WithinTx(ctx, func(tx progress.Tx) error {
		// Re-read under the row lock: the listed copy may be stale.
		current, err := tx.LockLedger(ctx, l.UserID)
		if err != nil {
			return err
		}
		existing, err := tx.GetUnlocks(ctx, l.UserID)
		if err != nil {
			return err
		}
		fresh = progress.NewlyUnlocked(l.UserID, progress.Evaluate(h.catalog, current), existing, now)
		if len(fresh) == 0 {
			return nil
		}
		_, err = tx.SaveUnlocks(ctx, fresh)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fresh, nil
}

func (h *ReconcileAchievementsHandler) publishUnlocks(userID shared.UserID, fresh []progress.Unlock, correlationID string) {
	events := make([]shared.Event, 0, len(fresh))
	for _, u := range fresh {
		def, ok := h.catalog.Find(u.AchievementID)
		if !ok {
			continue
		}
		ev := shared.NewAchievementUnlockedEvent(userID.String(), def.ID, def.Title, string(def.Rarity), def.XPReward, u.UnlockedAt)
		ev.BaseEvent = ev.BaseEvent.WithCorrelationID(correlationID)
		events = append(events, ev)
	}
	publishAll(h.publisher, h.log, events...)
}

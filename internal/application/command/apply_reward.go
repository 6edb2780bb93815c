package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/logger"
	"github.com/habitverse/habitverse-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// APPLY REWARD COMMAND
// Pays out XP and coins for a completed task, habit or journal entry, moves
// the streak and records any achievements the new ledger earns. One entity is
// paid at most once.
// ══════════════════════════════════════════════════════════════════════════════

// ApplyRewardCommand contains the data to reward a completed activity.
type ApplyRewardCommand struct {
	// UserID is the owner of the ledger.
	UserID string

	// Kind is the activity kind: task, habit or journal.
	Kind progress.ActivityKind

	// EntityID identifies the completed task, habit or journal entry.
	EntityID string

	// OccurredAt is when the activity was completed (defaults to now).
	OccurredAt time.Time

	// CorrelationID for tracing.
	CorrelationID string
}

// Validate validates the command.
func (c ApplyRewardCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if !c.Kind.IsValid() {
		return shared.NewDomainError("progress", "ApplyReward", shared.ErrInvalidInput,
			fmt.Sprintf("unknown activity kind %q", c.Kind))
	}
	if _, err := shared.NewEntityID(c.EntityID); err != nil {
		return err
	}
	return nil
}

// ApplyRewardResult contains the outcome of a reward.
type ApplyRewardResult struct {
	// Ledger is the stored ledger after the command.
	Ledger progress.Ledger

	// Previous is the ledger before the command.
	Previous progress.Ledger

	// Applied is false when the entity had already been rewarded.
	Applied bool

	// ClaimKey is the idempotency key the reward was recorded under.
	ClaimKey string

	XPGain   int
	CoinGain int

	LeveledUp     bool
	XPToNextLevel int

	// NewUnlocks are achievements first earned by this reward.
	NewUnlocks []progress.AchievementStatus

	StreakExtended bool
	StreakBroken   bool
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ApplyRewardHandler handles the ApplyRewardCommand.
type ApplyRewardHandler struct {
	store     progress.Store
	locker    progress.Locker
	cache     ledgerCacheWriter
	publisher shared.EventPublisher
	flags     *config.FeatureFlags
	log       *logger.Logger

	engine          *progress.Engine
	catalog         progress.Catalog
	location        *time.Location
	habitOncePerDay bool
	now             func() time.Time
}

// ApplyRewardHandlerConfig contains configuration for the handler.
type ApplyRewardHandlerConfig struct {
	Engine   *progress.Engine
	Catalog  progress.Catalog
	Location *time.Location

	// HabitOncePerDay keys habit claims by local day.
	HabitOncePerDay bool

	// CacheTTL - lifetime of the ledger written to the cache after a reward.
	// 0 drops the cached entry instead.
	CacheTTL time.Duration

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// DefaultApplyRewardHandlerConfig returns default configuration.
func DefaultApplyRewardHandlerConfig() ApplyRewardHandlerConfig {
	return ApplyRewardHandlerConfig{
		Engine:          progress.DefaultEngine(),
		Catalog:         progress.DefaultCatalog(),
		Location:        time.UTC,
		HabitOncePerDay: true,
		Clock:           time.Now,
	}
}

// NewApplyRewardHandler creates a new ApplyRewardHandler. cache and
// publisher may be nil.
func NewApplyRewardHandler(
	store progress.Store,
	locker progress.Locker,
	cache progress.LedgerCache,
	publisher shared.EventPublisher,
	flags *config.FeatureFlags,
	log *logger.Logger,
	cfg ApplyRewardHandlerConfig,
) *ApplyRewardHandler {
	def := DefaultApplyRewardHandlerConfig()
	if cfg.Engine == nil {
		cfg.Engine = def.Engine
	}
	if cfg.Catalog == nil {
		cfg.Catalog = def.Catalog
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.Clock == nil {
		cfg.Clock = def.Clock
	}
	if locker == nil {
		locker = progress.ChainLockers()
	}
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("apply_reward")

	return &ApplyRewardHandler{
		store:           store,
		locker:          locker,
		cache:           ledgerCacheWriter{cache: cache, ttl: cfg.CacheTTL, log: log},
		publisher:       publisher,
		flags:           flags,
		log:             log,
		engine:          cfg.Engine,
		catalog:         cfg.Catalog,
		location:        cfg.Location,
		habitOncePerDay: cfg.HabitOncePerDay,
		now:             cfg.Clock,
	}
}

// ClaimKey returns the idempotency key for an activity. Habits are keyed by
// local day when HabitOncePerDay is set.
func (h *ApplyRewardHandler) ClaimKey(kind progress.ActivityKind, entityID string, at time.Time) string {
	if kind == progress.KindHabit && h.habitOncePerDay {
		return entityID + "@" + timeutil.DateKeyIn(at, h.location)
	}
	return entityID
}

// Handle executes the apply reward command.
func (h *ApplyRewardHandler) Handle(ctx context.Context, cmd ApplyRewardCommand) (*ApplyRewardResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("apply_reward: validation failed: %w", err)
	}

	now := h.now().UTC()
	occurredAt := cmd.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}

	ev, err := h.engine.EventFor(cmd.Kind)
	if err != nil {
		return nil, fmt.Errorf("apply_reward: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("apply_reward: invalid reward table: %w", err)
	}

	userID := shared.UserID(cmd.UserID)
	features := config.ForUser(cmd.UserID)
	log := h.log.With(logger.UserID(cmd.UserID), logger.Kind(cmd.Kind.String()), logger.EntityID(cmd.EntityID))

	release, err := h.locker.Acquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("apply_reward: failed to lock user: %w", err)
	}
	defer release()

	var events []shared.Event
	if err := h.ensureLedger(ctx, userID, features, &events); err != nil {
		return nil, err
	}

	result := &ApplyRewardResult{
		ClaimKey: h.ClaimKey(cmd.Kind, cmd.EntityID, occurredAt),
		XPGain:   ev.XPGain,
		CoinGain: ev.CoinGain,
	}
	trackStreak := h.flags.IsEnabled(config.FeatureStreaks, features)
	sticky := h.flags.IsEnabled(config.FeatureStickyUnlocks, features)

	var (
		streak progress.Streak
		change progress.StreakChange
	)

	err = h.store.WithinTx(ctx, func(tx progress.Tx) error {
		// The store may run this more than once.
		result.Applied, result.NewUnlocks = false, nil
		streak, change = progress.Streak{}, progress.StreakChange{}

		current, err := tx.LockLedger(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to lock ledger: %w", err)
		}
		result.Previous = current
		result.Ledger = current

		claimed, err := tx.ClaimReward(ctx, progress.RewardClaim{
			UserID:    userID,
			Kind:      cmd.Kind,
			EntityID:  result.ClaimKey,
			XPGain:    ev.XPGain,
			CoinGain:  ev.CoinGain,
			ClaimedAt: now,
		})
		if err != nil {
			return fmt.Errorf("failed to claim reward: %w", err)
		}
		if !claimed {
			return nil
		}

		next := h.engine.Apply(current, ev)
		next.UpdatedAt = now

		if trackStreak {
			before, err := tx.GetStreak(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to load streak: %w", err)
			}
			streak, change = before.Record(occurredAt, h.location)
			if streak != before {
				if err := tx.SaveStreak(ctx, streak); err != nil {
					return fmt.Errorf("failed to save streak: %w", err)
				}
			}
			next.Streak = streak.Current
		}

		if err := tx.SaveLedger(ctx, next); err != nil {
			return fmt.Errorf("failed to save ledger: %w", err)
		}

		statuses := progress.Evaluate(h.catalog, next)
		if sticky {
			existing, err := tx.GetUnlocks(ctx, userID)
			if err != nil {
				return fmt.Errorf("failed to load unlocks: %w", err)
			}
			fresh := progress.NewlyUnlocked(userID, statuses, existing, now)
			if _, err := tx.SaveUnlocks(ctx, fresh); err != nil {
				return fmt.Errorf("failed to save unlocks: %w", err)
			}
			result.NewUnlocks = unlockedStatuses(statuses, fresh)
		} else {
			result.NewUnlocks = crossedThreshold(progress.Evaluate(h.catalog, current), statuses, now)
		}

		result.Applied = true
		result.Ledger = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("apply_reward: %w", err)
	}

	result.XPToNextLevel = h.engine.Curve().XPToNext(result.Ledger.XP, result.Ledger.Level)
	if !result.Applied {
		log.Debug("reward already claimed", logger.String("claim_key", result.ClaimKey))
		publishAll(h.publisher, h.log, events...)
		return result, nil
	}

	result.LeveledUp = result.Ledger.Level > result.Previous.Level
	result.StreakExtended = change.Extended
	result.StreakBroken = change.Broken

	h.cache.write(ctx, result.Ledger)

	events = append(events, h.rewardEvents(cmd, result, streak, change)...)
	publishAll(h.publisher, h.log, events...)

	log.Info("reward applied",
		logger.XPAmount(result.XPGain),
		logger.Int("level", result.Ledger.Level),
		logger.Int("new_unlocks", len(result.NewUnlocks)),
	)
	return result, nil
}

// ensureLedger fails with ErrLedgerNotInitialized unless the user has a
// ledger or auto-init is enabled, in which case the store creates it.
func (h *ApplyRewardHandler) ensureLedger(ctx context.Context, userID shared.UserID, features *config.FeatureContext, events *[]shared.Event) error {
	_, err := h.store.GetLedger(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, progress.ErrLedgerNotInitialized) {
		return fmt.Errorf("apply_reward: failed to load ledger: %w", err)
	}
	if !h.flags.IsEnabled(config.FeatureAutoInit, features) {
		return fmt.Errorf("apply_reward: %w", err)
	}

	_, created, err := h.store.InitLedger(ctx, userID, h.now().UTC())
	if err != nil {
		return fmt.Errorf("apply_reward: failed to init ledger: %w", err)
	}
	if created {
		*events = append(*events, shared.NewLedgerInitializedEvent(userID.String()))
	}
	return nil
}

func (h *ApplyRewardHandler) rewardEvents(cmd ApplyRewardCommand, r *ApplyRewardResult, st progress.Streak, change progress.StreakChange) []shared.Event {
	uid := cmd.UserID
	corr := cmd.CorrelationID
	l := r.Ledger

	applied := shared.NewRewardAppliedEvent(uid, cmd.Kind.String(), cmd.EntityID, r.XPGain, r.CoinGain, l.XP, l.Coins, l.Level)
	applied.BaseEvent = applied.BaseEvent.WithCorrelationID(corr)
	events := []shared.Event{applied}

	if r.XPGain > 0 {
		xp := shared.NewXPGainedEvent(uid, r.XPGain, l.XP, cmd.Kind.String())
		xp.BaseEvent = xp.BaseEvent.WithCorrelationID(corr)
		events = append(events, xp)
	}
	if r.LeveledUp {
		up := shared.NewLevelUpEvent(uid, r.Previous.Level, l.Level, l.XP)
		up.BaseEvent = up.BaseEvent.WithCorrelationID(corr)
		events = append(events, up)
	}
	for _, s := range r.NewUnlocks {
		at := h.now().UTC()
		if s.UnlockedAt != nil {
			at = *s.UnlockedAt
		}
		un := shared.NewAchievementUnlockedEvent(uid, s.ID, s.Title, string(s.Rarity), s.XPReward, at)
		un.BaseEvent = un.BaseEvent.WithCorrelationID(corr)
		events = append(events, un)
	}
	if change.Broken {
		br := shared.NewStreakBrokenEvent(uid, change.Previous, change.DaysMissed)
		br.BaseEvent = br.BaseEvent.WithCorrelationID(corr)
		events = append(events, br)
	}
	if change.Extended {
		su := shared.NewStreakUpdatedEvent(uid, st.Current, st.Best)
		su.BaseEvent = su.BaseEvent.WithCorrelationID(corr)
		events = append(events, su)
	}
	return events
}

// unlockedStatuses returns the statuses matching fresh unlocks, stamped with
// their unlock time, in catalog order.
func unlockedStatuses(statuses []progress.AchievementStatus, fresh []progress.Unlock) []progress.AchievementStatus {
	if len(fresh) == 0 {
		return nil
	}
	merged := progress.MergeUnlocks(statuses, fresh)

	ids := make(map[string]struct{}, len(fresh))
	for _, u := range fresh {
		ids[u.AchievementID] = struct{}{}
	}
	out := make([]progress.AchievementStatus, 0, len(fresh))
	for _, s := range merged {
		if _, ok := ids[s.ID]; ok {
			out = append(out, s)
		}
	}
	return out
}

// crossedThreshold returns statuses unlocked in after but not in before.
// Used when unlocks are not persisted.
func crossedThreshold(before, after []progress.AchievementStatus, now time.Time) []progress.AchievementStatus {
	var out []progress.AchievementStatus
	for i := range after {
		if after[i].IsUnlocked && !before[i].IsUnlocked {
			s := after[i]
			at := now
			s.UnlockedAt = &at
			out = append(out, s)
		}
	}
	return out
}

package command

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

func TestApplyReward_FirstTask(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	res := f.reward(t, "u1", progress.KindTask, "t1")

	assert.True(t, res.Applied)
	assert.Equal(t, 50, res.Ledger.XP)
	assert.Equal(t, 10, res.Ledger.Coins)
	assert.Equal(t, 1, res.Ledger.Level)
	assert.Equal(t, 1, res.Ledger.TotalTasksCompleted)
	assert.Equal(t, 1, res.Ledger.Streak)
	assert.Equal(t, 950, res.XPToNextLevel)
	assert.False(t, res.LeveledUp)
	assert.True(t, res.StreakExtended)
	assert.Equal(t, 0, res.Previous.XP)

	require.Len(t, res.NewUnlocks, 1)
	assert.Equal(t, "first-task", res.NewUnlocks[0].ID)
	require.NotNil(t, res.NewUnlocks[0].UnlockedAt)

	assert.Equal(t, []shared.EventType{
		shared.EventRewardApplied,
		shared.EventXPGained,
		shared.EventAchievementUnlocked,
		shared.EventStreakUpdated,
	}, f.events.types())

	stored, err := f.store.GetLedger(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, res.Ledger, stored)

	unlocks, err := f.store.GetUnlocks(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, unlocks, 1)
	assert.Equal(t, "first-task", unlocks[0].AchievementID)
}

func TestApplyReward_SameEntityPaidOnce(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	first := f.reward(t, "u1", progress.KindTask, "t1")
	f.events.reset()

	second := f.reward(t, "u1", progress.KindTask, "t1")
	assert.False(t, second.Applied)
	assert.Equal(t, first.Ledger, second.Ledger)
	assert.Empty(t, second.NewUnlocks)
	assert.Empty(t, f.events.types())

	claims, err := f.store.ListClaims(context.Background(), "u1", 10)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestApplyReward_SameEntityDifferentKind(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	f.reward(t, "u1", progress.KindTask, "x1")
	res := f.reward(t, "u1", progress.KindJournal, "x1")

	assert.True(t, res.Applied)
	assert.Equal(t, 70, res.Ledger.XP)
}

func TestApplyReward_HabitOncePerDay(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	res := f.reward(t, "u1", progress.KindHabit, "h1")
	assert.True(t, res.Applied)
	assert.Equal(t, "h1@2024-03-10", res.ClaimKey)

	res = f.reward(t, "u1", progress.KindHabit, "h1")
	assert.False(t, res.Applied)

	f.clock = day1.AddDate(0, 0, 1)
	res = f.reward(t, "u1", progress.KindHabit, "h1")
	assert.True(t, res.Applied)
	assert.Equal(t, 2, res.Ledger.TotalHabitsCompleted)
	assert.Equal(t, 50, res.Ledger.XP)
	assert.Equal(t, 10, res.Ledger.Coins)
	assert.Equal(t, 2, res.Ledger.Streak)
}

func TestApplyReward_HabitKeyUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)

	f := newFixture(t)
	cfg := DefaultApplyRewardHandlerConfig()
	cfg.Location = loc
	h := NewApplyRewardHandler(f.store, nil, nil, nil, f.flags, nil, cfg)

	// 20:00 UTC is already the next day at UTC+5.
	at := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, "h1@2024-03-11", h.ClaimKey(progress.KindHabit, "h1", at))
	assert.Equal(t, "t1", h.ClaimKey(progress.KindTask, "t1", at))
}

func TestApplyReward_LevelUp(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	var res *ApplyRewardResult
	for i := 0; i < 20; i++ {
		res = f.reward(t, "u1", progress.KindTask, fmt.Sprintf("t%d", i))
	}

	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1000, res.Ledger.XP)
	assert.Equal(t, 2, res.Ledger.Level)
	assert.Equal(t, 1000, res.XPToNextLevel)

	ups := f.events.ofType(shared.EventLevelUp)
	require.Len(t, ups, 1)
	up := ups[0].(shared.LevelUpEvent)
	assert.Equal(t, 1, up.OldLevel)
	assert.Equal(t, 2, up.NewLevel)
}

func TestApplyReward_MissingLedger(t *testing.T) {
	f := newFixture(t)

	_, err := f.apply.Handle(context.Background(), ApplyRewardCommand{UserID: "ghost", Kind: progress.KindTask, EntityID: "t1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, progress.ErrLedgerNotInitialized)
	assert.True(t, shared.IsNotFound(err))

	_, err = f.store.GetLedger(context.Background(), "ghost")
	assert.ErrorIs(t, err, progress.ErrLedgerNotInitialized, "no ledger may be created as a side effect")
}

func TestApplyReward_AutoInit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.flags.EnableFeature(config.FeatureAutoInit))

	res, err := f.apply.Handle(context.Background(), ApplyRewardCommand{
		UserID:        "new",
		Kind:          progress.KindJournal,
		EntityID:      "j1",
		CorrelationID: "req-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 20, res.Ledger.XP)
	assert.Equal(t, 3, res.Ledger.Coins)

	types := f.events.types()
	require.NotEmpty(t, types)
	assert.Equal(t, shared.EventLedgerInitialized, types[0])

	applied := f.events.ofType(shared.EventRewardApplied)
	require.Len(t, applied, 1)
	assert.Equal(t, "req-1", applied[0].(shared.RewardAppliedEvent).CorrelationID)
}

func TestApplyReward_Validation(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	tests := []struct {
		name string
		cmd  ApplyRewardCommand
	}{
		{"empty user", ApplyRewardCommand{Kind: progress.KindTask, EntityID: "t1"}},
		{"unknown kind", ApplyRewardCommand{UserID: "u1", Kind: "workout", EntityID: "t1"}},
		{"empty entity", ApplyRewardCommand{UserID: "u1", Kind: progress.KindTask}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.apply.Handle(context.Background(), tt.cmd)
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
		})
	}

	l, err := f.store.GetLedger(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, l.XP)
}

func TestApplyReward_StreaksDisabled(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")
	require.NoError(t, f.flags.DisableFeature(config.FeatureStreaks))

	res := f.reward(t, "u1", progress.KindTask, "t1")
	assert.Equal(t, 0, res.Ledger.Streak)
	assert.False(t, res.StreakExtended)
	assert.Empty(t, f.events.ofType(shared.EventStreakUpdated))
}

func TestApplyReward_StreakBrokenByGap(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	f.reward(t, "u1", progress.KindTask, "t1")
	f.clock = day1.AddDate(0, 0, 1)
	f.reward(t, "u1", progress.KindTask, "t2")

	f.clock = day1.AddDate(0, 0, 4)
	res := f.reward(t, "u1", progress.KindTask, "t3")

	assert.True(t, res.StreakBroken)
	assert.Equal(t, 1, res.Ledger.Streak)

	broken := f.events.ofType(shared.EventStreakBroken)
	require.Len(t, broken, 1)
	ev := broken[0].(shared.StreakBrokenEvent)
	assert.Equal(t, 2, ev.PreviousStreak)
	assert.Equal(t, 2, ev.DaysMissed)
}

func TestApplyReward_NonStickyReportsThresholdCrossing(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")
	require.NoError(t, f.flags.DisableFeature(config.FeatureStickyUnlocks))

	res := f.reward(t, "u1", progress.KindHabit, "h1")
	require.Len(t, res.NewUnlocks, 1)
	assert.Equal(t, "first-habit", res.NewUnlocks[0].ID)

	res = f.reward(t, "u1", progress.KindTask, "t1")
	require.Len(t, res.NewUnlocks, 1)
	assert.Equal(t, "first-task", res.NewUnlocks[0].ID)

	unlocks, err := f.store.GetUnlocks(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, unlocks)
}

func TestApplyReward_WritesThroughCache(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	stale, err := f.store.GetLedger(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(context.Background(), stale, time.Minute))

	f.reward(t, "u1", progress.KindTask, "t1")

	cached, err := f.cache.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 50, cached.XP)
	assert.Equal(t, 1, cached.TotalTasksCompleted)

	// A reader that missed before the reward cannot put the old ledger back.
	stored, err := f.cache.SetIfAbsent(context.Background(), stale, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)
}

func TestApplyReward_WithoutCacheTTLDropsEntry(t *testing.T) {
	f := newFixture(t)
	f.init(t, "u1")

	cfg := DefaultApplyRewardHandlerConfig()
	cfg.Clock = func() time.Time { return f.clock }
	h := NewApplyRewardHandler(f.store, nil, f.cache, nil, f.flags, nil, cfg)

	stale, err := f.store.GetLedger(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, f.cache.Set(context.Background(), stale, time.Minute))

	_, err = h.Handle(context.Background(), ApplyRewardCommand{UserID: "u1", Kind: progress.KindTask, EntityID: "t1"})
	require.NoError(t, err)

	_, err = f.cache.Get(context.Background(), "u1")
	assert.ErrorIs(t, err, progress.ErrCacheMiss)
}

func TestApplyReward_ConcurrentRewards(t *testing.T) {
	defer goleak.VerifyNone(t)

	f := newFixture(t)
	f.init(t, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Every entity is submitted twice.
			_, err := f.apply.Handle(context.Background(), ApplyRewardCommand{
				UserID:   "u1",
				Kind:     progress.KindTask,
				EntityID: fmt.Sprintf("t%d", i%20),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	l, err := f.store.GetLedger(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1000, l.XP)
	assert.Equal(t, 200, l.Coins)
	assert.Equal(t, 20, l.TotalTasksCompleted)
	assert.Equal(t, 2, l.Level)
	assert.Len(t, f.events.ofType(shared.EventLevelUp), 1)
}

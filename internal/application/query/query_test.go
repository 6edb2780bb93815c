package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/application/command"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/internal/infrastructure/persistence/memory"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

// countingStore counts ledger reads and can slow them down.
type countingStore struct {
	*memory.Store
	reads atomic.Int32
	delay time.Duration
}

func (s *countingStore) GetLedger(ctx context.Context, userID shared.UserID) (progress.Ledger, error) {
	s.reads.Add(1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.Store.GetLedger(ctx, userID)
}

func seed(t *testing.T, s *memory.Store, userID shared.UserID, mutate func(*progress.Ledger)) {
	t.Helper()
	ctx := context.Background()
	_, _, err := s.InitLedger(ctx, userID, now)
	require.NoError(t, err)
	if mutate == nil {
		return
	}
	require.NoError(t, s.WithinTx(ctx, func(tx progress.Tx) error {
		l, err := tx.LockLedger(ctx, userID)
		if err != nil {
			return err
		}
		mutate(&l)
		return tx.SaveLedger(ctx, l)
	}))
}

func TestGetLedger_DerivedFields(t *testing.T) {
	s := memory.NewStore()
	seed(t, s, "u1", func(l *progress.Ledger) {
		l.XP = 1450
		l.Level = 2
	})

	h := NewGetLedgerHandler(s, nil, progress.DefaultCurve(), 0, nil)
	view, err := h.Handle(context.Background(), GetLedgerQuery{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, 1450, view.XP)
	assert.Equal(t, 550, view.XPToNextLevel)
	// Level 2 spans 1000..2999.
	assert.Equal(t, 22, view.LevelProgressPercent)
	assert.False(t, view.Cached)
}

func TestGetLedger_NotInitialized(t *testing.T) {
	h := NewGetLedgerHandler(memory.NewStore(), memory.NewLedgerCache(), progress.DefaultCurve(), time.Minute, nil)
	_, err := h.Handle(context.Background(), GetLedgerQuery{UserID: "nobody"})
	assert.ErrorIs(t, err, progress.ErrLedgerNotInitialized)
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(context.Background(), GetLedgerQuery{})
	assert.True(t, shared.IsValidation(err))
}

func TestGetLedger_ReadThroughCache(t *testing.T) {
	s := &countingStore{Store: memory.NewStore()}
	seed(t, s.Store, "u1", nil)
	cache := memory.NewLedgerCache()

	h := NewGetLedgerHandler(s, cache, progress.DefaultCurve(), time.Minute, nil)
	ctx := context.Background()

	first, err := h.Handle(ctx, GetLedgerQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := h.Handle(ctx, GetLedgerQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, int32(1), s.reads.Load())
	assert.Empty(t, cmp.Diff(first.Ledger, second.Ledger))

	_, err = h.Handle(ctx, GetLedgerQuery{UserID: "u1", BypassCache: true})
	require.NoError(t, err)
	assert.Equal(t, int32(2), s.reads.Load())
}

func TestGetLedger_CoalescesConcurrentMisses(t *testing.T) {
	s := &countingStore{Store: memory.NewStore(), delay: 50 * time.Millisecond}
	seed(t, s.Store, "u1", nil)

	h := NewGetLedgerHandler(s, nil, progress.DefaultCurve(), 0, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Handle(context.Background(), GetLedgerQuery{UserID: "u1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Less(t, s.reads.Load(), int32(10))
}

func TestGetAchievements(t *testing.T) {
	s := memory.NewStore()
	seed(t, s, "u1", func(l *progress.Ledger) {
		l.TotalTasksCompleted = 60
		l.XP = 3000
		l.Level = 3
	})
	flags := config.NewFeatureFlags()
	h := NewGetAchievementsHandler(s, nil, flags, nil)

	view, err := h.Handle(context.Background(), GetAchievementsQuery{UserID: "u1", Category: "TASKS"})
	require.NoError(t, err)
	require.Len(t, view.Statuses, 4)
	assert.Equal(t, "first-task", view.Statuses[0].ID)
	assert.True(t, view.Statuses[1].IsUnlocked)
	assert.Equal(t, 60, view.Statuses[2].Progress)
	assert.False(t, view.Statuses[2].IsUnlocked)

	assert.Equal(t, 16, view.Summary.Total)
	assert.Equal(t, 2, view.Summary.Unlocked)
	assert.Equal(t, 550, view.Summary.XPEarned)

	view, err = h.Handle(context.Background(), GetAchievementsQuery{UserID: "u1", OnlyUnlocked: true, Rarity: "rare"})
	require.NoError(t, err)
	require.Len(t, view.Statuses, 1)
	assert.Equal(t, "task-warrior", view.Statuses[0].ID)
}

func TestGetAchievements_StickyUnlocksSurviveCounterDrop(t *testing.T) {
	s := memory.NewStore()
	seed(t, s, "u1", nil)
	ctx := context.Background()
	unlockedAt := now.Add(-time.Hour)
	require.NoError(t, s.WithinTx(ctx, func(tx progress.Tx) error {
		_, err := tx.SaveUnlocks(ctx, []progress.Unlock{{UserID: "u1", AchievementID: "streak-7", UnlockedAt: unlockedAt}})
		return err
	}))

	flags := config.NewFeatureFlags()
	h := NewGetAchievementsHandler(s, nil, flags, nil)

	view, err := h.Handle(ctx, GetAchievementsQuery{UserID: "u1", Category: "streaks"})
	require.NoError(t, err)
	require.Len(t, view.Statuses, 4)
	assert.False(t, view.Statuses[0].IsUnlocked, "streak-3 was never recorded and the streak is 0")
	assert.True(t, view.Statuses[1].IsUnlocked)
	assert.Equal(t, 7, view.Statuses[1].Progress)
	require.NotNil(t, view.Statuses[1].UnlockedAt)
	assert.True(t, view.Statuses[1].UnlockedAt.Equal(unlockedAt))

	require.NoError(t, flags.DisableFeature(config.FeatureStickyUnlocks))
	view, err = h.Handle(ctx, GetAchievementsQuery{UserID: "u1", Category: "streaks"})
	require.NoError(t, err)
	assert.False(t, view.Statuses[1].IsUnlocked)
}

func TestGetAchievements_InvalidFilter(t *testing.T) {
	h := NewGetAchievementsHandler(memory.NewStore(), nil, nil, nil)
	_, err := h.Handle(context.Background(), GetAchievementsQuery{UserID: "u1", Category: "cooking"})
	assert.True(t, shared.IsValidation(err))
}

func TestGetRewardHistory(t *testing.T) {
	s := memory.NewStore()
	seed(t, s, "u1", nil)
	ctx := context.Background()
	require.NoError(t, s.WithinTx(ctx, func(tx progress.Tx) error {
		for i, id := range []string{"t1", "t2", "t3"} {
			if _, err := tx.ClaimReward(ctx, progress.RewardClaim{
				UserID: "u1", Kind: progress.KindTask, EntityID: id, XPGain: 50, CoinGain: 10,
				ClaimedAt: now.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				return err
			}
		}
		return nil
	}))

	h := NewGetRewardHistoryHandler(s)
	view, err := h.Handle(ctx, GetRewardHistoryQuery{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, view.Claims, 2)
	assert.Equal(t, "t3", view.Claims[0].EntityID)
	assert.Equal(t, 100, view.TotalXP)

	_, err = h.Handle(ctx, GetRewardHistoryQuery{UserID: "ghost"})
	assert.True(t, shared.IsNotFound(err))

	_, err = h.Handle(ctx, GetRewardHistoryQuery{UserID: "u1", Limit: -1})
	assert.True(t, shared.IsValidation(err))
}

func TestGetRewardHistory_ClampsLimit(t *testing.T) {
	q := GetRewardHistoryQuery{UserID: "u1", Limit: 10_000}
	require.NoError(t, q.Validate())
	assert.Equal(t, MaxHistoryLimit, q.Limit)

	q = GetRewardHistoryQuery{UserID: "u1"}
	require.NoError(t, q.Validate())
	assert.Equal(t, DefaultHistoryLimit, q.Limit)
}

func TestGetLedger_CacheErrorFallsBack(t *testing.T) {
	s := memory.NewStore()
	seed(t, s, "u1", nil)

	h := NewGetLedgerHandler(s, failingCache{}, progress.DefaultCurve(), time.Minute, nil)
	view, err := h.Handle(context.Background(), GetLedgerQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, view.Level)
}

type failingCache struct{}

var errCacheDown = errors.New("cache down")

func (failingCache) Get(context.Context, shared.UserID) (progress.Ledger, error) {
	return progress.Ledger{}, errCacheDown
}
func (failingCache) Set(context.Context, progress.Ledger, time.Duration) error { return errCacheDown }
func (failingCache) SetIfAbsent(context.Context, progress.Ledger, time.Duration) (bool, error) {
	return false, errCacheDown
}
func (failingCache) Invalidate(context.Context, shared.UserID) error { return errCacheDown }

// interleavingStore runs afterRead once, right after the first ledger read
// and before the caller sees the result.
type interleavingStore struct {
	*memory.Store
	once      sync.Once
	afterRead func()
}

func (s *interleavingStore) GetLedger(ctx context.Context, userID shared.UserID) (progress.Ledger, error) {
	l, err := s.Store.GetLedger(ctx, userID)
	s.once.Do(s.afterRead)
	return l, err
}

func TestGetLedger_RewardDuringMissIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	s := &interleavingStore{Store: memory.NewStore()}
	seed(t, s.Store, "u1", nil)
	cache := memory.NewLedgerCache()

	cfg := command.DefaultApplyRewardHandlerConfig()
	cfg.CacheTTL = time.Minute
	apply := command.NewApplyRewardHandler(s.Store, memory.NewLocker(time.Second), cache, nil, config.NewFeatureFlags(), nil, cfg)
	s.afterRead = func() {
		_, err := apply.Handle(ctx, command.ApplyRewardCommand{UserID: "u1", Kind: progress.KindTask, EntityID: "t1"})
		require.NoError(t, err)
	}

	h := NewGetLedgerHandler(s, cache, progress.DefaultCurve(), time.Minute, nil)

	// This read started before the reward committed.
	first, err := h.Handle(ctx, GetLedgerQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 0, first.XP)

	stored, err := s.Store.GetLedger(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 50, stored.XP)

	second, err := h.Handle(ctx, GetLedgerQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, 50, second.XP)
}

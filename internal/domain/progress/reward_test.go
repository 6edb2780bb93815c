package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func freshLedger() Ledger {
	return NewLedger("user-1", testNow)
}

func eventFor(t *testing.T, kind ActivityKind) RewardEvent {
	t.Helper()
	ev, err := DefaultEngine().EventFor(kind)
	require.NoError(t, err)
	return ev
}

func TestLevelForXP_Thresholds(t *testing.T) {
	tests := []struct {
		xp   int
		want int
	}{
		{0, 1},
		{999, 1},
		{1000, 2},
		{2999, 2},
		{3000, 3},
		{5999, 3},
		{6000, 4},
		{9999, 4},
		{10000, 5},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForXP(tt.xp), "xp=%d", tt.xp)
	}
}

func TestXPToNextLevel(t *testing.T) {
	assert.Equal(t, 1000, XPToNextLevel(0, 1))
	assert.Equal(t, 1, XPToNextLevel(999, 1))
	assert.Equal(t, 1000, XPToNextLevel(1000, 2))
	// Inconsistent input never goes negative.
	assert.Equal(t, 0, XPToNextLevel(5000, 1))
}

func TestLevelProgressPercent(t *testing.T) {
	assert.Equal(t, 0, LevelProgressPercent(0))
	assert.Equal(t, 95, LevelProgressPercent(950))
	assert.Equal(t, 0, LevelProgressPercent(1000))
	assert.Equal(t, 75, LevelProgressPercent(2500))
	assert.Equal(t, 0, LevelProgressPercent(3000))
	assert.Equal(t, 99, LevelProgressPercent(2999))
}

func TestLevelCurve_LevelStart(t *testing.T) {
	curve := DefaultCurve()
	assert.Equal(t, 0, curve.LevelStart(1))
	assert.Equal(t, 1000, curve.LevelStart(2))
	assert.Equal(t, 3000, curve.LevelStart(3))
	assert.Equal(t, 10000, curve.LevelStart(5))
	assert.Equal(t, 45000, curve.LevelStart(10))
	assert.Equal(t, 300000, curve.LevelStart(25))

	// Every band boundary lands on the right level, and leaving level L costs L*1000.
	for level := 1; level <= 200; level++ {
		start := curve.LevelStart(level)
		assert.Equal(t, level, curve.LevelFor(start), "start of level %d", level)
		assert.Equal(t, level, curve.LevelFor(start+level*DefaultXPPerLevel-1), "end of level %d", level)
		assert.Equal(t, start+level*DefaultXPPerLevel, curve.LevelStart(level+1))
	}
}

func TestLevelForXP_Monotonic(t *testing.T) {
	prev := LevelForXP(0)
	for xp := 1; xp <= 50000; xp += 7 {
		got := LevelForXP(xp)
		assert.GreaterOrEqual(t, got, prev, "xp=%d", xp)
		assert.GreaterOrEqual(t, XPToNextLevel(xp, got), 0)
		prev = got
	}
}

func TestLevelCurve_Custom(t *testing.T) {
	curve := LevelCurve{XPPerLevel: 500}
	assert.Equal(t, 1, curve.LevelFor(499))
	assert.Equal(t, 2, curve.LevelFor(500))
	assert.Equal(t, 2, curve.LevelFor(1499))
	assert.Equal(t, 3, curve.LevelFor(1500))
	assert.Equal(t, 250, curve.XPToNext(750, 2))
	assert.Error(t, LevelCurve{}.Validate())
}

func TestApplyReward_FreshLedgerTask(t *testing.T) {
	got := ApplyReward(freshLedger(), eventFor(t, KindTask))

	assert.Equal(t, 50, got.XP)
	assert.Equal(t, 10, got.Coins)
	assert.Equal(t, 1, got.TotalTasksCompleted)
	assert.Equal(t, 1, got.Level)
	assert.Equal(t, 0, got.TotalHabitsCompleted)
	assert.Equal(t, 0, got.TotalJournalEntries)
}

func TestApplyReward_CrossesLevel(t *testing.T) {
	l := freshLedger()
	l.XP = 950

	got := ApplyReward(l, eventFor(t, KindTask))

	assert.Equal(t, 1000, got.XP)
	assert.Equal(t, 2, got.Level)
	assert.Equal(t, 1000, XPToNextLevel(got.XP, got.Level))
}

func TestApplyReward_ThreeHabits(t *testing.T) {
	l := freshLedger()
	for i := 0; i < 3; i++ {
		l = ApplyReward(l, eventFor(t, KindHabit))
	}

	assert.Equal(t, 75, l.XP)
	assert.Equal(t, 15, l.Coins)
	assert.Equal(t, 3, l.TotalHabitsCompleted)
}

func TestApplyReward_Journal(t *testing.T) {
	got := ApplyReward(freshLedger(), eventFor(t, KindJournal))

	assert.Equal(t, 20, got.XP)
	assert.Equal(t, 3, got.Coins)
	assert.Equal(t, 1, got.TotalJournalEntries)
}

func TestApplyReward_DoesNotMutateInput(t *testing.T) {
	in := freshLedger()
	_ = ApplyReward(in, eventFor(t, KindTask))

	assert.Equal(t, 0, in.XP)
	assert.Equal(t, 0, in.TotalTasksCompleted)
}

func TestApplyReward_NotDeduplicating(t *testing.T) {
	ev := eventFor(t, KindTask)
	l := ApplyReward(ApplyReward(freshLedger(), ev), ev)

	assert.Equal(t, 100, l.XP)
	assert.Equal(t, 2, l.TotalTasksCompleted)
}

func TestApplyReward_Monotonic(t *testing.T) {
	kinds := []ActivityKind{KindTask, KindHabit, KindJournal, KindHabit, KindTask, KindTask, KindJournal}
	curve := DefaultCurve()

	l := freshLedger()
	for round := 0; round < 60; round++ {
		for _, kind := range kinds {
			next := ApplyReward(l, eventFor(t, kind))

			assert.GreaterOrEqual(t, next.XP, l.XP)
			assert.GreaterOrEqual(t, next.Coins, l.Coins)
			assert.GreaterOrEqual(t, next.Level, l.Level)
			assert.GreaterOrEqual(t, next.TotalTasksCompleted, l.TotalTasksCompleted)
			assert.GreaterOrEqual(t, next.TotalHabitsCompleted, l.TotalHabitsCompleted)
			assert.GreaterOrEqual(t, next.TotalJournalEntries, l.TotalJournalEntries)
			assert.Equal(t, l.Counter(kind)+1, next.Counter(kind))
			require.NoError(t, next.Validate(curve))

			l = next
		}
	}
	assert.Greater(t, l.Level, 1)
}

func TestEngine_CustomTable(t *testing.T) {
	engine := NewEngine(RewardTable{
		Task:    Reward{XP: 100, Coins: 1},
		Habit:   Reward{XP: 10, Coins: 1},
		Journal: Reward{XP: 5, Coins: 1},
	}, LevelCurve{XPPerLevel: 100})

	ev, err := engine.EventFor(KindTask)
	require.NoError(t, err)

	got := engine.Apply(freshLedger(), ev)
	assert.Equal(t, 100, got.XP)
	assert.Equal(t, 2, got.Level)
}

func TestRewardEvent_Validate(t *testing.T) {
	assert.NoError(t, RewardEvent{Kind: KindTask, XPGain: 50, CoinGain: 10}.Validate())
	assert.NoError(t, RewardEvent{Kind: KindHabit}.Validate())

	err := RewardEvent{Kind: "workout", XPGain: 1}.Validate()
	assert.True(t, shared.IsValidation(err))

	err = RewardEvent{Kind: KindTask, XPGain: -1}.Validate()
	assert.ErrorIs(t, err, shared.ErrNegativeValue)
}

func TestRewardTable(t *testing.T) {
	table := DefaultRewardTable()
	require.NoError(t, table.Validate())

	r, err := table.For(KindHabit)
	require.NoError(t, err)
	assert.Equal(t, Reward{XP: 25, Coins: 5}, r)

	_, err = table.For("unknown")
	assert.Error(t, err)

	table.Journal.Coins = -3
	assert.Error(t, table.Validate())
}

func TestParseActivityKind(t *testing.T) {
	k, err := ParseActivityKind(" Task ")
	require.NoError(t, err)
	assert.Equal(t, KindTask, k)

	_, err = ParseActivityKind("chore")
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}

func TestLedger_Validate(t *testing.T) {
	curve := DefaultCurve()

	l := freshLedger()
	require.NoError(t, l.Validate(curve))

	l.XP = 1500
	assert.ErrorIs(t, l.Validate(curve), shared.ErrInvalidState)

	l.Level = 2
	assert.NoError(t, l.Validate(curve))

	l.Coins = -1
	assert.ErrorIs(t, l.Validate(curve), shared.ErrNegativeValue)
}

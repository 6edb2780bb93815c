package progress

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusByID(t *testing.T, statuses []AchievementStatus, id string) AchievementStatus {
	t.Helper()
	for _, s := range statuses {
		if s.ID == id {
			return s
		}
	}
	t.Fatalf("status %q not found", id)
	return AchievementStatus{}
}

func TestDefaultCatalog(t *testing.T) {
	catalog := DefaultCatalog()

	require.NoError(t, catalog.Validate())
	assert.Len(t, catalog, 16)

	def, ok := catalog.Find("task-warrior")
	require.True(t, ok)
	assert.Equal(t, 50, def.MaxProgress)
	assert.Equal(t, RarityRare, def.Rarity)

	_, ok = catalog.Find("nope")
	assert.False(t, ok)
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
	}{
		{"duplicate id", Catalog{
			{ID: "a", Category: CategoryTasks, MaxProgress: 1},
			{ID: "a", Category: CategoryHabits, MaxProgress: 1},
		}},
		{"empty id", Catalog{{Category: CategoryTasks, MaxProgress: 1}}},
		{"bad category", Catalog{{ID: "a", Category: "sleep", MaxProgress: 1}}},
		{"zero max", Catalog{{ID: "a", Category: CategoryTasks}}},
		{"negative reward", Catalog{{ID: "a", Category: CategoryTasks, MaxProgress: 1, XPReward: -1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.catalog.Validate())
		})
	}
}

func TestEvaluate_GettingStarted(t *testing.T) {
	catalog := DefaultCatalog()

	zero := freshLedger()
	s := statusByID(t, Evaluate(catalog, zero), "first-task")
	assert.Equal(t, 0, s.Progress)
	assert.False(t, s.IsUnlocked)
	assert.Nil(t, s.UnlockedAt)

	one := freshLedger()
	one.TotalTasksCompleted = 1
	s = statusByID(t, Evaluate(catalog, one), "first-task")
	assert.Equal(t, 1, s.Progress)
	assert.True(t, s.IsUnlocked)
}

func TestEvaluate_TaskWarriorClamps(t *testing.T) {
	l := freshLedger()
	l.TotalTasksCompleted = 120

	s := statusByID(t, Evaluate(DefaultCatalog(), l), "task-warrior")
	assert.Equal(t, 50, s.Progress)
	assert.True(t, s.IsUnlocked)
}

func TestEvaluate_CategorySources(t *testing.T) {
	l := Ledger{
		UserID:               "user-1",
		Level:                5,
		XP:                   10200,
		Streak:               7,
		TotalTasksCompleted:  2,
		TotalHabitsCompleted: 30,
		TotalJournalEntries:  4,
	}
	statuses := Evaluate(DefaultCatalog(), l)

	assert.Equal(t, 2, statusByID(t, statuses, "task-warrior").Progress)
	assert.True(t, statusByID(t, statuses, "habit-builder").IsUnlocked)
	assert.True(t, statusByID(t, statuses, "streak-7").IsUnlocked)
	assert.False(t, statusByID(t, statuses, "streak-30").IsUnlocked)
	assert.Equal(t, 4, statusByID(t, statuses, "journal-writer").Progress)
	assert.True(t, statusByID(t, statuses, "level-5").IsUnlocked)
	assert.Equal(t, 5, statusByID(t, statuses, "level-10").Progress)
}

func TestEvaluate_Properties(t *testing.T) {
	catalog := DefaultCatalog()

	ledgers := []Ledger{freshLedger()}
	for _, n := range []int{1, 3, 7, 29, 30, 50, 99, 100, 101, 499, 500, 1000} {
		ledgers = append(ledgers, Ledger{
			UserID:               "user-1",
			XP:                   n * 100,
			Level:                LevelForXP(n * 100),
			Streak:               n,
			TotalTasksCompleted:  n,
			TotalHabitsCompleted: n / 2,
			TotalJournalEntries:  n / 3,
		})
	}

	for _, l := range ledgers {
		statuses := Evaluate(catalog, l)
		require.Len(t, statuses, len(catalog))

		for i, s := range statuses {
			source := ProgressSource(s.Category, l)

			assert.Equal(t, catalog[i].ID, s.ID, "catalog order")
			assert.GreaterOrEqual(t, s.Progress, 0)
			assert.LessOrEqual(t, s.Progress, s.MaxProgress)
			assert.Equal(t, source >= s.MaxProgress, s.IsUnlocked)
			assert.Equal(t, s.IsUnlocked, s.Progress == s.MaxProgress)
		}

		sum := Summarize(statuses)
		assert.GreaterOrEqual(t, sum.CompletionPercent, 0)
		assert.LessOrEqual(t, sum.CompletionPercent, 100)
		assert.Equal(t, len(catalog), sum.Total)

		// Deterministic for the same ledger.
		if diff := cmp.Diff(statuses, Evaluate(catalog, l)); diff != "" {
			t.Errorf("Evaluate not deterministic (-first +second):\n%s", diff)
		}
	}
}

func TestSummarize(t *testing.T) {
	l := freshLedger()
	l.TotalTasksCompleted = 1
	l.TotalHabitsCompleted = 1

	sum := Summarize(Evaluate(DefaultCatalog(), l))

	assert.Equal(t, Summary{
		Unlocked:          2,
		Total:             16,
		CompletionPercent: 13, // 12.5 rounds up
		XPEarned:          75,
	}, sum)
}

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, Summarize(nil))
}

func TestMergeUnlocks_Sticky(t *testing.T) {
	catalog := DefaultCatalog()
	unlockedAt := time.Date(2024, 4, 20, 9, 0, 0, 0, time.UTC)

	// The streak reset to 0 after streak-3 was earned.
	l := freshLedger()
	statuses := Evaluate(catalog, l)
	require.False(t, statusByID(t, statuses, "streak-3").IsUnlocked)

	merged := MergeUnlocks(statuses, []Unlock{
		{UserID: l.UserID, AchievementID: "streak-3", UnlockedAt: unlockedAt},
		{UserID: l.UserID, AchievementID: "retired-achievement", UnlockedAt: unlockedAt},
	})

	s := statusByID(t, merged, "streak-3")
	assert.True(t, s.IsUnlocked)
	assert.Equal(t, 3, s.Progress)
	require.NotNil(t, s.UnlockedAt)
	assert.Equal(t, unlockedAt, *s.UnlockedAt)

	// Input untouched.
	assert.False(t, statusByID(t, statuses, "streak-3").IsUnlocked)
	assert.Len(t, merged, len(catalog))
	assert.Equal(t, 1, Summarize(merged).Unlocked)
}

func TestNewlyUnlocked(t *testing.T) {
	l := freshLedger()
	l.TotalTasksCompleted = 1
	l.TotalJournalEntries = 1
	statuses := Evaluate(DefaultCatalog(), l)

	existing := []Unlock{{UserID: l.UserID, AchievementID: "first-task", UnlockedAt: testNow.Add(-time.Hour)}}
	fresh := NewlyUnlocked(l.UserID, statuses, existing, testNow)

	want := []Unlock{{UserID: l.UserID, AchievementID: "first-journal", UnlockedAt: testNow}}
	if diff := cmp.Diff(want, fresh); diff != "" {
		t.Errorf("NewlyUnlocked mismatch (-want +got):\n%s", diff)
	}

	assert.Empty(t, NewlyUnlocked(l.UserID, statuses, append(existing, fresh...), testNow))
}

func TestStatusFilter(t *testing.T) {
	l := freshLedger()
	l.TotalTasksCompleted = 60
	statuses := Evaluate(DefaultCatalog(), l)

	tasks := StatusFilter{Category: CategoryTasks}.Apply(statuses)
	assert.Len(t, tasks, 4)

	unlocked := StatusFilter{OnlyUnlocked: true}.Apply(statuses)
	assert.Len(t, unlocked, 2)

	epic := StatusFilter{Category: CategoryTasks, Rarity: RarityEpic}.Apply(statuses)
	require.Len(t, epic, 1)
	assert.Equal(t, "task-master", epic[0].ID)
}

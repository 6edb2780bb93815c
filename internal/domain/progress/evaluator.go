package progress

import (
	"math"
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementStatus is the per-user state of one catalog entry.
type AchievementStatus struct {
	AchievementDefinition

	// Progress - min(source, MaxProgress).
	Progress int `json:"progress"`

	// IsUnlocked - source >= MaxProgress, or a recorded unlock exists.
	IsUnlocked bool `json:"is_unlocked"`

	// UnlockedAt - set only for unlocks that have been persisted.
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
}

// Unlock is a persisted fact that a user earned an achievement.
type Unlock struct {
	UserID        shared.UserID `json:"user_id"`
	AchievementID string        `json:"achievement_id"`
	UnlockedAt    time.Time     `json:"unlocked_at"`
}

// Summary aggregates a status list.
type Summary struct {
	Unlocked          int `json:"unlocked"`
	Total             int `json:"total"`
	CompletionPercent int `json:"completion_percent"`
	XPEarned          int `json:"xp_earned"`
}

// ProgressSource returns the ledger value that drives a category.
func ProgressSource(category Category, l Ledger) int {
	switch category {
	case CategoryTasks:
		return l.TotalTasksCompleted
	case CategoryHabits:
		return l.TotalHabitsCompleted
	case CategoryStreaks:
		return l.Streak
	case CategoryJournal:
		return l.TotalJournalEntries
	case CategoryLevels:
		return l.Level
	default:
		return 0
	}
}

// Evaluate returns one status per definition, in catalog order. It only looks
// at the live ledger; MergeUnlocks layers persisted unlocks on top.
func Evaluate(catalog Catalog, l Ledger) []AchievementStatus {
	statuses := make([]AchievementStatus, len(catalog))
	for i, def := range catalog {
		source := ProgressSource(def.Category, l)
		statuses[i] = AchievementStatus{
			AchievementDefinition: def,
			Progress:              max(0, min(source, def.MaxProgress)),
			IsUnlocked:            source >= def.MaxProgress,
		}
	}
	return statuses
}

// MergeUnlocks marks every status with a persisted unlock as unlocked, with
// full progress and the recorded time. Unlocks for ids outside the statuses
// are ignored.
func MergeUnlocks(statuses []AchievementStatus, unlocks []Unlock) []AchievementStatus {
	if len(unlocks) == 0 {
		return statuses
	}

	byID := make(map[string]time.Time, len(unlocks))
	for _, u := range unlocks {
		byID[u.AchievementID] = u.UnlockedAt
	}

	merged := make([]AchievementStatus, len(statuses))
	copy(merged, statuses)
	for i := range merged {
		at, ok := byID[merged[i].ID]
		if !ok {
			continue
		}
		unlockedAt := at
		merged[i].IsUnlocked = true
		merged[i].Progress = merged[i].MaxProgress
		merged[i].UnlockedAt = &unlockedAt
	}
	return merged
}

// NewlyUnlocked returns unlock records for statuses that are unlocked now but
// have no persisted unlock yet, stamped with now.
func NewlyUnlocked(userID shared.UserID, statuses []AchievementStatus, existing []Unlock, now time.Time) []Unlock {
	have := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		have[u.AchievementID] = struct{}{}
	}

	var fresh []Unlock
	for _, s := range statuses {
		if !s.IsUnlocked {
			continue
		}
		if _, ok := have[s.ID]; ok {
			continue
		}
		fresh = append(fresh, Unlock{UserID: userID, AchievementID: s.ID, UnlockedAt: now})
	}
	return fresh
}

// Summarize aggregates statuses. The completion percent is rounded to the
// nearest integer and is 0 for an empty list.
func Summarize(statuses []AchievementStatus) Summary {
	sum := Summary{Total: len(statuses)}
	for _, s := range statuses {
		if s.IsUnlocked {
			sum.Unlocked++
			sum.XPEarned += s.XPReward
		}
	}
	if sum.Total > 0 {
		pct := math.Round(float64(sum.Unlocked) * 100 / float64(sum.Total))
		sum.CompletionPercent = int(max(0, min(100, pct)))
	}
	return sum
}

// StatusFilter narrows a status list. Zero fields match everything.
type StatusFilter struct {
	Category     Category
	Rarity       Rarity
	OnlyUnlocked bool
}

// Apply returns the statuses that match, preserving order.
func (f StatusFilter) Apply(statuses []AchievementStatus) []AchievementStatus {
	out := make([]AchievementStatus, 0, len(statuses))
	for _, s := range statuses {
		if f.Category != "" && s.Category != f.Category {
			continue
		}
		if f.Rarity != "" && s.Rarity != f.Rarity {
			continue
		}
		if f.OnlyUnlocked && !s.IsUnlocked {
			continue
		}
		out = append(out, s)
	}
	return out
}

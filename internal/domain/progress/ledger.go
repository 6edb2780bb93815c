// Package progress holds the HabitVerse progression rules: the per-user stat
// ledger, the reward engine that turns completed activities into XP and coins,
// the level curve, daily streaks and the achievement evaluator.
//
// Everything here is pure. A Ledger is a value: functions take one and return
// a new one, and persistence decides when a value becomes the stored truth.
package progress

import (
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER
// ══════════════════════════════════════════════════════════════════════════════

// Ledger is the persistent per-user record of progression state.
type Ledger struct {
	// UserID - owner of the ledger.
	UserID shared.UserID `json:"user_id"`

	// Level - always LevelForXP(XP), never set independently.
	Level int `json:"level"`

	// XP - lifetime experience points.
	XP int `json:"xp"`

	// Coins - lifetime coins earned.
	Coins int `json:"coins"`

	// Streak - current consecutive active days.
	Streak int `json:"streak"`

	TotalTasksCompleted  int `json:"total_tasks_completed"`
	TotalHabitsCompleted int `json:"total_habits_completed"`
	TotalJournalEntries  int `json:"total_journal_entries"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLedger returns the zero ledger a store writes when a user is first
// initialized. Callers outside persistence should not use it to stand in for
// a missing ledger.
func NewLedger(userID shared.UserID, now time.Time) Ledger {
	return Ledger{
		UserID:    userID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Counter returns the lifetime completion counter for an activity kind.
func (l Ledger) Counter(kind ActivityKind) int {
	switch kind {
	case KindTask:
		return l.TotalTasksCompleted
	case KindHabit:
		return l.TotalHabitsCompleted
	case KindJournal:
		return l.TotalJournalEntries
	default:
		return 0
	}
}

// Validate checks the ledger invariants against a level curve.
func (l Ledger) Validate(curve LevelCurve) error {
	if !l.UserID.IsValid() {
		return shared.NewDomainError("progress", "Ledger.Validate", shared.ErrInvalidID, "invalid user id")
	}
	if l.XP < 0 || l.Coins < 0 || l.Streak < 0 ||
		l.TotalTasksCompleted < 0 || l.TotalHabitsCompleted < 0 || l.TotalJournalEntries < 0 {
		return shared.NewDomainError("progress", "Ledger.Validate", shared.ErrNegativeValue, "ledger counters must be non-negative")
	}
	if l.Level != curve.LevelFor(l.XP) {
		return shared.NewDomainError("progress", "Ledger.Validate", shared.ErrInvalidState, "level does not match xp")
	}
	return nil
}

package progress

import (
	"time"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
	"github.com/habitverse/habitverse-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// STREAK
// ══════════════════════════════════════════════════════════════════════════════

// Streak tracks consecutive local days with at least one rewarded activity.
type Streak struct {
	// UserID - owner of the streak.
	UserID shared.UserID `json:"user_id"`

	// Current - days in a row, including the last active day.
	Current int `json:"current"`

	// Best - longest run ever recorded.
	Best int `json:"best"`

	// LastActiveDate - local midnight of the last active day.
	LastActiveDate time.Time `json:"last_active_date"`

	// StartDate - local midnight of the first day of the current run.
	StartDate time.Time `json:"start_date"`
}

// StreakChange describes what a recorded activity did to a streak.
type StreakChange struct {
	// Extended is true when Current grew (including the very first day).
	Extended bool

	// Broken is true when a running streak was lost to a gap and restarted.
	Broken bool

	// Previous is Current before the update.
	Previous int

	// DaysMissed is the number of whole days skipped, when Broken.
	DaysMissed int

	// NewRecord is true when Best grew.
	NewRecord bool
}

// NewStreak creates an empty streak.
func NewStreak(userID shared.UserID) Streak {
	return Streak{UserID: userID}
}

// Record returns the streak after an activity at the given time, with days
// counted in loc. Same day leaves it unchanged, the next day extends it, a gap
// restarts it at 1. Activities dated before the last active day are ignored.
func (s Streak) Record(at time.Time, loc *time.Location) (Streak, StreakChange) {
	day := timeutil.StartOfDayIn(at, loc)
	change := StreakChange{Previous: s.Current}

	if s.LastActiveDate.IsZero() {
		s.Current = 1
		s.StartDate = day
		s.LastActiveDate = day
		change.Extended = true
		if s.Best < 1 {
			s.Best = 1
			change.NewRecord = true
		}
		return s, change
	}

	diff := timeutil.DaysBetweenIn(s.LastActiveDate, day, loc)
	switch {
	case diff <= 0:
		return s, change
	case diff == 1 && s.Current > 0:
		s.Current++
		change.Extended = true
	default:
		// A gap, or a streak that was already expired to zero.
		if s.Current > 0 {
			change.Broken = true
			change.DaysMissed = diff - 1
		}
		s.Current = 1
		s.StartDate = day
		change.Extended = true
	}

	s.LastActiveDate = day
	if s.Current > s.Best {
		s.Best = s.Current
		change.NewRecord = true
	}
	return s, change
}

// IsStale reports whether the streak is still counting but the user missed
// yesterday, so it can no longer be extended.
func (s Streak) IsStale(now time.Time, loc *time.Location) bool {
	if s.Current == 0 || s.LastActiveDate.IsZero() {
		return false
	}
	return timeutil.DaysBetweenIn(s.LastActiveDate, now, loc) > 1
}

// Expire zeroes the current run. Best and LastActiveDate are kept.
func (s Streak) Expire() Streak {
	s.Current = 0
	s.StartDate = time.Time{}
	return s
}

// StaleCutoff returns the local midnight of yesterday; streaks whose last
// active day is before it are stale.
func StaleCutoff(now time.Time, loc *time.Location) time.Time {
	return timeutil.StartOfDayIn(now, loc).AddDate(0, 0, -1)
}

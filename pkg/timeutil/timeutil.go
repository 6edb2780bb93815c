// Package timeutil provides calendar-day helpers for the user's configured
// timezone. Streaks and the habit once-per-day rule both reason about local
// days, so every day boundary in the service goes through this package.
package timeutil

import (
	"fmt"
	"time"
)

// FormatDate is the standard date format (YYYY-MM-DD).
const FormatDate = "2006-01-02"

// LoadLocation resolves an IANA zone name. An empty name means UTC.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" || name == "UTC" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("timeutil: unknown timezone %q: %w", name, err)
	}
	return loc, nil
}

// StartOfDayIn returns local midnight of t in loc.
func StartOfDayIn(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DateKeyIn formats t as YYYY-MM-DD in loc.
func DateKeyIn(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(FormatDate)
}

// DaysBetweenIn returns the signed number of calendar days from t1 to t2 in loc.
// Calendar arithmetic is done on civil dates so DST transitions do not
// produce 23 or 25 hour days.
func DaysBetweenIn(t1, t2 time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	a, b := t1.In(loc), t2.In(loc)
	d1 := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	d2 := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(d2.Sub(d1).Hours() / 24)
}

// NextDailyAt returns the first moment strictly after now whose wall clock in
// loc reads hour:minute.
func NextDailyAt(now time.Time, hour, minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

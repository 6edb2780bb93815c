package scheduler

import (
	"fmt"
	"time"

	"github.com/habitverse/habitverse-core/pkg/timeutil"
)

// IntervalSchedule schedules a job to run at a fixed interval.
type IntervalSchedule struct {
	Interval time.Duration
}

// NewIntervalSchedule creates a new IntervalSchedule.
func NewIntervalSchedule(interval time.Duration) *IntervalSchedule {
	return &IntervalSchedule{Interval: interval}
}

// Next returns the next scheduled time.
func (s *IntervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.Interval)
}

func (s *IntervalSchedule) String() string {
	return fmt.Sprintf("@every %s", s.Interval)
}

// DailySchedule runs a job once a day at a wall-clock time in a location.
type DailySchedule struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// NewDailySchedule creates a schedule firing every day at hour:minute in loc.
func NewDailySchedule(hour, minute int, loc *time.Location) *DailySchedule {
	return &DailySchedule{Hour: hour, Minute: minute, Location: loc}
}

// Next returns the next hour:minute strictly after t.
func (s *DailySchedule) Next(t time.Time) time.Time {
	return timeutil.NextDailyAt(t, s.Hour, s.Minute, s.Location)
}

func (s *DailySchedule) String() string {
	loc := "UTC"
	if s.Location != nil {
		loc = s.Location.String()
	}
	return fmt.Sprintf("@daily %02d:%02d %s", s.Hour, s.Minute, loc)
}

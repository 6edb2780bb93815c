package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronSchedule fires when the wall clock in Location matches a five-field cron
// expression: minute hour day-of-month month day-of-week.
//
// Each field accepts *, n, n-m, */s, n-m/s and comma lists of those. Day of
// month and day of week must both match.
//
//	"*/15 * * * *"  every 15 minutes
//	"30 3 * * *"    every day at 03:30
//	"0 4 * * 1-5"   weekdays at 04:00
type CronSchedule struct {
	raw      string
	minutes  uint64
	hours    uint64
	days     uint64
	months   uint64
	weekdays uint64
	location *time.Location
}

var cronFields = [5]struct {
	name     string
	min, max int
}{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day", 1, 31},
	{"month", 1, 12},
	{"weekday", 0, 6},
}

// ParseCron parses a cron expression evaluated in loc (UTC when nil).
func ParseCron(expr string, loc *time.Location) (*CronSchedule, error) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron %q: expected 5 fields, got %d", expr, len(fields))
	}
	if loc == nil {
		loc = time.UTC
	}

	var masks [5]uint64
	for i, f := range fields {
		spec := cronFields[i]
		m, err := parseCronField(f, spec.min, spec.max)
		if err != nil {
			return nil, fmt.Errorf("cron %q: %s field: %w", expr, spec.name, err)
		}
		masks[i] = m
	}

	return &CronSchedule{
		raw:      expr,
		minutes:  masks[0],
		hours:    masks[1],
		days:     masks[2],
		months:   masks[3],
		weekdays: masks[4],
		location: loc,
	}, nil
}

// MustParseCron is ParseCron that panics, for expressions fixed at compile time.
func MustParseCron(expr string, loc *time.Location) *CronSchedule {
	s, err := ParseCron(expr, loc)
	if err != nil {
		panic(err)
	}
	return s
}

func parseCronField(field string, min, max int) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(field, ",") {
		m, err := parseCronPart(part, min, max)
		if err != nil {
			return 0, err
		}
		mask |= m
	}
	return mask, nil
}

func parseCronPart(part string, min, max int) (uint64, error) {
	rng, stepStr, hasStep := strings.Cut(part, "/")
	step := 1
	if hasStep {
		s, err := strconv.Atoi(stepStr)
		if err != nil || s <= 0 {
			return 0, fmt.Errorf("invalid step %q", stepStr)
		}
		step = s
	}

	lo, hi := min, max
	switch {
	case rng == "*":
	case strings.Contains(rng, "-"):
		a, b, _ := strings.Cut(rng, "-")
		var err error
		if lo, err = strconv.Atoi(a); err != nil {
			return 0, fmt.Errorf("invalid range start %q", a)
		}
		if hi, err = strconv.Atoi(b); err != nil {
			return 0, fmt.Errorf("invalid range end %q", b)
		}
	default:
		v, err := strconv.Atoi(rng)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q", rng)
		}
		lo = v
		if !hasStep {
			hi = v
		}
	}

	if lo < min || hi > max || lo > hi {
		return 0, fmt.Errorf("%q out of range [%d-%d]", part, min, max)
	}

	var mask uint64
	for v := lo; v <= hi; v += step {
		mask |= 1 << uint(v)
	}
	return mask, nil
}

// Next returns the first matching minute strictly after t. It returns the
// zero time when nothing matches within four years (e.g. "0 0 31 2 *").
func (s *CronSchedule) Next(t time.Time) time.Time {
	next := t.In(s.location).Truncate(time.Minute).Add(time.Minute)
	limit := next.AddDate(4, 0, 0)

	for next.Before(limit) {
		if s.months&(1<<uint(next.Month())) == 0 {
			next = time.Date(next.Year(), next.Month()+1, 1, 0, 0, 0, 0, s.location)
			continue
		}
		if s.days&(1<<uint(next.Day())) == 0 || s.weekdays&(1<<uint(next.Weekday())) == 0 {
			next = time.Date(next.Year(), next.Month(), next.Day()+1, 0, 0, 0, 0, s.location)
			continue
		}
		if s.hours&(1<<uint(next.Hour())) == 0 {
			next = time.Date(next.Year(), next.Month(), next.Day(), next.Hour()+1, 0, 0, 0, s.location)
			continue
		}
		if s.minutes&(1<<uint(next.Minute())) == 0 {
			next = next.Add(time.Minute)
			continue
		}
		return next
	}
	return time.Time{}
}

func (s *CronSchedule) String() string {
	return s.raw
}

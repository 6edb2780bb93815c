package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDaysBetweenIn(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)

	tests := []struct {
		name string
		t1   time.Time
		t2   time.Time
		want int
	}{
		{"same instant", time.Date(2024, 5, 1, 10, 0, 0, 0, loc), time.Date(2024, 5, 1, 10, 0, 0, 0, loc), 0},
		{"late night to early morning", time.Date(2024, 5, 1, 23, 59, 0, 0, loc), time.Date(2024, 5, 2, 0, 1, 0, 0, loc), 1},
		{"gap of three days", time.Date(2024, 5, 1, 8, 0, 0, 0, loc), time.Date(2024, 5, 4, 7, 0, 0, 0, loc), 3},
		{"backwards", time.Date(2024, 5, 4, 8, 0, 0, 0, loc), time.Date(2024, 5, 1, 8, 0, 0, 0, loc), -3},
		// 20:00 UTC on May 1 is already May 2 in UTC+5.
		{"utc input crosses local midnight", time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC), time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysBetweenIn(tt.t1, tt.t2, loc))
		})
	}
}

func TestDaysBetweenIn_DST(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// DST starts 2024-03-10; that day is 23 hours long.
	before := time.Date(2024, 3, 10, 0, 30, 0, 0, loc)
	after := time.Date(2024, 3, 11, 0, 10, 0, 0, loc)
	assert.Equal(t, 1, DaysBetweenIn(before, after, loc))
}

func TestDateKeyIn(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*60*60)
	ts := time.Date(2024, 5, 2, 3, 0, 0, 0, time.UTC)

	assert.Equal(t, "2024-05-02", DateKeyIn(ts, time.UTC))
	assert.Equal(t, "2024-05-01", DateKeyIn(ts, loc))
	assert.Equal(t, "2024-05-02", DateKeyIn(ts, nil))
}

func TestStartOfDayIn(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*60*60)
	ts := time.Date(2024, 5, 1, 21, 30, 0, 0, time.UTC)

	got := StartOfDayIn(ts, loc)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, loc), got)
}

func TestNextDailyAt(t *testing.T) {
	loc := time.UTC

	t.Run("later today", func(t *testing.T) {
		now := time.Date(2024, 5, 1, 1, 0, 0, 0, loc)
		assert.Equal(t, time.Date(2024, 5, 1, 3, 15, 0, 0, loc), NextDailyAt(now, 3, 15, loc))
	})

	t.Run("already passed", func(t *testing.T) {
		now := time.Date(2024, 5, 1, 3, 15, 0, 0, loc)
		assert.Equal(t, time.Date(2024, 5, 2, 3, 15, 0, 0, loc), NextDailyAt(now, 3, 15, loc))
	})
}

func TestLoadLocation(t *testing.T) {
	loc, err := LoadLocation("")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	loc, err = LoadLocation("UTC")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)

	_, err = LoadLocation("Not/AZone")
	assert.ErrorContains(t, err, `unknown timezone "Not/AZone"`)
}

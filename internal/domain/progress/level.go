package progress

import (
	"math"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// DefaultXPPerLevel is the width of every level band.
const DefaultXPPerLevel = 1000

// LevelCurve maps lifetime XP to a level. Leaving level L costs L*XPPerLevel,
// so level L starts at XPPerLevel*L*(L-1)/2: 0, 1000, 3000, 6000, ...
type LevelCurve struct {
	XPPerLevel int `json:"xp_per_level" yaml:"xp_per_level"`
}

// DefaultCurve returns the 1000 XP per level curve.
func DefaultCurve() LevelCurve {
	return LevelCurve{XPPerLevel: DefaultXPPerLevel}
}

// Validate checks the curve is usable.
func (c LevelCurve) Validate() error {
	if c.XPPerLevel <= 0 {
		return shared.NewDomainError("progress", "LevelCurve.Validate", shared.ErrValueOutOfRange, "xp_per_level must be positive")
	}
	return nil
}

func (c LevelCurve) band() int {
	if c.XPPerLevel <= 0 {
		return DefaultXPPerLevel
	}
	return c.XPPerLevel
}

// LevelStart returns the lifetime XP at which level starts.
func (c LevelCurve) LevelStart(level int) int {
	if level <= 1 {
		return 0
	}
	return c.band() * level * (level - 1) / 2
}

// LevelFor returns the level for an XP total. Negative XP is treated as 0.
func (c LevelCurve) LevelFor(xp int) int {
	if xp < 0 {
		xp = 0
	}
	// Start from the closed-form estimate and settle on the exact band.
	level := int((1 + math.Sqrt(1+8*float64(xp)/float64(c.band()))) / 2)
	level = max(level, 1)
	for level > 1 && c.LevelStart(level) > xp {
		level--
	}
	for c.LevelStart(level+1) <= xp {
		level++
	}
	return level
}

// XPToNext returns level*XPPerLevel - xp, never below 0.
func (c LevelCurve) XPToNext(xp, level int) int {
	return max(0, level*c.band()-xp)
}

// ProgressPercent returns how much of the current level band is already
// earned, in [0, 100).
func (c LevelCurve) ProgressPercent(xp int) int {
	if xp < 0 {
		return 0
	}
	level := c.LevelFor(xp)
	return (xp - c.LevelStart(level)) * 100 / (level * c.band())
}

// LevelForXP computes the level on the default curve.
func LevelForXP(xp int) int {
	return DefaultCurve().LevelFor(xp)
}

// XPToNextLevel computes max(0, level*1000 - xp) on the default curve.
func XPToNextLevel(xp, level int) int {
	return DefaultCurve().XPToNext(xp, level)
}

// LevelProgressPercent computes the band progress on the default curve.
func LevelProgressPercent(xp int) int {
	return DefaultCurve().ProgressPercent(xp)
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
)

// RewardsConfig is the reward policy: payouts per activity kind and the level curve.
type RewardsConfig struct {
	// File is the optional YAML policy file the values were read from.
	File string

	Table progress.RewardTable
	Curve progress.LevelCurve

	// HabitOncePerDay keys habit rewards by habit and local day.
	HabitOncePerDay bool
}

// DefaultRewardsConfig returns the stock policy.
func DefaultRewardsConfig() RewardsConfig {
	return RewardsConfig{
		Table:           progress.DefaultRewardTable(),
		Curve:           progress.DefaultCurve(),
		HabitOncePerDay: true,
	}
}

// Validate checks payouts are non-negative and the curve is usable.
func (r RewardsConfig) Validate() error {
	if err := r.Table.Validate(); err != nil {
		return err
	}
	return r.Curve.Validate()
}

// Engine builds a reward engine from the policy.
func (r RewardsConfig) Engine() *progress.Engine {
	return progress.NewEngine(r.Table, r.Curve)
}

// rewardsFile mirrors the YAML layout. Pointers distinguish "absent" from 0.
//
//	xp_per_level: 1000
//	habit_once_per_day: true
//	rewards:
//	  task:    {xp: 50, coins: 10}
//	  habit:   {xp: 25, coins: 5}
//	  journal: {xp: 20, coins: 3}
type rewardsFile struct {
	XPPerLevel      *int                  `yaml:"xp_per_level"`
	HabitOncePerDay *bool                 `yaml:"habit_once_per_day"`
	Rewards         map[string]rewardSpec `yaml:"rewards"`
}

type rewardSpec struct {
	XP    *int `yaml:"xp"`
	Coins *int `yaml:"coins"`
}

// LoadRewardsFile reads a YAML policy file on top of base.
func LoadRewardsFile(path string, base RewardsConfig) (RewardsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("read rewards file: %w", err)
	}
	cfg, err := ParseRewards(data, base)
	if err != nil {
		return base, fmt.Errorf("rewards file %s: %w", path, err)
	}
	cfg.File = path
	return cfg, nil
}

// ParseRewards applies a YAML document on top of base. Keys that are missing
// keep the base value; unknown activity kinds are rejected.
func ParseRewards(data []byte, base RewardsConfig) (RewardsConfig, error) {
	var f rewardsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return base, fmt.Errorf("parse yaml: %w", err)
	}

	cfg := base
	if f.XPPerLevel != nil {
		cfg.Curve.XPPerLevel = *f.XPPerLevel
	}
	if f.HabitOncePerDay != nil {
		cfg.HabitOncePerDay = *f.HabitOncePerDay
	}

	for name, spec := range f.Rewards {
		kind, err := progress.ParseActivityKind(name)
		if err != nil {
			return base, err
		}

		var target *progress.Reward
		switch kind {
		case progress.KindTask:
			target = &cfg.Table.Task
		case progress.KindHabit:
			target = &cfg.Table.Habit
		case progress.KindJournal:
			target = &cfg.Table.Journal
		}
		if spec.XP != nil {
			target.XP = *spec.XP
		}
		if spec.Coins != nil {
			target.Coins = *spec.Coins
		}
	}

	if err := cfg.Validate(); err != nil {
		return base, err
	}
	return cfg, nil
}

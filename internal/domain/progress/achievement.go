package progress

import (
	"fmt"
	"strings"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT CATALOG
// ══════════════════════════════════════════════════════════════════════════════

// Category selects which ledger field drives an achievement's progress.
type Category string

const (
	CategoryTasks   Category = "tasks"
	CategoryHabits  Category = "habits"
	CategoryStreaks Category = "streaks"
	CategoryJournal Category = "journal"
	CategoryLevels  Category = "levels"
)

// IsValid checks if the category is known.
func (c Category) IsValid() bool {
	switch c {
	case CategoryTasks, CategoryHabits, CategoryStreaks, CategoryJournal, CategoryLevels:
		return true
	}
	return false
}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", shared.NewDomainError("progress", "ParseCategory", shared.ErrInvalidInput,
			fmt.Sprintf("unknown achievement category %q", s))
	}
	return c, nil
}

// Rarity is a display tier; it has no effect on evaluation.
type Rarity string

const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// IsValid checks if the rarity is known.
func (r Rarity) IsValid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// ParseRarity parses a rarity name, case-insensitively.
func ParseRarity(s string) (Rarity, error) {
	r := Rarity(strings.ToLower(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", shared.NewDomainError("progress", "ParseRarity", shared.ErrInvalidInput,
			fmt.Sprintf("unknown rarity %q", s))
	}
	return r, nil
}

// AchievementDefinition is a static catalog entry.
type AchievementDefinition struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    Category `json:"category"`
	MaxProgress int      `json:"max_progress"`
	XPReward    int      `json:"xp_reward"`
	Rarity      Rarity   `json:"rarity"`
}

// Catalog is an ordered list of definitions. Order is significant: evaluation
// results follow it.
type Catalog []AchievementDefinition

// Validate checks ids are unique and every entry is well formed.
func (c Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c))
	for i, def := range c {
		if def.ID == "" {
			return shared.NewDomainError("progress", "Catalog.Validate", shared.ErrEmptyValue,
				fmt.Sprintf("entry %d has no id", i))
		}
		if _, dup := seen[def.ID]; dup {
			return shared.NewDomainError("progress", "Catalog.Validate", shared.ErrAlreadyExists,
				fmt.Sprintf("duplicate achievement id %q", def.ID))
		}
		seen[def.ID] = struct{}{}

		if !def.Category.IsValid() {
			return shared.NewDomainError("progress", "Catalog.Validate", shared.ErrInvalidInput,
				fmt.Sprintf("%s: unknown category %q", def.ID, def.Category))
		}
		if def.MaxProgress < 1 {
			return shared.NewDomainError("progress", "Catalog.Validate", shared.ErrValueOutOfRange,
				fmt.Sprintf("%s: max_progress must be at least 1", def.ID))
		}
		if def.XPReward < 0 {
			return shared.NewDomainError("progress", "Catalog.Validate", shared.ErrNegativeValue,
				fmt.Sprintf("%s: xp_reward must be non-negative", def.ID))
		}
	}
	return nil
}

// Find returns the definition with the given id.
func (c Catalog) Find(id string) (AchievementDefinition, bool) {
	for _, def := range c {
		if def.ID == id {
			return def, true
		}
	}
	return AchievementDefinition{}, false
}

// DefaultCatalog returns the built-in catalog of sixteen achievements.
func DefaultCatalog() Catalog {
	return Catalog{
		// Tasks
		{ID: "first-task", Title: "Getting Started", Description: "Complete your first task", Category: CategoryTasks, MaxProgress: 1, XPReward: 50, Rarity: RarityCommon},
		{ID: "task-warrior", Title: "Task Warrior", Description: "Complete 50 tasks", Category: CategoryTasks, MaxProgress: 50, XPReward: 500, Rarity: RarityRare},
		{ID: "task-master", Title: "Task Master", Description: "Complete 100 tasks", Category: CategoryTasks, MaxProgress: 100, XPReward: 1000, Rarity: RarityEpic},
		{ID: "task-legend", Title: "Task Legend", Description: "Complete 500 tasks", Category: CategoryTasks, MaxProgress: 500, XPReward: 2500, Rarity: RarityLegendary},

		// Habits
		{ID: "first-habit", Title: "Habit Starter", Description: "Complete your first habit", Category: CategoryHabits, MaxProgress: 1, XPReward: 25, Rarity: RarityCommon},
		{ID: "habit-builder", Title: "Habit Builder", Description: "Complete 30 habits", Category: CategoryHabits, MaxProgress: 30, XPReward: 300, Rarity: RarityRare},
		{ID: "habit-champion", Title: "Habit Champion", Description: "Complete 100 habits", Category: CategoryHabits, MaxProgress: 100, XPReward: 750, Rarity: RarityEpic},

		// Streaks
		{ID: "streak-3", Title: "Getting Consistent", Description: "Maintain a 3-day streak", Category: CategoryStreaks, MaxProgress: 3, XPReward: 100, Rarity: RarityCommon},
		{ID: "streak-7", Title: "Week Warrior", Description: "Maintain a 7-day streak", Category: CategoryStreaks, MaxProgress: 7, XPReward: 250, Rarity: RarityRare},
		{ID: "streak-30", Title: "Month Master", Description: "Maintain a 30-day streak", Category: CategoryStreaks, MaxProgress: 30, XPReward: 1000, Rarity: RarityEpic},
		{ID: "streak-100", Title: "Centurion", Description: "Maintain a 100-day streak", Category: CategoryStreaks, MaxProgress: 100, XPReward: 5000, Rarity: RarityLegendary},

		// Journal
		{ID: "first-journal", Title: "First Thoughts", Description: "Write your first journal entry", Category: CategoryJournal, MaxProgress: 1, XPReward: 30, Rarity: RarityCommon},
		{ID: "journal-writer", Title: "Thoughtful Writer", Description: "Write 20 journal entries", Category: CategoryJournal, MaxProgress: 20, XPReward: 400, Rarity: RarityRare},

		// Levels
		{ID: "level-5", Title: "Rising Star", Description: "Reach level 5", Category: CategoryLevels, MaxProgress: 5, XPReward: 200, Rarity: RarityCommon},
		{ID: "level-10", Title: "Experienced User", Description: "Reach level 10", Category: CategoryLevels, MaxProgress: 10, XPReward: 500, Rarity: RarityRare},
		{ID: "level-25", Title: "Power User", Description: "Reach level 25", Category: CategoryLevels, MaxProgress: 25, XPReward: 2000, Rarity: RarityEpic},
	}
}

package progress

import (
	"fmt"
	"strings"

	"github.com/habitverse/habitverse-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACTIVITY KINDS
// ══════════════════════════════════════════════════════════════════════════════

// ActivityKind is the type of a completed user activity.
type ActivityKind string

const (
	KindTask    ActivityKind = "task"
	KindHabit   ActivityKind = "habit"
	KindJournal ActivityKind = "journal"
)

// AllKinds lists the rewardable activity kinds.
func AllKinds() []ActivityKind {
	return []ActivityKind{KindTask, KindHabit, KindJournal}
}

// IsValid checks if the kind is one of the known kinds.
func (k ActivityKind) IsValid() bool {
	switch k {
	case KindTask, KindHabit, KindJournal:
		return true
	}
	return false
}

func (k ActivityKind) String() string {
	return string(k)
}

// ParseActivityKind parses a kind name, case-insensitively.
func ParseActivityKind(s string) (ActivityKind, error) {
	k := ActivityKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.IsValid() {
		return "", shared.NewDomainError("progress", "ParseActivityKind", shared.ErrInvalidInput,
			fmt.Sprintf("unknown activity kind %q", s))
	}
	return k, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REWARD EVENT & TABLE
// ══════════════════════════════════════════════════════════════════════════════

// RewardEvent describes one completed activity and what it pays.
type RewardEvent struct {
	Kind     ActivityKind `json:"kind"`
	XPGain   int          `json:"xp_gain"`
	CoinGain int          `json:"coin_gain"`
}

// Validate rejects unknown kinds and negative gains.
func (e RewardEvent) Validate() error {
	if !e.Kind.IsValid() {
		return shared.NewDomainError("progress", "RewardEvent.Validate", shared.ErrInvalidInput,
			fmt.Sprintf("unknown activity kind %q", e.Kind))
	}
	if e.XPGain < 0 || e.CoinGain < 0 {
		return shared.NewDomainError("progress", "RewardEvent.Validate", shared.ErrNegativeValue, "reward gains must be non-negative")
	}
	return nil
}

// Reward is the payout for one activity kind.
type Reward struct {
	XP    int `json:"xp" yaml:"xp"`
	Coins int `json:"coins" yaml:"coins"`
}

// RewardTable is the payout per activity kind.
type RewardTable struct {
	Task    Reward `json:"task" yaml:"task"`
	Habit   Reward `json:"habit" yaml:"habit"`
	Journal Reward `json:"journal" yaml:"journal"`
}

// DefaultRewardTable returns the stock payouts.
func DefaultRewardTable() RewardTable {
	return RewardTable{
		Task:    Reward{XP: 50, Coins: 10},
		Habit:   Reward{XP: 25, Coins: 5},
		Journal: Reward{XP: 20, Coins: 3},
	}
}

// For returns the payout for a kind.
func (t RewardTable) For(kind ActivityKind) (Reward, error) {
	switch kind {
	case KindTask:
		return t.Task, nil
	case KindHabit:
		return t.Habit, nil
	case KindJournal:
		return t.Journal, nil
	}
	return Reward{}, shared.NewDomainError("progress", "RewardTable.For", shared.ErrInvalidInput,
		fmt.Sprintf("unknown activity kind %q", kind))
}

// Validate checks that no payout is negative.
func (t RewardTable) Validate() error {
	for _, kind := range AllKinds() {
		r, _ := t.For(kind)
		if r.XP < 0 || r.Coins < 0 {
			return shared.NewDomainError("progress", "RewardTable.Validate", shared.ErrNegativeValue,
				fmt.Sprintf("%s reward must be non-negative", kind))
		}
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ══════════════════════════════════════════════════════════════════════════════

// Engine applies rewards using a configured table and level curve.
type Engine struct {
	table RewardTable
	curve LevelCurve
}

// NewEngine creates an engine. Zero-valued curves fall back to the default.
func NewEngine(table RewardTable, curve LevelCurve) *Engine {
	if curve.XPPerLevel <= 0 {
		curve = DefaultCurve()
	}
	return &Engine{table: table, curve: curve}
}

// DefaultEngine returns an engine with the stock table and curve.
func DefaultEngine() *Engine {
	return NewEngine(DefaultRewardTable(), DefaultCurve())
}

// Table returns the engine's reward table.
func (e *Engine) Table() RewardTable { return e.table }

// Curve returns the engine's level curve.
func (e *Engine) Curve() LevelCurve { return e.curve }

// EventFor builds the reward event for a completed activity.
func (e *Engine) EventFor(kind ActivityKind) (RewardEvent, error) {
	r, err := e.table.For(kind)
	if err != nil {
		return RewardEvent{}, err
	}
	return RewardEvent{Kind: kind, XPGain: r.XP, CoinGain: r.Coins}, nil
}

// Apply returns the ledger after one reward. It does not deduplicate:
// applying the same event twice pays twice. Validation of the event is the
// caller's job.
func (e *Engine) Apply(l Ledger, ev RewardEvent) Ledger {
	l.XP += ev.XPGain
	l.Coins += ev.CoinGain

	switch ev.Kind {
	case KindTask:
		l.TotalTasksCompleted++
	case KindHabit:
		l.TotalHabitsCompleted++
	case KindJournal:
		l.TotalJournalEntries++
	}

	l.Level = e.curve.LevelFor(l.XP)
	return l
}

// ApplyReward applies a reward on the default curve.
func ApplyReward(l Ledger, ev RewardEvent) Ledger {
	return DefaultEngine().Apply(l, ev)
}

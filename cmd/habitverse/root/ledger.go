package root

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/application/query"
	"github.com/habitverse/habitverse-core/internal/domain/progress"
	"github.com/habitverse/habitverse-core/pkg/logger"
)

func newLedgerCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ledger <user-id>",
		Short: "Show a user's ledger, level progress and achievements",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cfg.Database.UseMemory() {
				return errNoDatabase
			}
			log := newLogger(cfg, os.Stderr)

			in, err := openInfra(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer in.Close()

			report, err := loadLedgerReport(cmd.Context(), in.store, cfg, log, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			return printLedgerReport(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// ledgerReport is what the ledger command prints.
type ledgerReport struct {
	Ledger       *query.LedgerView       `json:"ledger"`
	Achievements *query.AchievementsView `json:"achievements"`
}

// loadLedgerReport reads straight from the store, skipping any cache.
func loadLedgerReport(ctx context.Context, store progress.Store, cfg *config.Config, log *logger.Logger, userID string) (*ledgerReport, error) {
	view, err := query.NewGetLedgerHandler(store, nil, cfg.Rewards.Curve, 0, log).
		Handle(ctx, query.GetLedgerQuery{UserID: userID, BypassCache: true})
	if err != nil {
		return nil, err
	}
	achievements, err := query.NewGetAchievementsHandler(store, progress.DefaultCatalog(), cfg.Features, log).
		Handle(ctx, query.GetAchievementsQuery{UserID: userID})
	if err != nil {
		return nil, err
	}
	return &ledgerReport{Ledger: view, Achievements: achievements}, nil
}

func printLedgerReport(out io.Writer, r *ledgerReport) error {
	l := r.Ledger
	fmt.Fprintf(out, "User:     %s\n", l.UserID)
	fmt.Fprintf(out, "Level:    %d (%d%%, %d XP to level %d)\n", l.Level, l.LevelProgressPercent, l.XPToNextLevel, l.Level+1)
	fmt.Fprintf(out, "XP:       %d\n", l.XP)
	fmt.Fprintf(out, "Coins:    %d\n", l.Coins)
	fmt.Fprintf(out, "Streak:   %d (best %d)\n", l.Streak, l.BestStreak)
	fmt.Fprintf(out, "Tasks:    %d\n", l.TotalTasksCompleted)
	fmt.Fprintf(out, "Habits:   %d\n", l.TotalHabitsCompleted)
	fmt.Fprintf(out, "Journal:  %d\n", l.TotalJournalEntries)

	s := r.Achievements.Summary
	fmt.Fprintf(out, "\nAchievements: %d/%d unlocked (%d%%)\n", s.Unlocked, s.Total, s.CompletionPercent)
	for _, st := range r.Achievements.Statuses {
		mark := " "
		if st.IsUnlocked {
			mark = "x"
		}
		fmt.Fprintf(out, "  [%s] %-20s %d/%d\n", mark, st.ID, st.Progress, st.MaxProgress)
	}
	return nil
}

package root

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/habitverse/habitverse-core/config"
	"github.com/habitverse/habitverse-core/internal/infrastructure/persistence/postgres"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}
	cmd.AddCommand(
		newMigrateRunCmd("up", "Apply all pending migrations", func(ctx context.Context, m *postgres.Migrator, out io.Writer) error {
			n, err := m.Migrate(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "applied %d migration(s)\n", n)
			return nil
		}),
		newMigrateRunCmd("down", "Roll back the latest migration", func(ctx context.Context, m *postgres.Migrator, out io.Writer) error {
			version, err := m.Rollback(ctx)
			if err != nil {
				return err
			}
			if version == 0 {
				fmt.Fprintln(out, "nothing to roll back")
				return nil
			}
			fmt.Fprintf(out, "rolled back migration %d\n", version)
			return nil
		}),
		newMigrateRunCmd("status", "List migrations and whether they are applied", func(ctx context.Context, m *postgres.Migrator, out io.Writer) error {
			migrations, err := m.Status(ctx)
			if err != nil {
				return err
			}
			return printMigrations(out, migrations)
		}),
	)
	return cmd
}

func newMigrateRunCmd(use, short string, run func(context.Context, *postgres.Migrator, io.Writer) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := newLogger(cfg, os.Stderr)

			conn, err := openConnection(cmd.Context(), cfg, log, false)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := run(cmd.Context(), postgres.NewMigrator(conn), cmd.OutOrStdout()); err != nil {
				return fmt.Errorf("migrate %s: %w", use, err)
			}
			return nil
		},
	}
}

func printMigrations(out io.Writer, migrations []postgres.Migration) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, m := range migrations {
		status, at := "pending", "-"
		if m.IsApplied {
			status = "applied"
			at = m.AppliedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Version, m.Name, status, at)
	}
	return tw.Flush()
}

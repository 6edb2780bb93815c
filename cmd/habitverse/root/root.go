// Package root holds the habitverse command tree.
package root

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.1.0"

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "habitverse",
		Short:         "HabitVerse progress and reward engine",
		Long:          "habitverse serves the progress API and runs the maintenance commands of the reward engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Version = Version
	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newCatalogCmd(),
		newLedgerCmd(),
		newHashKeyCmd(),
	)
	return cmd
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		os.Exit(1)
	}
}

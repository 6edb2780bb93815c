package root

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/habitverse/habitverse-core/internal/domain/progress"
)

func newCatalogCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the achievement catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog := progress.DefaultCatalog()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), catalog)
			}
			return printCatalog(cmd.OutOrStdout(), catalog)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func printCatalog(out io.Writer, catalog progress.Catalog) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tCATEGORY\tTARGET\tXP\tRARITY")
	for _, def := range catalog {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\n",
			def.ID, def.Title, def.Category, def.MaxProgress, def.XPReward, def.Rarity)
	}
	return tw.Flush()
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

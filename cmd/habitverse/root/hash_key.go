package root

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/habitverse/habitverse-core/internal/interface/http/handlers"
)

func newHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <key>",
		Short: "Hash an API key for HTTP_API_KEY_HASHES",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return fmt.Errorf("key must not be empty")
			}
			hash, err := handlers.HashKey(args[0])
			if err != nil {
				return fmt.Errorf("failed to hash key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

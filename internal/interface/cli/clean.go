package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCleanCmd() *cobra.Command {
	var ttlMin int

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Reset stale in-progress ledger entries back to PENDING",
		RunE: func(cmd *cobra.Command, args []string) error {
			ldg, _, err := openLedger()
			if err != nil {
				return err
			}
			defer ldg.Close()

			ttl := Config().StaleTTL()
			if ttlMin > 0 {
				ttl = time.Duration(ttlMin) * time.Minute
			}

			ids, err := ldg.CleanStale(cmd.Context(), ttl)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing stale to clean")
				return nil
			}
			for _, id := range ids {
				fmt.Fprintf(cmd.OutOrStdout(), "reset %s to PENDING\n", id)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&ttlMin, "ttl", 0, "staleness age in minutes (default from settings)")
	return cmd
}

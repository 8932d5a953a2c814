package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

func newListCmd() *cobra.Command {
	var pendingOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items known to the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ldg, _, err := openLedger()
			if err != nil {
				return err
			}
			defer ldg.Close()

			records, err := ldg.List(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ITEM\tSTATUS\tSTAGE\tATTEMPT\tSTALE\tUPDATED")
			shown := 0
			for _, r := range records {
				if pendingOnly && !r.Status.IsActive() {
					continue
				}
				stale := ""
				if r.Stale {
					stale = "stale"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					r.ItemID, r.Status, r.CurrentStage, r.Attempt, stale,
					r.UpdatedAt.Local().Format(time.RFC3339))
				shown++
			}
			if err := w.Flush(); err != nil {
				return err
			}

			counts, err := ldg.StatusCounts(cmd.Context())
			if err != nil {
				return err
			}
			// Every status appears in the summary, zero counts included
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d item(s)", shown)
			for _, st := range workitem.AllStatuses() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s=%d", st, counts[st])
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&pendingOnly, "pending", false, "only items that are not terminal")
	return cmd
}

package cli

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Compare the ledger against on-disk artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ldg, paths, err := openLedger()
			if err != nil {
				return err
			}
			defer ldg.Close()

			report, err := ldg.Reconcile(cmd.Context(), afero.NewOsFs(), paths.Artifacts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "consistent: %d\n", len(report.Consistent))
			for _, st := range workitem.AllStatuses() {
				fmt.Fprintf(out, "  %s: %d\n", st, report.StatusCounts[st])
			}

			if len(report.MissingArtifact) > 0 {
				fmt.Fprintf(out, "\nledger entries without an artifact (%d):\n", len(report.MissingArtifact))
				for _, id := range report.MissingArtifact {
					fmt.Fprintf(out, "  %s\n", id)
				}
			}
			if len(report.Untracked) > 0 {
				fmt.Fprintf(out, "\nartifacts without a ledger entry (%d):\n", len(report.Untracked))
				for _, name := range report.Untracked {
					fmt.Fprintf(out, "  %s\n", name)
				}
			}
			if len(report.MissingArtifact) == 0 && len(report.Untracked) == 0 {
				fmt.Fprintln(out, "\nledger and artifacts agree")
			}
			return nil
		},
	}
}

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <item-id>",
		Short: "Show one item's ledger state, last feedback, and stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ldg, _, err := openLedger()
			if err != nil {
				return err
			}
			defer ldg.Close()

			rec, err := ldg.Find(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if rec == nil {
				return fmt.Errorf("no ledger entry for %q", args[0])
			}
			history, err := ldg.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				payload := map[string]interface{}{
					"item_id":       rec.ItemID,
					"status":        rec.Status,
					"current_stage": rec.CurrentStage,
					"attempt":       rec.Attempt,
					"is_retry":      rec.IsRetry,
					"stale":         rec.Stale,
					"artifact_path": rec.ArtifactPath,
					"diagnostics":   rec.Diagnostics,
					"updated_at":    rec.UpdatedAt,
				}
				if rec.Feedback != nil {
					payload["feedback"] = rec.Feedback
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}

			fmt.Fprintf(out, "item:    %s\n", rec.ItemID)
			fmt.Fprintf(out, "status:  %s\n", rec.Status)
			fmt.Fprintf(out, "stage:   %s (attempt %d)\n", rec.CurrentStage, rec.Attempt)
			if rec.Stale {
				fmt.Fprintln(out, "stale:   yes")
			}
			if rec.ArtifactPath != "" {
				fmt.Fprintf(out, "artifact: %s\n", rec.ArtifactPath)
			}
			if rec.Diagnostics != "" {
				fmt.Fprintf(out, "diagnostics: %s\n", rec.Diagnostics)
			}
			if rec.Feedback != nil {
				fmt.Fprintf(out, "\nlast feedback (attempt %d):\n", rec.Feedback.AttemptNumber)
				for _, issue := range rec.Feedback.FailingIssues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			if len(history) > 0 {
				fmt.Fprintln(out, "\nhistory:")
				for _, h := range history {
					detail := ""
					if h.Detail != "" {
						detail = "  " + h.Detail
					}
					fmt.Fprintf(out, "  %s  %-13s %-11s %4dms%s\n",
						h.CreatedAt.Local().Format(time.TimeOnly), h.Stage, h.Disposition, h.DurationMs, detail)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}

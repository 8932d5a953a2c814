package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/app/config"
	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
	"github.com/stagehand-dev/stagehand/internal/gate"
	"github.com/stagehand-dev/stagehand/internal/infra/catalog"
	"github.com/stagehand-dev/stagehand/internal/infra/ledger"
	"github.com/stagehand-dev/stagehand/internal/infra/scratchpad"
	"github.com/stagehand-dev/stagehand/internal/pipeline"
	"github.com/stagehand-dev/stagehand/internal/skill"
)

// NewRunCmd builds the run command. Config and logger come through
// accessors because the root command loads them in PersistentPreRunE,
// after command construction.
func NewRunCmd(getCfg func() config.Config, getLog func() app.Logger) *cobra.Command {
	var (
		payloadRef string
		attempts   int
		force      bool
		recheck    bool
	)

	cmd := &cobra.Command{
		Use:   "run <item-id>",
		Short: "Drive one work item through the stage pipeline",
		Long: `Drive one work item through INGEST, RESEARCH, TRANSFORM, ELEVATE,
VALIDATE and QUALITY_AUDIT. Completed stages are cached, so re-running a
failed or interrupted item resumes where it left off.

Exit codes: 0 done, 1 fatal, 2 needs revision, 3 quality audit failed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runItem(cmd, args[0], getCfg(), getLog(), payloadRef, attempts, force, recheck)
		},
	}

	cmd.Flags().StringVar(&payloadRef, "payload", "", "reference to the item's source payload")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "attempt cap override for this run")
	cmd.Flags().BoolVar(&force, "force", false, "take over an item the ledger says is in progress")
	cmd.Flags().BoolVar(&recheck, "recheck", false, "re-run the gates over already-produced content; a gate failure is immediately terminal")
	return cmd
}

func runItem(cmd *cobra.Command, itemID string, cfg config.Config, log app.Logger, payloadRef string, attempts int, force, recheck bool) error {
	ctx := cmd.Context()
	paths := app.ResolvePathsIn(cfg.Home())
	fsys := afero.NewOsFs()

	ldg, err := ledger.Open(paths.LedgerDB)
	if err != nil {
		return err
	}
	defer ldg.Close()

	existing, err := ldg.Find(ctx, itemID)
	if err != nil {
		return err
	}
	item, err := prepareItem(itemID, payloadRef, existing, force)
	if err != nil {
		return err
	}

	cat, err := catalog.Load(fsys, paths.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	if cat.Available() {
		log.Debug("catalog loaded with %d entries", cat.Len())
	}

	executor := skill.NewExecutor(cfg.SkillBin(), log)
	executor.TransientThreshold = cfg.TransientThreshold()
	executor.TransientBackoff = cfg.TransientBackoff()

	cap := cfg.AttemptCap()
	if attempts > 0 {
		cap = attempts
	}
	entryPoint := pipeline.EntryPointRun
	if recheck {
		entryPoint = pipeline.EntryPointRecheck
		if err := item.MoveTo(workitem.StageValidate); err != nil {
			return err
		}
	}

	seq := pipeline.NewSequencer(pipeline.Deps{
		Config:    cfg,
		Pad:       scratchpad.New(fsys, paths.Cache),
		Ledger:    ldg,
		Runner:    executor,
		Auditor:   gate.NewAuditor(executor, cfg.StageTimeout(workitem.StageQualityAudit.String()), log),
		Rules:     gate.DefaultRuleSet(),
		Catalog:   cat,
		Retry:     pipeline.NewRetryCoordinator(cap, entryPoint, log),
		FS:        fsys,
		Artifacts: paths.Artifacts,
		Log:       log,
	})

	guard := NewShutdownGuard(log)
	defer guard.Stop()
	seq.Interrupted = guard.Requested
	seq.AfterStage = func(it *workitem.WorkItem, out pipeline.Outcome) {
		if err := app.WriteHealth(paths.Health, it.ID, out.Stage.String(), out.Kind != pipeline.OutcomeFailed, out.Reason); err != nil {
			log.Warn("write health snapshot: %v", err)
		}
		if out.Kind == pipeline.OutcomeContinue {
			fmt.Fprintf(cmd.OutOrStdout(), "%-13s %s\n", out.Stage, stageNote(out))
		}
	}

	out, err := seq.Run(ctx, item)
	if errors.Is(err, pipeline.ErrInterrupted) {
		return app.NewExitError(app.ExitFatal, "interrupted; ledger entry marked stale, re-run to resume")
	}
	if err != nil {
		return err
	}

	switch out.Kind {
	case pipeline.OutcomeDone:
		fmt.Fprintf(cmd.OutOrStdout(), "%s done\n", item.ID)
		return nil
	case pipeline.OutcomeFailed:
		return exitForStatus(item.Status, out.Reason)
	default:
		return fmt.Errorf("run ended in unexpected state %s", out.Kind)
	}
}

// prepareItem decides between taking over an in-progress ledger entry and
// starting a fresh cycle. Terminal entries always restart; the scratch pad
// carries their completed stages forward.
func prepareItem(itemID, payloadRef string, existing *ledger.ProgressRecord, force bool) (*workitem.WorkItem, error) {
	if existing == nil || existing.Status.IsTerminal() || existing.Status == workitem.StatusPending {
		if payloadRef == "" && existing != nil {
			payloadRef = existing.PayloadRef
		}
		return workitem.New(itemID, payloadRef)
	}

	// IN_PROGRESS: another run owns it unless the operator forces a takeover
	if !force {
		return nil, app.NewExitError(app.ExitFatal,
			fmt.Sprintf("%s is already in progress (stage %s); use --force to take it over or clean if it is stale",
				itemID, existing.CurrentStage))
	}
	if payloadRef == "" {
		payloadRef = existing.PayloadRef
	}
	return &workitem.WorkItem{
		ID:           itemID,
		PayloadRef:   payloadRef,
		CurrentStage: existing.CurrentStage,
		Attempt:      existing.Attempt,
		Status:       workitem.StatusInProgress,
		IsRetry:      existing.IsRetry,
		Feedback:     existing.Feedback,
		CreatedAt:    existing.CreatedAt,
		UpdatedAt:    existing.UpdatedAt,
	}, nil
}

func exitForStatus(status workitem.Status, reason string) error {
	switch status {
	case workitem.StatusRevisionNeeded:
		return app.NewExitError(app.ExitRevisionNeeded, "needs revision: "+reason)
	case workitem.StatusQCFailed:
		return app.NewExitError(app.ExitQCFailed, "quality audit failed: "+reason)
	default:
		return app.NewExitError(app.ExitFatal, reason)
	}
}

func stageNote(out pipeline.Outcome) string {
	if out.Cached {
		return "cached"
	}
	return fmt.Sprintf("completed in %s", out.Duration.Round(time.Millisecond))
}

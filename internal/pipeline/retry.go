package pipeline

import (
	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/domain/verdict"
	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

// EntryPoint identifies how the pipeline was invoked. It decides which
// terminal status a capped gate failure maps to and whether gate failures
// get a retry budget at all.
type EntryPoint string

const (
	// EntryPointRun is a full pipeline run; gate failures are retried with
	// feedback up to the attempt cap.
	EntryPointRun EntryPoint = "run"
	// EntryPointRecheck is a gate-only pass over already-produced content;
	// the first gate failure is immediately reportable, never retried.
	EntryPointRecheck EntryPoint = "recheck"
)

const defaultAttemptCap = 3

// feedbackSummaryLines bounds the prior-output excerpt carried in feedback
const feedbackSummaryLines = 20

// Decision is the retry coordinator's answer to a failed gate verdict
type Decision struct {
	Retry    bool
	Feedback *workitem.RetryFeedback
	Terminal workitem.Status
}

// RetryCoordinator owns the bounded retry-with-feedback policy
type RetryCoordinator struct {
	Cap        int
	EntryPoint EntryPoint
	Log        app.Logger
}

func NewRetryCoordinator(cap int, entry EntryPoint, log app.Logger) *RetryCoordinator {
	if log == nil {
		log = app.NopLogger{}
	}
	return &RetryCoordinator{Cap: cap, EntryPoint: entry, Log: log}
}

func (c *RetryCoordinator) cap() int {
	if c.Cap > 0 {
		return c.Cap
	}
	return defaultAttemptCap
}

// Decide resolves a failing verdict into either a retry with feedback or a
// terminal status. priorBody is the content the gate rejected; its summary
// rides along so the next attempt reflects instead of regenerating blind.
func (c *RetryCoordinator) Decide(item *workitem.WorkItem, v verdict.Verdict, priorBody string) Decision {
	issues := v.IssueMessages()

	if c.EntryPoint == EntryPointRecheck {
		c.Log.Info("recheck gate failure for %s at %s is terminal", item.ID, item.CurrentStage)
		return Decision{Terminal: workitem.StatusQCFailed}
	}

	if item.Attempt < c.cap() {
		c.Log.Info("gate failure for %s at %s, attempt %d of %d, retrying with feedback",
			item.ID, item.CurrentStage, item.Attempt, c.cap())
		return Decision{
			Retry: true,
			Feedback: &workitem.RetryFeedback{
				PriorOutputSummary: workitem.SummarizeOutput(priorBody, feedbackSummaryLines),
				FailingIssues:      issues,
				AttemptNumber:      item.Attempt,
			},
		}
	}

	status := c.terminalFor(item.CurrentStage)
	c.Log.Warn("attempt cap reached for %s at %s, finalizing as %s", item.ID, item.CurrentStage, status)
	return Decision{Terminal: status}
}

// DecideExecFailure resolves a skill execution failure that survived the
// executor's transient retry. Exec failures always terminate as FAILED;
// the cap and entry point still own whether another attempt is worth it.
func (c *RetryCoordinator) DecideExecFailure(item *workitem.WorkItem, errMsg string) Decision {
	if c.EntryPoint == EntryPointRecheck {
		c.Log.Info("recheck execution failure for %s at %s is terminal", item.ID, item.CurrentStage)
		return Decision{Terminal: workitem.StatusFailed}
	}
	if item.Attempt < c.cap() {
		c.Log.Info("execution failure for %s at %s, attempt %d of %d, retrying",
			item.ID, item.CurrentStage, item.Attempt, c.cap())
		return Decision{
			Retry: true,
			Feedback: &workitem.RetryFeedback{
				FailingIssues: []string{errMsg},
				AttemptNumber: item.Attempt,
			},
		}
	}
	c.Log.Warn("attempt cap reached for %s at %s after execution failure, finalizing as %s",
		item.ID, item.CurrentStage, workitem.StatusFailed)
	return Decision{Terminal: workitem.StatusFailed}
}

func (c *RetryCoordinator) terminalFor(stage workitem.Stage) workitem.Status {
	switch {
	case stage.IsSlowGate():
		return workitem.StatusQCFailed
	case stage.IsFastGate():
		return workitem.StatusRevisionNeeded
	default:
		return workitem.StatusFailed
	}
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/app/config"
	"github.com/stagehand-dev/stagehand/internal/domain/verdict"
	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
	"github.com/stagehand-dev/stagehand/internal/gate"
	"github.com/stagehand-dev/stagehand/internal/infra/ledger"
	"github.com/stagehand-dev/stagehand/internal/infra/scratchpad"
	"github.com/stagehand-dev/stagehand/internal/skill"
)

// scriptedRunner replays queued responses per stage. The last response of
// a queue repeats so retry cycles keep receiving it.
type scriptedRunner struct {
	responses map[string][]string
	errs      map[string]error
	calls     []*skill.Request
}

func (r *scriptedRunner) Run(_ context.Context, req *skill.Request, _ time.Duration) (string, error) {
	r.calls = append(r.calls, req)
	if err := r.errs[req.Stage]; err != nil {
		return "", err
	}
	q := r.responses[req.Stage]
	if len(q) == 0 {
		return "", fmt.Errorf("unexpected invocation of stage %s", req.Stage)
	}
	resp := q[0]
	if len(q) > 1 {
		r.responses[req.Stage] = q[1:]
	}
	return resp, nil
}

func (r *scriptedRunner) callsFor(stage workitem.Stage) []*skill.Request {
	var out []*skill.Request
	for _, c := range r.calls {
		if c.Stage == stage.String() {
			out = append(out, c)
		}
	}
	return out
}

type scriptedAuditor struct {
	verdicts []verdict.Verdict
	err      error
	calls    int
}

func (a *scriptedAuditor) Audit(_ context.Context, _ *skill.Request) (verdict.Verdict, error) {
	a.calls++
	if a.err != nil {
		return verdict.Verdict{}, a.err
	}
	v := a.verdicts[0]
	if len(a.verdicts) > 1 {
		a.verdicts = a.verdicts[1:]
	}
	return v, nil
}

func okResp(content string) string {
	return fmt.Sprintf("```yaml\ncontent: %q\n```", content)
}

func passingAuditor() *scriptedAuditor {
	return &scriptedAuditor{verdicts: []verdict.Verdict{
		{Tier: verdict.TierSlow, Graded: true, Grade: 9.0, Rationale: "good"},
	}}
}

func testConfig() config.Config {
	return config.NewAppConfig(config.Params{
		Home:           ".stagehand",
		SkillBin:       "skill",
		AttemptCap:     3,
		GradeThreshold: 7.0,
	})
}

type harness struct {
	seq    *Sequencer
	runner *scriptedRunner
	audit  *scriptedAuditor
	fs     afero.Fs
	pad    *scratchpad.ScratchPad
	ldg    *ledger.Ledger
}

func newHarness(t *testing.T, runner *scriptedRunner, audit *scriptedAuditor, entry EntryPoint) *harness {
	t.Helper()
	fs := afero.NewMemMapFs()
	pad := scratchpad.New(fs, "cache")

	ldg, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ldg.Close() })

	seq := NewSequencer(Deps{
		Config:    testConfig(),
		Pad:       pad,
		Ledger:    ldg,
		Runner:    runner,
		Auditor:   audit,
		Rules:     gate.DefaultRuleSet(),
		Retry:     NewRetryCoordinator(3, entry, app.NopLogger{}),
		FS:        fs,
		Artifacts: "artifacts",
		Log:       app.NopLogger{},
	})
	return &harness{seq: seq, runner: runner, audit: audit, fs: fs, pad: pad, ldg: ldg}
}

// reuse builds a second sequencer over the same pad and ledger, the way a
// fresh process would see them
func (h *harness) reuse(t *testing.T, runner *scriptedRunner, audit *scriptedAuditor, entry EntryPoint) *Sequencer {
	t.Helper()
	return NewSequencer(Deps{
		Config:    testConfig(),
		Pad:       h.pad,
		Ledger:    h.ldg,
		Runner:    runner,
		Auditor:   audit,
		Rules:     gate.DefaultRuleSet(),
		Retry:     NewRetryCoordinator(3, entry, app.NopLogger{}),
		FS:        h.fs,
		Artifacts: "artifacts",
		Log:       app.NopLogger{},
	})
}

func newItem(t *testing.T, id string) *workitem.WorkItem {
	t.Helper()
	item, err := workitem.New(id, "payload/"+id+".yaml")
	require.NoError(t, err)
	return item
}

func allCleanResponses() map[string][]string {
	return map[string][]string{
		"INGEST":    cleanResp("source material on banana cutting"),
		"RESEARCH":  cleanResp("knife angles and ripeness notes"),
		"TRANSFORM": cleanResp("Cut the banana into even rings."),
		"ELEVATE":   cleanResp("Cut the banana into even rings, then plate them."),
	}
}

func cleanResp(content string) []string {
	return []string{okResp(content)}
}

func TestSequencer_Run_HappyPath(t *testing.T) {
	runner := &scriptedRunner{responses: allCleanResponses()}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)
	item := newItem(t, "cutting-a-banana")

	out, err := h.seq.Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out.Kind)
	assert.Equal(t, workitem.StatusDone, item.Status)
	assert.Len(t, runner.calls, 4)
	assert.Equal(t, 1, h.audit.calls)

	data, err := afero.ReadFile(h.fs, "artifacts/cutting-a-banana.md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "plate them")

	rec, err := h.ldg.Find(context.Background(), "cutting-a-banana")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, workitem.StatusDone, rec.Status)
	assert.NotEmpty(t, rec.ArtifactPath)
}

func TestSequencer_Run_IdempotentCacheHit(t *testing.T) {
	runner := &scriptedRunner{responses: allCleanResponses()}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)

	_, err := h.seq.Run(context.Background(), newItem(t, "cutting-a-banana"))
	require.NoError(t, err)

	// Second submission of the same item: every stage must come from the
	// cache, so a runner with no scripted responses never gets invoked
	rerunRunner := &scriptedRunner{}
	rerunAudit := &scriptedAuditor{}
	seq := h.reuse(t, rerunRunner, rerunAudit, EntryPointRun)

	out, err := seq.Run(context.Background(), newItem(t, "cutting-a-banana"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out.Kind)
	assert.Empty(t, rerunRunner.calls)
	assert.Zero(t, rerunAudit.calls)
}

func TestSequencer_Run_ResumesFromCachedStages(t *testing.T) {
	// A previous process completed INGEST and RESEARCH before dying; the
	// new run must pick up at TRANSFORM without re-invoking either
	runner := &scriptedRunner{responses: map[string][]string{
		"TRANSFORM": cleanResp("Cut the banana into even rings."),
		"ELEVATE":   cleanResp("Cut the banana into even rings, then plate them."),
	}}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)

	for _, st := range []workitem.Stage{workitem.StageIngest, workitem.StageResearch} {
		result := workitem.NewStageResult(st, workitem.StageOutput{
			Kind:    workitem.OutputStructured,
			Payload: map[string]interface{}{"content": "earlier " + st.String() + " output"},
		}, h.pad.CacheKey("cutting-a-banana", st), time.Second)
		require.NoError(t, h.pad.Put("cutting-a-banana", result))
	}

	out, err := h.seq.Run(context.Background(), newItem(t, "cutting-a-banana"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out.Kind)

	assert.Empty(t, runner.callsFor(workitem.StageIngest))
	assert.Empty(t, runner.callsFor(workitem.StageResearch))
	require.Len(t, runner.callsFor(workitem.StageTransform), 1)

	// The resumed TRANSFORM call still sees the cached prior outputs
	transform := runner.callsFor(workitem.StageTransform)[0]
	require.Len(t, transform.Prior, 2)
	assert.Equal(t, "INGEST", transform.Prior[0].Stage)
}

func TestSequencer_Run_RetryCapExactlyThree(t *testing.T) {
	// ELEVATE keeps producing promotional language, so VALIDATE rejects
	// every cycle. The item must be terminal after exactly 3 attempts.
	responses := allCleanResponses()
	responses["ELEVATE"] = []string{okResp("Our best-in-class banana technique.")}
	runner := &scriptedRunner{responses: responses}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)
	item := newItem(t, "cutting-a-banana")

	out, err := h.seq.Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, workitem.StatusRevisionNeeded, item.Status)
	assert.Len(t, runner.callsFor(workitem.StageElevate), 3)
	assert.Zero(t, h.audit.calls, "the slow gate never runs on content the fast gate rejected")

	// Attempts after the first carry feedback naming the failing rule
	second := runner.callsFor(workitem.StageElevate)[1]
	require.NotNil(t, second.Feedback)
	assert.Equal(t, 1, second.Feedback.AttemptNumber)
	require.NotEmpty(t, second.Feedback.FailingIssues)
	assert.Contains(t, second.Feedback.FailingIssues[0], "promotional-language")
	assert.NotEmpty(t, second.Feedback.PriorOutputSummary)
}

func TestSequencer_Run_AuditCapMapsToQCFailed(t *testing.T) {
	runner := &scriptedRunner{responses: allCleanResponses()}
	audit := &scriptedAuditor{verdicts: []verdict.Verdict{
		{Tier: verdict.TierSlow, Graded: true, Grade: 4.0, Rationale: "thin"},
	}}
	h := newHarness(t, runner, audit, EntryPointRun)
	item := newItem(t, "cutting-a-banana")

	out, err := h.seq.Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, workitem.StatusQCFailed, item.Status)
	assert.Equal(t, 3, audit.calls)
	assert.Len(t, runner.callsFor(workitem.StageElevate), 3)
}

func TestSequencer_Run_RecheckGateFailureIsImmediatelyTerminal(t *testing.T) {
	runner := &scriptedRunner{}
	h := newHarness(t, runner, &scriptedAuditor{}, EntryPointRecheck)

	bad := workitem.NewStageResult(workitem.StageElevate, workitem.StageOutput{
		Kind:    workitem.OutputStructured,
		Payload: map[string]interface{}{"content": "A revolutionary banana method."},
	}, h.pad.CacheKey("cutting-a-banana", workitem.StageElevate), time.Second)
	require.NoError(t, h.pad.Put("cutting-a-banana", bad))

	item := newItem(t, "cutting-a-banana")
	require.NoError(t, item.MoveTo(workitem.StageValidate))

	out, err := h.seq.Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, workitem.StatusQCFailed, item.Status)
	assert.Empty(t, runner.calls, "recheck never regenerates content")
}

func TestSequencer_Run_RecheckIgnoresCachedGatePasses(t *testing.T) {
	// The item passed both gates on an earlier run. A recheck must judge
	// the content again instead of replaying the cached PASS results.
	runner := &scriptedRunner{}
	audit := &scriptedAuditor{verdicts: []verdict.Verdict{
		{Tier: verdict.TierSlow, Graded: true, Grade: 4.0, Rationale: "standards tightened"},
	}}
	h := newHarness(t, runner, audit, EntryPointRecheck)

	elevated := workitem.NewStageResult(workitem.StageElevate, workitem.StageOutput{
		Kind:    workitem.OutputStructured,
		Payload: map[string]interface{}{"content": "Cut the banana into even rings."},
	}, h.pad.CacheKey("cutting-a-banana", workitem.StageElevate), time.Second)
	require.NoError(t, h.pad.Put("cutting-a-banana", elevated))
	for _, st := range []workitem.Stage{workitem.StageValidate, workitem.StageQualityAudit} {
		pass := workitem.NewStageResult(st, gateResultOutput(verdict.Verdict{
			Tier: verdict.TierSlow, Graded: true, Grade: 9.0,
		}), h.pad.CacheKey("cutting-a-banana", st), time.Second)
		require.NoError(t, h.pad.Put("cutting-a-banana", pass))
	}

	item := newItem(t, "cutting-a-banana")
	require.NoError(t, item.MoveTo(workitem.StageValidate))

	out, err := h.seq.Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, workitem.StatusQCFailed, item.Status)
	assert.Equal(t, 1, audit.calls, "the audit must actually re-run")
	assert.Empty(t, runner.calls)
}

func TestSequencer_Run_FallbackExtractionKeepsPipelineMoving(t *testing.T) {
	// TRANSFORM returns a structurally broken block whose content scalar
	// is still intact. The recovered text must flow into ELEVATE.
	responses := allCleanResponses()
	responses["TRANSFORM"] = []string{"```yaml\n" +
		"title: {broken\n" +
		"content: |\n" +
		"  Cut the banana into even rings with a sharp knife.\n" +
		"```"}
	runner := &scriptedRunner{responses: responses}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)

	out, err := h.seq.Run(context.Background(), newItem(t, "cutting-a-banana"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out.Kind)

	cached, hit, err := h.pad.Get("cutting-a-banana", workitem.StageTransform)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, workitem.OutputRawFallback, cached.Output.Kind)

	elevate := runner.callsFor(workitem.StageElevate)[0]
	var transformPrior string
	for _, p := range elevate.Prior {
		if p.Stage == "TRANSFORM" {
			transformPrior = p.Content
		}
	}
	assert.Contains(t, transformPrior, "even rings with a sharp knife")
}

func TestSequencer_Run_ExecFailureRetriesThenFails(t *testing.T) {
	runner := &scriptedRunner{
		responses: allCleanResponses(),
		errs:      map[string]error{"TRANSFORM": errors.New("skill crashed hard")},
	}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)
	item := newItem(t, "cutting-a-banana")

	out, err := h.seq.Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, workitem.StatusFailed, item.Status)

	// Exec failures burn attempts like any other stage failure
	transforms := runner.callsFor(workitem.StageTransform)
	require.Len(t, transforms, 3)
	require.NotNil(t, transforms[1].Feedback)
	assert.Equal(t, 1, transforms[1].Feedback.AttemptNumber)
	assert.Contains(t, transforms[1].Feedback.FailingIssues, "skill crashed hard")

	rec, err := h.ldg.Find(context.Background(), "cutting-a-banana")
	require.NoError(t, err)
	assert.Equal(t, workitem.StatusFailed, rec.Status)
	assert.Contains(t, rec.Diagnostics, "skill crashed hard")
}

func TestSequencer_Run_AuditExecFailureRegeneratesThenFails(t *testing.T) {
	runner := &scriptedRunner{responses: allCleanResponses()}
	audit := &scriptedAuditor{err: errors.New("audit skill unreachable")}
	h := newHarness(t, runner, audit, EntryPointRun)
	item := newItem(t, "cutting-a-banana")

	out, err := h.seq.Run(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	assert.Equal(t, workitem.StatusFailed, item.Status)

	// Each audit attempt rewinds to the stage whose output it was judging
	assert.Equal(t, 3, audit.calls)
	assert.Len(t, runner.callsFor(workitem.StageElevate), 3)
}

func TestSequencer_Run_InterruptMarksEntryStale(t *testing.T) {
	runner := &scriptedRunner{responses: allCleanResponses()}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)

	stages := 0
	h.seq.AfterStage = func(_ *workitem.WorkItem, _ Outcome) { stages++ }
	h.seq.Interrupted = func() bool { return stages >= 2 }

	item := newItem(t, "cutting-a-banana")
	_, err := h.seq.Run(context.Background(), item)
	require.ErrorIs(t, err, ErrInterrupted)

	rec, ferr := h.ldg.Find(context.Background(), "cutting-a-banana")
	require.NoError(t, ferr)
	require.NotNil(t, rec)
	assert.True(t, rec.Stale)
	assert.Equal(t, workitem.StatusInProgress, rec.Status)

	// A later run picks up the two completed stages from the cache
	resumeRunner := &scriptedRunner{responses: map[string][]string{
		"TRANSFORM": cleanResp("Cut the banana into even rings."),
		"ELEVATE":   cleanResp("Cut the banana into even rings, then plate them."),
	}}
	seq := h.reuse(t, resumeRunner, passingAuditor(), EntryPointRun)
	out, err := seq.Run(context.Background(), newItem(t, "cutting-a-banana"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeDone, out.Kind)
	assert.Empty(t, resumeRunner.callsFor(workitem.StageIngest))
	assert.Empty(t, resumeRunner.callsFor(workitem.StageResearch))
}

func TestSequencer_Run_StageHistoryRecorded(t *testing.T) {
	runner := &scriptedRunner{responses: allCleanResponses()}
	h := newHarness(t, runner, passingAuditor(), EntryPointRun)

	_, err := h.seq.Run(context.Background(), newItem(t, "cutting-a-banana"))
	require.NoError(t, err)

	history, err := h.ldg.History(context.Background(), "cutting-a-banana")
	require.NoError(t, err)
	require.Len(t, history, 6)
	for _, e := range history {
		assert.Equal(t, h.seq.RunID(), e.RunID)
		assert.Equal(t, ledger.DispositionCompleted, e.Disposition)
	}
}

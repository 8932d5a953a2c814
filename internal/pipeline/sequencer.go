package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"

	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/app/config"
	"github.com/stagehand-dev/stagehand/internal/domain/verdict"
	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
	"github.com/stagehand-dev/stagehand/internal/gate"
	"github.com/stagehand-dev/stagehand/internal/infra/catalog"
	infrafs "github.com/stagehand-dev/stagehand/internal/infra/fs"
	"github.com/stagehand-dev/stagehand/internal/infra/ledger"
	"github.com/stagehand-dev/stagehand/internal/infra/scratchpad"
	"github.com/stagehand-dev/stagehand/internal/skill"
)

// ErrInterrupted is returned when a shutdown request stops the run at a
// stage boundary. The ledger entry is marked stale before returning.
var ErrInterrupted = errors.New("run interrupted at stage boundary")

// SkillRunner abstracts the subprocess executor
type SkillRunner interface {
	Run(ctx context.Context, req *skill.Request, timeout time.Duration) (string, error)
}

// GateAuditor abstracts the slow gate tier
type GateAuditor interface {
	Audit(ctx context.Context, req *skill.Request) (verdict.Verdict, error)
}

// OutcomeKind classifies one Advance step
type OutcomeKind string

const (
	// OutcomeContinue means the stage completed and the item moved on
	OutcomeContinue OutcomeKind = "continue"
	// OutcomeBlocked means a gate rejected the content and a retry cycle
	// was scheduled with feedback
	OutcomeBlocked OutcomeKind = "blocked"
	// OutcomeFailed means the item reached a terminal failure status
	OutcomeFailed OutcomeKind = "failed"
	// OutcomeDone means the final stage passed and the artifact was written
	OutcomeDone OutcomeKind = "done"
)

// Outcome reports what one Advance step did
type Outcome struct {
	Kind     OutcomeKind
	Stage    workitem.Stage // Stage just processed
	Next     workitem.Stage // Set on continue and blocked
	Cached   bool
	Duration time.Duration
	Verdict  *verdict.Verdict
	Reason   string
}

// Deps wires a sequencer. Artifacts is the directory the canonical output
// of a DONE item is written to.
type Deps struct {
	Config    config.Config
	Pad       *scratchpad.ScratchPad
	Ledger    *ledger.Ledger
	Runner    SkillRunner
	Auditor   GateAuditor
	Rules     *gate.RuleSet
	Catalog   *catalog.Catalog
	Retry     *RetryCoordinator
	FS        afero.Fs
	Artifacts string
	Log       app.Logger
}

// Sequencer owns the ordered stage walk for one run: cache consultation,
// skill invocation, post-processing, gating, and persistence. One
// sequencer serves one run id.
type Sequencer struct {
	cfg       config.Config
	pad       *scratchpad.ScratchPad
	ldg       *ledger.Ledger
	runner    SkillRunner
	auditor   GateAuditor
	rules     *gate.RuleSet
	catalog   *catalog.Catalog
	retry     *RetryCoordinator
	fs        afero.Fs
	artifacts string
	log       app.Logger
	runID     string

	// Interrupted is polled at every stage boundary. In-flight stages are
	// never cut short by it.
	Interrupted func() bool
	// AfterStage runs after every stage boundary, failed or not
	AfterStage func(item *workitem.WorkItem, out Outcome)
}

func NewSequencer(d Deps) *Sequencer {
	log := d.Log
	if log == nil {
		log = app.NopLogger{}
	}
	return &Sequencer{
		cfg:       d.Config,
		pad:       d.Pad,
		ldg:       d.Ledger,
		runner:    d.Runner,
		auditor:   d.Auditor,
		rules:     d.Rules,
		catalog:   d.Catalog,
		retry:     d.Retry,
		fs:        d.FS,
		artifacts: d.Artifacts,
		log:       log,
		runID:     ulid.Make().String(),
	}
}

// RunID returns the ulid identifying this run in the stage history
func (s *Sequencer) RunID() string {
	return s.runID
}

// Run drives the item through the stage sequence until a terminal outcome
// or an interrupt. The scratch pad is loaded up front so resumed runs see
// every previously cached stage before the first dispatch decision.
func (s *Sequencer) Run(ctx context.Context, item *workitem.WorkItem) (Outcome, error) {
	entry, err := s.pad.LoadOrCreate(item.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load scratch pad: %w", err)
	}
	if cached := entry.Stages(); len(cached) > 0 {
		s.log.Info("item %s resumes with %d cached stage(s)", item.ID, len(cached))
	}

	// A recheck re-judges the content with the current gates; earlier gate
	// passes must not be served from the cache
	if s.retry.EntryPoint == EntryPointRecheck {
		for _, st := range workitem.Sequence() {
			if !st.IsGate() {
				continue
			}
			if err := s.pad.Invalidate(item.ID, st); err != nil {
				return Outcome{}, fmt.Errorf("invalidate cached %s result: %w", st, err)
			}
			delete(entry.Results, st)
		}
	}

	if item.Status == workitem.StatusPending {
		if err := item.Start(); err != nil {
			return Outcome{}, err
		}
	}
	if err := s.persist(ctx, item, "", ""); err != nil {
		return Outcome{}, err
	}

	for {
		if s.Interrupted != nil && s.Interrupted() {
			s.log.Warn("shutdown requested, stopping %s before stage %s", item.ID, item.CurrentStage)
			if err := s.ldg.MarkStale(ctx, item.ID); err != nil {
				s.log.Error("mark stale on interrupt: %v", err)
			}
			return Outcome{}, ErrInterrupted
		}

		out, err := s.Advance(ctx, item, entry)
		if err != nil {
			return out, err
		}
		if s.AfterStage != nil {
			s.AfterStage(item, out)
		}
		if out.Kind == OutcomeContinue || out.Kind == OutcomeBlocked {
			continue
		}
		return out, nil
	}
}

// Advance processes exactly the item's current stage
func (s *Sequencer) Advance(ctx context.Context, item *workitem.WorkItem, entry *scratchpad.Entry) (Outcome, error) {
	stage := item.CurrentStage
	if stage.IsGate() {
		return s.advanceGate(ctx, item, entry)
	}
	return s.advanceGenerative(ctx, item, entry)
}

func (s *Sequencer) advanceGenerative(ctx context.Context, item *workitem.WorkItem, entry *scratchpad.Entry) (Outcome, error) {
	stage := item.CurrentStage

	cached, hit, err := s.pad.Get(item.ID, stage)
	if err != nil {
		return Outcome{}, fmt.Errorf("cache lookup for %s: %w", stage, err)
	}
	if hit {
		// The normalization pass is re-applied to cached output too; the
		// cache may predate a pass the current build performs.
		cached.Output = NormalizeOutput(cached.Output)
		entry.Results[stage] = cached
		s.log.Info("stage %s for %s served from cache", stage, item.ID)
		s.appendHistory(ctx, item, stage, ledger.DispositionCached, 0, "")
		return s.afterCompleted(ctx, item, stage, true, 0)
	}

	if err := item.BeginAttempt(s.retry.cap()); err != nil {
		return s.finalize(ctx, item, stage, workitem.StatusFailed, err.Error(), nil)
	}
	s.log.Info("stage %s for %s starting, attempt %d", stage, item.ID, item.Attempt)

	req := s.buildRequest(item, stage, entry)
	start := time.Now()
	raw, err := s.runner.Run(ctx, req, s.cfg.StageTimeout(stage.String()))
	elapsed := time.Since(start)
	if err != nil {
		// The executor's transient retry already ran; the coordinator owns
		// whether this attempt burn warrants another
		s.appendHistory(ctx, item, stage, ledger.DispositionExecFailed, elapsed.Milliseconds(), err.Error())
		return s.applyExecDecision(ctx, item, entry, stage, stage, err.Error())
	}

	out, err := skill.ParseResponse(raw)
	if err != nil {
		// The fallback extractor already ran inside ParseResponse; an
		// empty response fails the attempt like a blocking verdict.
		v := verdict.Verdict{Tier: verdict.TierFast, Issues: []verdict.Issue{{
			Severity: verdict.SeverityBlocking,
			Rule:     "empty-response",
			Message:  err.Error(),
		}}}
		s.appendHistory(ctx, item, stage, ledger.DispositionGateFailed, elapsed.Milliseconds(), err.Error())
		return s.applyDecision(ctx, item, entry, stage, stage, v, "")
	}
	if out.Kind == workitem.OutputRawFallback {
		s.log.Warn("stage %s for %s used fallback extraction from raw output", stage, item.ID)
	}

	out = NormalizeOutput(out)
	result := workitem.NewStageResult(stage, out, s.pad.CacheKey(item.ID, stage), elapsed)
	if err := s.pad.Put(item.ID, result); err != nil {
		return Outcome{}, fmt.Errorf("cache write for %s: %w", stage, err)
	}
	entry.Results[stage] = result

	s.appendHistory(ctx, item, stage, ledger.DispositionCompleted, elapsed.Milliseconds(), "")
	s.log.Info("stage %s for %s completed in %s", stage, item.ID, elapsed.Round(time.Millisecond))
	return s.afterCompleted(ctx, item, stage, false, elapsed)
}

func (s *Sequencer) advanceGate(ctx context.Context, item *workitem.WorkItem, entry *scratchpad.Entry) (Outcome, error) {
	stage := item.CurrentStage

	if cached, hit, err := s.pad.Get(item.ID, stage); err != nil {
		return Outcome{}, fmt.Errorf("cache lookup for %s: %w", stage, err)
	} else if hit {
		entry.Results[stage] = cached
		s.log.Info("gate %s for %s passed previously, served from cache", stage, item.ID)
		s.appendHistory(ctx, item, stage, ledger.DispositionCached, 0, "")
		return s.passGate(ctx, item, stage, nil, true, 0)
	}

	gatedStage, gatedOut, ok := s.gatedContent(entry)
	if !ok {
		reason := fmt.Sprintf("gate %s has no upstream content to check", stage)
		return s.finalize(ctx, item, stage, workitem.StatusFailed, reason, nil)
	}

	var (
		v       verdict.Verdict
		elapsed time.Duration
	)
	start := time.Now()
	if stage.IsSlowGate() {
		av, err := s.auditor.Audit(ctx, s.buildRequest(item, stage, entry))
		elapsed = time.Since(start)
		if err != nil {
			s.appendHistory(ctx, item, stage, ledger.DispositionExecFailed, elapsed.Milliseconds(), err.Error())
			return s.applyExecDecision(ctx, item, entry, stage, gatedStage, err.Error())
		}
		v = av
	} else {
		v = s.rules.Check(gatedOut)
		elapsed = time.Since(start)
	}

	for _, w := range v.Warnings() {
		s.log.Warn("gate %s warning for %s: %s [%s] %s", stage, item.ID, w.Rule, w.Section, w.Message)
	}

	if v.Pass(s.cfg.GradeThreshold()) {
		result := workitem.NewStageResult(stage, gateResultOutput(v), s.pad.CacheKey(item.ID, stage), elapsed)
		if err := s.pad.Put(item.ID, result); err != nil {
			return Outcome{}, fmt.Errorf("cache write for %s: %w", stage, err)
		}
		entry.Results[stage] = result
		s.appendHistory(ctx, item, stage, ledger.DispositionCompleted, elapsed.Milliseconds(), "")
		s.log.Info("gate %s for %s passed in %s", stage, item.ID, elapsed.Round(time.Millisecond))
		return s.passGate(ctx, item, stage, &v, false, elapsed)
	}

	detail := strings.Join(v.IssueMessages(), "; ")
	s.appendHistory(ctx, item, stage, ledger.DispositionGateFailed, elapsed.Milliseconds(), detail)
	return s.applyDecision(ctx, item, entry, stage, gatedStage, v, gatedOut.Body())
}

// applyDecision routes a failing verdict through the retry coordinator.
// retryStage is where a granted retry resumes: the generative stage whose
// output the gate rejected, or the failing stage itself.
func (s *Sequencer) applyDecision(ctx context.Context, item *workitem.WorkItem, entry *scratchpad.Entry, stage, retryStage workitem.Stage, v verdict.Verdict, priorBody string) (Outcome, error) {
	d := s.retry.Decide(item, v, priorBody)
	if !d.Retry {
		return s.finalize(ctx, item, stage, d.Terminal, strings.Join(v.IssueMessages(), "; "), &v)
	}

	if err := s.rewind(ctx, item, entry, stage, retryStage, d.Feedback); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeBlocked, Stage: stage, Next: retryStage, Verdict: &v}, nil
}

// applyExecDecision routes a skill execution failure through the retry
// coordinator, exactly like a failing verdict but with FAILED as the only
// terminal status.
func (s *Sequencer) applyExecDecision(ctx context.Context, item *workitem.WorkItem, entry *scratchpad.Entry, stage, retryStage workitem.Stage, errMsg string) (Outcome, error) {
	d := s.retry.DecideExecFailure(item, errMsg)
	if !d.Retry {
		return s.finalize(ctx, item, stage, d.Terminal, errMsg, nil)
	}
	if err := s.rewind(ctx, item, entry, stage, retryStage, d.Feedback); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeBlocked, Stage: stage, Next: retryStage, Reason: errMsg}, nil
}

// rewind records the granted retry and moves the item back to retryStage,
// invalidating every cached stage of the failed stretch so it re-runs
// against the regenerated output.
func (s *Sequencer) rewind(ctx context.Context, item *workitem.WorkItem, entry *scratchpad.Entry, stage, retryStage workitem.Stage, fb *workitem.RetryFeedback) error {
	item.MarkRetry(fb)
	for _, st := range workitem.Sequence() {
		if st.Index() >= retryStage.Index() && st.Index() <= stage.Index() {
			if err := s.pad.Invalidate(item.ID, st); err != nil {
				return fmt.Errorf("invalidate %s: %w", st, err)
			}
			delete(entry.Results, st)
		}
	}
	if err := item.MoveTo(retryStage); err != nil {
		return err
	}
	return s.persist(ctx, item, "", "")
}

func (s *Sequencer) afterCompleted(ctx context.Context, item *workitem.WorkItem, stage workitem.Stage, cached bool, dur time.Duration) (Outcome, error) {
	next, ok := stage.Next()
	if !ok {
		return s.finish(ctx, item, stage, nil, cached, dur)
	}
	// Entering a gate keeps the attempt counter: the gate and the stage
	// that produced the gated content share one budget
	var err error
	if next.IsGate() {
		err = item.MoveTo(next)
	} else {
		err = item.AdvanceTo(next)
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := s.persist(ctx, item, "", ""); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeContinue, Stage: stage, Next: next, Cached: cached, Duration: dur}, nil
}

func (s *Sequencer) passGate(ctx context.Context, item *workitem.WorkItem, stage workitem.Stage, v *verdict.Verdict, cached bool, dur time.Duration) (Outcome, error) {
	if stage.IsFinal() {
		return s.finish(ctx, item, stage, v, cached, dur)
	}
	next, _ := stage.Next()
	// Both gates judge the same generated content, so the attempt budget
	// carries across them and only resets past the last gate
	var err error
	if next.IsGate() {
		err = item.MoveTo(next)
	} else {
		err = item.AdvanceTo(next)
	}
	if err != nil {
		return Outcome{}, err
	}
	if err := s.persist(ctx, item, "", ""); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeContinue, Stage: stage, Next: next, Cached: cached, Duration: dur, Verdict: v}, nil
}

// finish writes the canonical artifact and moves the item to DONE
func (s *Sequencer) finish(ctx context.Context, item *workitem.WorkItem, stage workitem.Stage, v *verdict.Verdict, cached bool, dur time.Duration) (Outcome, error) {
	entry, err := s.pad.LoadOrCreate(item.ID)
	if err != nil {
		return Outcome{}, err
	}
	_, out, ok := s.gatedContent(entry)
	if !ok {
		return s.finalize(ctx, item, stage, workitem.StatusFailed, "no content to publish", v)
	}

	path := filepath.Join(s.artifacts, ledger.ArtifactName(item.ID))
	if err := s.fs.MkdirAll(s.artifacts, 0755); err != nil {
		return Outcome{}, fmt.Errorf("create artifacts directory: %w", err)
	}
	if err := infrafs.WriteFileAtomic(s.fs, path, []byte(out.Body()+"\n")); err != nil {
		return Outcome{}, fmt.Errorf("write artifact: %w", err)
	}

	if err := item.Finalize(workitem.StatusDone); err != nil {
		return Outcome{}, err
	}
	if err := s.persist(ctx, item, "", path); err != nil {
		return Outcome{}, err
	}
	s.log.Info("item %s done, artifact at %s", item.ID, path)
	return Outcome{Kind: OutcomeDone, Stage: stage, Cached: cached, Duration: dur, Verdict: v}, nil
}

// finalize assigns a terminal failure status and persists it. Only the
// classified status enters the status field; raw diagnostics ride in the
// diagnostics column for operator inspection.
func (s *Sequencer) finalize(ctx context.Context, item *workitem.WorkItem, stage workitem.Stage, status workitem.Status, diagnostics string, v *verdict.Verdict) (Outcome, error) {
	if err := item.Finalize(status); err != nil {
		return Outcome{}, err
	}
	if err := s.persist(ctx, item, diagnostics, ""); err != nil {
		return Outcome{}, err
	}
	s.log.Error("item %s terminal at stage %s: %s (%s)", item.ID, stage, status, diagnostics)
	return Outcome{Kind: OutcomeFailed, Stage: stage, Verdict: v, Reason: diagnostics}, nil
}

// gatedContent returns the most recent generative output, the content the
// gates judge and the artifact publishes
func (s *Sequencer) gatedContent(entry *scratchpad.Entry) (workitem.Stage, workitem.StageOutput, bool) {
	seq := workitem.Sequence()
	for i := len(seq) - 1; i >= 0; i-- {
		if !seq[i].IsGenerative() {
			continue
		}
		if r, ok := entry.Results[seq[i]]; ok && !r.Output.IsEmpty() {
			return seq[i], NormalizeOutput(r.Output), true
		}
	}
	return "", workitem.StageOutput{}, false
}

func (s *Sequencer) buildRequest(item *workitem.WorkItem, stage workitem.Stage, entry *scratchpad.Entry) *skill.Request {
	req := &skill.Request{
		ItemID:     item.ID,
		Stage:      stage.String(),
		PayloadRef: item.PayloadRef,
		Attempt:    item.Attempt,
	}
	for _, st := range workitem.Sequence() {
		if st == stage {
			break
		}
		if !st.IsGenerative() {
			continue
		}
		if r, ok := entry.Results[st]; ok {
			req.Prior = append(req.Prior, skill.PriorOutput{
				Stage:   st.String(),
				Content: NormalizeOutput(r.Output).Body(),
			})
		}
	}
	if stage == workitem.StageResearch {
		req.CrossRefs = s.crossRefs(item)
	}
	if item.IsRetry {
		req.Feedback = item.Feedback
	}
	return req
}

// crossRefs looks the item up in the optional catalog. An absent catalog
// degrades to no cross-references, never to a failure.
func (s *Sequencer) crossRefs(item *workitem.WorkItem) []skill.CrossRef {
	if s.catalog == nil || !s.catalog.Available() {
		s.log.Warn("cross-reference catalog unavailable, stage RESEARCH proceeds without it")
		return nil
	}
	terms := strings.FieldsFunc(item.ID, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var refs []skill.CrossRef
	for _, e := range s.catalog.Lookup(terms) {
		refs = append(refs, skill.CrossRef{ID: e.ID, Title: e.Title, Summary: e.Summary})
	}
	s.log.Debug("catalog offered %d cross-reference(s) for %s", len(refs), item.ID)
	return refs
}

func (s *Sequencer) persist(ctx context.Context, item *workitem.WorkItem, diagnostics, artifactPath string) error {
	rec := &ledger.ProgressRecord{
		ItemID:       item.ID,
		PayloadRef:   item.PayloadRef,
		Status:       item.Status,
		CurrentStage: item.CurrentStage,
		Attempt:      item.Attempt,
		IsRetry:      item.IsRetry,
		Feedback:     item.Feedback,
		Diagnostics:  diagnostics,
		ArtifactPath: artifactPath,
		CreatedAt:    item.CreatedAt,
	}
	if err := s.ldg.Save(ctx, rec); err != nil {
		return fmt.Errorf("persist progress for %s: %w", item.ID, err)
	}
	return nil
}

func (s *Sequencer) appendHistory(ctx context.Context, item *workitem.WorkItem, stage workitem.Stage, disposition string, durationMs int64, detail string) {
	err := s.ldg.AppendHistory(ctx, &ledger.HistoryEntry{
		RunID:       s.runID,
		ItemID:      item.ID,
		Stage:       stage,
		Attempt:     item.Attempt,
		Disposition: disposition,
		DurationMs:  durationMs,
		Detail:      detail,
	})
	if err != nil {
		s.log.Error("append stage history for %s: %v", item.ID, err)
	}
}

// gateResultOutput encodes a passing verdict as the gate stage's cached
// result
func gateResultOutput(v verdict.Verdict) workitem.StageOutput {
	payload := map[string]interface{}{
		"content": "pass",
		"tier":    string(v.Tier),
	}
	if v.Graded {
		payload["grade"] = v.Grade
	}
	if v.Rationale != "" {
		payload["rationale"] = v.Rationale
	}
	return workitem.StageOutput{Kind: workitem.OutputStructured, Payload: payload}
}

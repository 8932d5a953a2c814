package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/domain/verdict"
	"github.com/stagehand-dev/stagehand/internal/skill"
)

type fakeRunner struct {
	out string
	err error

	gotReq *skill.Request
}

func (f *fakeRunner) Run(_ context.Context, req *skill.Request, _ time.Duration) (string, error) {
	f.gotReq = req
	return f.out, f.err
}

func auditRequest() *skill.Request {
	return &skill.Request{ItemID: "cutting-a-banana", Stage: "QUALITY_AUDIT", Attempt: 1}
}

func TestAuditor_Audit_GradedPass(t *testing.T) {
	runner := &fakeRunner{out: "```yaml\n" +
		"grade: 8.5\n" +
		"rationale: solid coverage of the technique\n" +
		"issues:\n" +
		"  - severity: warning\n" +
		"    rule: tone\n" +
		"    section: summary\n" +
		"    message: slightly dry\n" +
		"```"}
	a := NewAuditor(runner, time.Minute, app.NopLogger{})

	v, err := a.Audit(context.Background(), auditRequest())
	require.NoError(t, err)
	assert.Equal(t, verdict.TierSlow, v.Tier)
	assert.True(t, v.Graded)
	assert.InDelta(t, 8.5, v.Grade, 0.001)
	assert.Equal(t, "solid coverage of the technique", v.Rationale)
	require.Len(t, v.Issues, 1)
	assert.Equal(t, verdict.SeverityWarning, v.Issues[0].Severity)
	assert.True(t, v.Pass(7.0))
	assert.Equal(t, "QUALITY_AUDIT", runner.gotReq.Stage)
}

func TestAuditor_Audit_GradeBelowThresholdFails(t *testing.T) {
	runner := &fakeRunner{out: "```yaml\ngrade: 5.0\nrationale: thin\n```"}
	a := NewAuditor(runner, time.Minute, app.NopLogger{})

	v, err := a.Audit(context.Background(), auditRequest())
	require.NoError(t, err)
	assert.False(t, v.Pass(7.0))
}

func TestAuditor_Audit_BlockingIssueFailsRegardlessOfGrade(t *testing.T) {
	runner := &fakeRunner{out: "```yaml\n" +
		"grade: 9.0\n" +
		"issues:\n" +
		"  - severity: blocking\n" +
		"    rule: factual-error\n" +
		"    message: bananas are not citrus\n" +
		"```"}
	a := NewAuditor(runner, time.Minute, app.NopLogger{})

	v, err := a.Audit(context.Background(), auditRequest())
	require.NoError(t, err)
	assert.False(t, v.Pass(7.0))
}

func TestAuditor_Audit_UnknownSeverityTreatedAsBlocking(t *testing.T) {
	runner := &fakeRunner{out: "```yaml\n" +
		"grade: 9.0\n" +
		"issues:\n" +
		"  - severity: catastrophic\n" +
		"    rule: whatever\n" +
		"    message: malformed severity\n" +
		"```"}
	a := NewAuditor(runner, time.Minute, app.NopLogger{})

	v, err := a.Audit(context.Background(), auditRequest())
	require.NoError(t, err)
	require.Len(t, v.BlockingIssues(), 1)
}

func TestAuditor_Audit_UnstructuredResponseErrors(t *testing.T) {
	runner := &fakeRunner{out: "I think it is fine, maybe an 8?"}
	a := NewAuditor(runner, time.Minute, app.NopLogger{})

	_, err := a.Audit(context.Background(), auditRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a structured verdict")
}

func TestAuditor_Audit_RunnerFailurePropagates(t *testing.T) {
	runner := &fakeRunner{err: errors.New("skill crashed")}
	a := NewAuditor(runner, time.Minute, app.NopLogger{})

	_, err := a.Audit(context.Background(), auditRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit skill failed")
}

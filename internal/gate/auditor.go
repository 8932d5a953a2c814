package gate

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stagehand-dev/stagehand/internal/app"
	"github.com/stagehand-dev/stagehand/internal/domain/verdict"
	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
	"github.com/stagehand-dev/stagehand/internal/skill"
)

// SkillRunner abstracts the subprocess executor for the slow tier
type SkillRunner interface {
	Run(ctx context.Context, req *skill.Request, timeout time.Duration) (string, error)
}

// Auditor is the slow gate tier. It delegates the semantic judgment to an
// external audit skill and converts the graded response into a verdict.
type Auditor struct {
	runner  SkillRunner
	timeout time.Duration
	log     app.Logger
}

func NewAuditor(runner SkillRunner, timeout time.Duration, log app.Logger) *Auditor {
	if log == nil {
		log = app.NopLogger{}
	}
	return &Auditor{runner: runner, timeout: timeout, log: log}
}

type auditPayload struct {
	Grade     float64 `yaml:"grade"`
	Rationale string  `yaml:"rationale"`
	Issues    []struct {
		Severity string `yaml:"severity"`
		Rule     string `yaml:"rule"`
		Section  string `yaml:"section"`
		Message  string `yaml:"message"`
	} `yaml:"issues"`
}

// Audit invokes the audit skill and parses its graded verdict. A response
// that cannot be read as a structured verdict is an error, never a pass.
func (a *Auditor) Audit(ctx context.Context, req *skill.Request) (verdict.Verdict, error) {
	raw, err := a.runner.Run(ctx, req, a.timeout)
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("audit skill failed: %w", err)
	}

	out, err := skill.ParseResponse(raw)
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("audit response unreadable: %w", err)
	}
	if out.Kind != workitem.OutputStructured {
		return verdict.Verdict{}, fmt.Errorf("audit response for %s is not a structured verdict", req.ItemID)
	}

	// Round-trip through yaml to decode the loose payload map
	encoded, err := yaml.Marshal(out.Payload)
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("audit payload re-encode: %w", err)
	}
	var p auditPayload
	if err := yaml.Unmarshal(encoded, &p); err != nil {
		return verdict.Verdict{}, fmt.Errorf("audit payload decode: %w", err)
	}

	v := verdict.Verdict{
		Tier:      verdict.TierSlow,
		Graded:    true,
		Grade:     p.Grade,
		Rationale: p.Rationale,
	}
	for _, i := range p.Issues {
		v.Issues = append(v.Issues, verdict.Issue{
			Severity: verdict.ParseSeverity(i.Severity),
			Rule:     i.Rule,
			Section:  i.Section,
			Message:  i.Message,
		})
	}

	a.log.Debug("audit for %s graded %.1f with %d issue(s)", req.ItemID, v.Grade, len(v.Issues))
	return v, nil
}

package verdict

import "strings"

// Severity classifies a single gate issue
type Severity string

const (
	SeverityBlocking Severity = "blocking" // Fails the stage
	SeverityWarning  Severity = "warning"  // Reported, never blocks
)

// IsValid returns true for a known severity
func (s Severity) IsValid() bool {
	return s == SeverityBlocking || s == SeverityWarning
}

// ParseSeverity normalizes a free-form severity string.
// Unknown values are treated as blocking so a malformed auditor response
// never silently passes content.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn", "minor":
		return SeverityWarning
	default:
		return SeverityBlocking
	}
}

// Issue is one finding from either gate tier
type Issue struct {
	Severity Severity `yaml:"severity"`
	Rule     string   `yaml:"rule"`    // Rule or audit category that fired
	Section  string   `yaml:"section"` // Payload section, empty when whole-document
	Message  string   `yaml:"message"`
}

// Tier identifies which gate produced a verdict
type Tier string

const (
	TierFast Tier = "fast" // Deterministic rule pre-filter
	TierSlow Tier = "slow" // Delegated graded semantic audit
)

// Verdict is the combined outcome of a gate run. Graded is false for the
// fast tier, which has no numeric score.
type Verdict struct {
	Tier      Tier    `yaml:"tier"`
	Graded    bool    `yaml:"graded"`
	Grade     float64 `yaml:"grade,omitempty"`
	Issues    []Issue `yaml:"issues,omitempty"`
	Rationale string  `yaml:"rationale,omitempty"`
}

// BlockingIssues returns only the issues that fail the stage
func (v Verdict) BlockingIssues() []Issue {
	var out []Issue
	for _, i := range v.Issues {
		if i.Severity == SeverityBlocking {
			out = append(out, i)
		}
	}
	return out
}

// Warnings returns only the non-blocking issues
func (v Verdict) Warnings() []Issue {
	var out []Issue
	for _, i := range v.Issues {
		if i.Severity == SeverityWarning {
			out = append(out, i)
		}
	}
	return out
}

// Pass reports whether the verdict clears the gate. A verdict with only
// warnings passes; one blocking issue fails. Graded verdicts additionally
// require the grade to clear the threshold.
func (v Verdict) Pass(threshold float64) bool {
	if len(v.BlockingIssues()) > 0 {
		return false
	}
	if v.Graded && v.Grade < threshold {
		return false
	}
	return true
}

// IssueMessages flattens the blocking issues into feedback strings
func (v Verdict) IssueMessages() []string {
	var msgs []string
	for _, i := range v.BlockingIssues() {
		if i.Section != "" {
			msgs = append(msgs, i.Rule+" ["+i.Section+"]: "+i.Message)
			continue
		}
		msgs = append(msgs, i.Rule+": "+i.Message)
	}
	return msgs
}

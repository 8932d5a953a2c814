package workitem

import (
	"fmt"
	"strings"
)

// RetryFeedback is threaded into the next stage invocation after a failed
// attempt so the skill reflects on what went wrong instead of regenerating
// blind from identical input.
type RetryFeedback struct {
	PriorOutputSummary string   `yaml:"prior_output_summary"`
	FailingIssues      []string `yaml:"failing_issues"`
	AttemptNumber      int      `yaml:"attempt_number"`
}

// SummarizeOutput returns the first maxLines lines of text plus a total
// line count, used to keep feedback payloads small.
func SummarizeOutput(text string, maxLines int) string {
	lines := strings.Split(text, "\n")
	total := len(lines)

	if total <= maxLines {
		return text
	}

	preview := strings.Join(lines[:maxLines], "\n")
	return fmt.Sprintf("%s\n... (total %d lines)", preview, total)
}


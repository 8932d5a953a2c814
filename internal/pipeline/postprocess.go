package pipeline

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

// The skill can reintroduce formatting noise on any invocation, including
// ones whose result later comes back from the cache. Every pass here is
// idempotent so re-applying to already-normalized text is a no-op.

var (
	invisibleRe  = regexp.MustCompile("[\u200B\u200C\u200D\u2060\uFEFF]")
	blankRunRe   = regexp.MustCompile(`\n{3,}`)
	trailingWSRe = regexp.MustCompile(`[ \t]+\n`)
)

// NormalizeText applies the deterministic post-processing pass to one text
// block: NFKC unicode normalization, unix line endings, no invisible
// characters, no trailing whitespace, blank runs collapsed.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = invisibleRe.ReplaceAllString(s, "")
	s = trailingWSRe.ReplaceAllString(s, "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimRight(s, " \t\n")
}

// NormalizeOutput applies NormalizeText to every textual part of a stage
// output. Non-string payload values pass through untouched.
func NormalizeOutput(out workitem.StageOutput) workitem.StageOutput {
	if out.Raw != "" {
		out.Raw = NormalizeText(out.Raw)
	}
	if len(out.Payload) == 0 {
		return out
	}

	normalized := make(map[string]interface{}, len(out.Payload))
	for k, v := range out.Payload {
		normalized[k] = normalizeValue(v)
	}
	out.Payload = normalized
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return NormalizeText(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}

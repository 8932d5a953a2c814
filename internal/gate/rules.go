package gate

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/stagehand-dev/stagehand/internal/domain/verdict"
	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

// Rule is one deterministic pattern check of the fast tier
type Rule struct {
	Name     string
	Severity verdict.Severity
	Pattern  *regexp.Regexp
	Message  string
}

// RuleSet evaluates fast-tier rules against a stage output. Exemptions are
// scoped per rule to named payload sections, never globally.
type RuleSet struct {
	rules      []Rule
	exemptions map[string]map[string]bool // rule name -> exempt sections
}

func NewRuleSet(rules []Rule) *RuleSet {
	return &RuleSet{
		rules:      rules,
		exemptions: make(map[string]map[string]bool),
	}
}

// Exempt excludes the named sections from one rule. Other rules still
// apply to those sections.
func (rs *RuleSet) Exempt(ruleName string, sections ...string) {
	set := rs.exemptions[ruleName]
	if set == nil {
		set = make(map[string]bool)
		rs.exemptions[ruleName] = set
	}
	for _, s := range sections {
		set[s] = true
	}
}

func (rs *RuleSet) isExempt(ruleName, section string) bool {
	return rs.exemptions[ruleName][section]
}

// DefaultRuleSet returns the stock fast tier: promotional phrasing,
// leftover placeholders, and structural shape checks. Search phrases are
// free-text fragments that legitimately mirror how people search, so they
// are exempt from the promotional-language rule.
func DefaultRuleSet() *RuleSet {
	rs := NewRuleSet([]Rule{
		{
			Name:     "promotional-language",
			Severity: verdict.SeverityBlocking,
			Pattern:  regexp.MustCompile(`(?i)\b(best[- ]in[- ]class|world[- ]class|revolutionary|game[- ]chang\w*|industry[- ]leading|unbeatable|must[- ]have)\b`),
			Message:  "promotional phrasing",
		},
		{
			Name:     "leftover-placeholder",
			Severity: verdict.SeverityBlocking,
			Pattern:  regexp.MustCompile(`(?i)\b(TODO|TBD|FIXME|lorem ipsum)\b|\[INSERT`),
			Message:  "unfinished placeholder text",
		},
		{
			Name:     "meta-commentary",
			Severity: verdict.SeverityWarning,
			Pattern:  regexp.MustCompile(`(?i)\b(as an ai|i cannot|here is the|i have (generated|created))\b`),
			Message:  "assistant meta commentary leaked into content",
		},
	})
	rs.Exempt("promotional-language", "search_phrases")
	return rs
}

// Check runs every rule against every section of the output and returns a
// fast-tier verdict. Structural checks on the whole body run first.
func (rs *RuleSet) Check(out workitem.StageOutput) verdict.Verdict {
	v := verdict.Verdict{Tier: verdict.TierFast}

	body := out.Body()
	if strings.TrimSpace(body) == "" {
		v.Issues = append(v.Issues, verdict.Issue{
			Severity: verdict.SeverityBlocking,
			Rule:     "empty-body",
			Message:  "stage produced no content",
		})
		return v
	}
	if strings.Count(body, "```")%2 != 0 {
		v.Issues = append(v.Issues, verdict.Issue{
			Severity: verdict.SeverityBlocking,
			Rule:     "unbalanced-fence",
			Message:  "unclosed code fence in content",
		})
	}

	for _, section := range sectionNames(out) {
		text := sectionText(out, section)
		for _, rule := range rs.rules {
			if rs.isExempt(rule.Name, section) {
				continue
			}
			if m := rule.Pattern.FindString(text); m != "" {
				v.Issues = append(v.Issues, verdict.Issue{
					Severity: rule.Severity,
					Rule:     rule.Name,
					Section:  section,
					Message:  fmt.Sprintf("%s: %q", rule.Message, m),
				})
			}
		}
	}
	return v
}

// sectionNames lists the checkable sections in stable order. Raw fallback
// output has a single implicit content section.
func sectionNames(out workitem.StageOutput) []string {
	if out.Kind == workitem.OutputRawFallback || len(out.Payload) == 0 {
		return []string{"content"}
	}
	names := make([]string, 0, len(out.Payload))
	for k := range out.Payload {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func sectionText(out workitem.StageOutput, section string) string {
	if out.Kind == workitem.OutputRawFallback || len(out.Payload) == 0 {
		return out.Body()
	}
	return flatten(out.Payload[section])
}

// flatten renders a payload value as checkable text. Lists of phrases are
// joined line by line so patterns see each element.
func flatten(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, flatten(e))
		}
		return strings.Join(parts, "\n")
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, flatten(t[k]))
		}
		return strings.Join(parts, "\n")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

package skill

import (
	"errors"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

// ErrEmptyResponse is returned when neither the structured channel nor the
// fallback extraction yields anything usable
var ErrEmptyResponse = errors.New("skill response contains no usable content")

var fencedBlockRe = regexp.MustCompile("(?s)```(?:yaml|yml)\n(.*?)\n```")

// ParseResponse turns raw skill stdout into a tagged StageOutput.
//
// The structured channel is a fenced yaml block in the output. Large embedded
// content can break the block's escaping in transit, so a parse failure is
// not a stage failure: the fallback extractor pulls the intended content
// straight out of the raw text first. Only when that also yields nothing is
// the response rejected.
func ParseResponse(raw string) (workitem.StageOutput, error) {
	block, hasBlock := extractFencedBlock(raw)

	if hasBlock {
		var payload map[string]interface{}
		if err := yaml.Unmarshal([]byte(block), &payload); err == nil && len(payload) > 0 {
			return workitem.StageOutput{
				Kind:    workitem.OutputStructured,
				Payload: payload,
			}, nil
		}

		// Structured parse failed; recover the content scalar directly
		if content, ok := extractContentScalar(block); ok {
			return workitem.StageOutput{
				Kind: workitem.OutputRawFallback,
				Raw:  content,
			}, nil
		}
	}

	// No parseable block at all: the raw text itself is the content
	trimmed := strings.TrimSpace(stripFences(raw))
	if trimmed == "" {
		return workitem.StageOutput{}, ErrEmptyResponse
	}
	return workitem.StageOutput{
		Kind: workitem.OutputRawFallback,
		Raw:  trimmed,
	}, nil
}

func extractFencedBlock(raw string) (string, bool) {
	m := fencedBlockRe.FindStringSubmatch(raw)
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

func stripFences(raw string) string {
	return fencedBlockRe.ReplaceAllStringFunc(raw, func(block string) string {
		if m := fencedBlockRe.FindStringSubmatch(block); len(m) >= 2 {
			return m[1]
		}
		return block
	})
}

// extractContentScalar pulls the text of a `content: |` literal block out of
// yaml that no longer parses. It walks the indented lines following the key
// and dedents them; quoting damage elsewhere in the document does not matter.
func extractContentScalar(block string) (string, bool) {
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "content:") {
			continue
		}

		rest := strings.TrimSpace(strings.TrimPrefix(trimmed, "content:"))
		if rest != "" && rest != "|" && rest != "|-" && rest != ">" && rest != ">-" {
			// Inline scalar
			return strings.Trim(rest, `"'`), true
		}

		// Literal block: collect the indented lines that follow
		var body []string
		indent := -1
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" {
				body = append(body, "")
				continue
			}
			lead := len(next) - len(strings.TrimLeft(next, " "))
			if indent == -1 {
				if lead == 0 {
					break
				}
				indent = lead
			}
			if lead < indent {
				break
			}
			body = append(body, next[indent:])
		}

		content := strings.TrimRight(strings.Join(body, "\n"), "\n")
		if content == "" {
			return "", false
		}
		return content, true
	}
	return "", false
}

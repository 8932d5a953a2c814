package workitem

import "time"

// OutputKind tags how a stage output was obtained from the skill response
type OutputKind string

const (
	// OutputStructured means the structured payload channel parsed cleanly
	OutputStructured OutputKind = "structured"
	// OutputRawFallback means the structured channel failed to parse and the
	// content was recovered from the raw text by the fallback extractor
	OutputRawFallback OutputKind = "raw_fallback"
)

// StageOutput is the tagged variant a stage produces. Exactly one of Payload
// or Raw is meaningful, selected by Kind.
type StageOutput struct {
	Kind    OutputKind             `yaml:"kind"`
	Payload map[string]interface{} `yaml:"payload,omitempty"`
	Raw     string                 `yaml:"raw,omitempty"`
}

// Body returns the textual content of the output regardless of channel.
// Structured payloads carry their text under the "content" key.
func (o StageOutput) Body() string {
	if o.Kind == OutputRawFallback {
		return o.Raw
	}
	if s, ok := o.Payload["content"].(string); ok {
		return s
	}
	return ""
}

// Section returns a named free-text section of a structured payload.
// Raw-fallback outputs have no sections.
func (o StageOutput) Section(name string) (string, bool) {
	if o.Kind != OutputStructured {
		return "", false
	}
	if s, ok := o.Payload[name].(string); ok {
		return s, true
	}
	return "", false
}

// IsEmpty reports whether the output carries no usable content
func (o StageOutput) IsEmpty() bool {
	return o.Body() == "" && len(o.Payload) == 0
}

// StageResult records one completed stage invocation. Immutable once
// written to the scratch pad.
type StageResult struct {
	Stage      Stage       `yaml:"stage"`
	Output     StageOutput `yaml:"output"`
	CacheKey   string      `yaml:"cache_key"`
	Timestamp  time.Time   `yaml:"timestamp"`
	DurationMs int64       `yaml:"duration_ms"`
}

// NewStageResult builds an immutable result for a completed stage
func NewStageResult(stage Stage, output StageOutput, cacheKey string, duration time.Duration) StageResult {
	return StageResult{
		Stage:      stage,
		Output:     output,
		CacheKey:   cacheKey,
		Timestamp:  time.Now().UTC(),
		DurationMs: duration.Milliseconds(),
	}
}

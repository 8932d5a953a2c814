package skill

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

// PriorOutput carries one earlier stage's output into the request so the
// skill sees the accumulated pipeline state
type PriorOutput struct {
	Stage   string `yaml:"stage"`
	Content string `yaml:"content"`
}

// CrossRef is a catalog entry offered to the skill as related material
type CrossRef struct {
	ID      string `yaml:"id"`
	Title   string `yaml:"title"`
	Summary string `yaml:"summary"`
}

// Request is the envelope written to the skill's stdin. One request per
// stage invocation.
type Request struct {
	ItemID     string        `yaml:"item_id"`
	Stage      string        `yaml:"stage"`
	PayloadRef string        `yaml:"payload_ref,omitempty"`
	Attempt    int           `yaml:"attempt"`
	Prior      []PriorOutput `yaml:"prior_outputs,omitempty"`
	CrossRefs  []CrossRef    `yaml:"cross_refs,omitempty"`

	// Feedback is present only on retry attempts; the skill is expected to
	// address the failing issues instead of regenerating blind
	Feedback *workitem.RetryFeedback `yaml:"retry_feedback,omitempty"`
}

// Encode serializes the request for transport to the skill process
func (r *Request) Encode() ([]byte, error) {
	data, err := yaml.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode skill request: %w", err)
	}
	return data, nil
}

package skill

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stagehand-dev/stagehand/internal/domain/workitem"
)

func TestParseResponse_StructuredBlock(t *testing.T) {
	raw := "Here is the result.\n" +
		"```yaml\n" +
		"content: |\n" +
		"  Slice the banana lengthwise.\n" +
		"summary: banana prep\n" +
		"```\n" +
		"Done."

	out, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, workitem.OutputStructured, out.Kind)
	assert.Equal(t, "Slice the banana lengthwise.\n", out.Body())
	summary, ok := out.Section("summary")
	require.True(t, ok)
	assert.Equal(t, "banana prep", summary)
}

func TestParseResponse_YmlFenceAccepted(t *testing.T) {
	raw := "```yml\ncontent: short answer\n```"

	out, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, workitem.OutputStructured, out.Kind)
	assert.Equal(t, "short answer", out.Body())
}

func TestParseResponse_BrokenYamlRecoversContent(t *testing.T) {
	// A tab inside the block makes the yaml unparseable, but the content
	// scalar is still recoverable line by line.
	raw := "```yaml\n" +
		"title: {unclosed\n" +
		"content: |\n" +
		"  Cut the banana into rings.\n" +
		"  Arrange on the plate.\n" +
		"```"

	out, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, workitem.OutputRawFallback, out.Kind)
	assert.Contains(t, out.Body(), "Cut the banana into rings.")
	assert.Contains(t, out.Body(), "Arrange on the plate.")
}

func TestParseResponse_BrokenYamlInlineContent(t *testing.T) {
	raw := "```yaml\n" +
		"grade: [oops\n" +
		"content: a single usable line\n" +
		"```"

	out, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, workitem.OutputRawFallback, out.Kind)
	assert.Equal(t, "a single usable line", out.Body())
}

func TestParseResponse_NoBlockFallsBackToRawText(t *testing.T) {
	raw := "The skill just wrote prose instead of the envelope.\nStill usable."

	out, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, workitem.OutputRawFallback, out.Kind)
	assert.Equal(t, raw, out.Body())
}

func TestParseResponse_Empty(t *testing.T) {
	for _, raw := range []string{"", "   \n\t\n"} {
		_, err := ParseResponse(raw)
		assert.ErrorIs(t, err, ErrEmptyResponse)
	}
}

package app

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteHealth_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "health.json")

	require.NoError(t, WriteHealth(path, "cutting-a-banana", "TRANSFORM", true, ""))

	h, err := ReadHealth(path)
	require.NoError(t, err)
	assert.Equal(t, "cutting-a-banana", h.ItemID)
	assert.Equal(t, "TRANSFORM", h.Stage)
	assert.True(t, h.Ok)
	assert.Empty(t, h.Error)
	assert.NotEmpty(t, h.Ts)
}

func TestWriteHealth_Overwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "health.json")

	require.NoError(t, WriteHealth(path, "item-a", "INGEST", true, ""))
	require.NoError(t, WriteHealth(path, "item-a", "RESEARCH", false, "skill failed"))

	h, err := ReadHealth(path)
	require.NoError(t, err)
	assert.Equal(t, "RESEARCH", h.Stage)
	assert.False(t, h.Ok)
	assert.Equal(t, "skill failed", h.Error)
}

package orchestration

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratePlanSchema(t *testing.T) {
	data, err := GeneratePlanSchema()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(data, &schema))
	assert.Equal(t, "Plan", schema["title"])
	assert.ElementsMatch(t, []any{"version", "jobs"}, schema["required"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "jobs")
	assert.Contains(t, props, "common")
	assert.Contains(t, string(data), "target_arches")
}

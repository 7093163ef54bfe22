package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	out, err := generate()
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(out, &schema))
	assert.Equal(t, "io-backends Configuration", schema["title"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "top-level properties")
	for _, key := range []string{"logging", "backend", "catalog", "metrics"} {
		assert.Contains(t, props, key)
	}

	backend := props["backend"].(map[string]any)["properties"].(map[string]any)
	engine := backend["engine"].(map[string]any)
	assert.ElementsMatch(t, []any{"posix", "mmap", "uring"}, engine["enum"])
}

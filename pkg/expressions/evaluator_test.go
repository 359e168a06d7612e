package expressions

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluator_EvaluateSlice(t *testing.T) {
	evaluator := NewEvaluator()

	var doc any
	require.NoError(t, json.Unmarshal([]byte(`{
		"payload": {"entries": [{"id": 1}, {"id": 2}]},
		"meta": {"cursor": "abc"}
	}`), &doc))

	items, err := evaluator.EvaluateSlice("payload.entries", doc)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	single, err := evaluator.EvaluateSlice("meta", doc)
	require.NoError(t, err)
	assert.Len(t, single, 1)

	missing, err := evaluator.EvaluateSlice("payload.nothing", doc)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEvaluator_EvaluateString(t *testing.T) {
	evaluator := NewEvaluator()

	data := map[string]any{
		"paging": map[string]any{"next": "https://api.test/p2", "page": float64(3)},
	}

	next, err := evaluator.EvaluateString("paging.next", data)
	require.NoError(t, err)
	assert.Equal(t, "https://api.test/p2", next)

	page, err := evaluator.EvaluateString("paging.page", data)
	require.NoError(t, err)
	assert.Equal(t, "3", page)

	empty, err := evaluator.EvaluateString("paging.missing", data)
	require.NoError(t, err)
	assert.Equal(t, "", empty)
}

func TestEvaluator_Validate(t *testing.T) {
	evaluator := NewEvaluator()

	assert.NoError(t, evaluator.Validate("data.items[0]"))
	assert.Error(t, evaluator.Validate("data.["))
}

func TestEvaluator_CachesCompiledExpressions(t *testing.T) {
	evaluator := NewEvaluator()

	_, err := evaluator.Evaluate("a.b", map[string]any{"a": map[string]any{"b": 1}})
	require.NoError(t, err)

	evaluator.mu.RLock()
	_, cached := evaluator.cache["a.b"]
	evaluator.mu.RUnlock()
	assert.True(t, cached)
}

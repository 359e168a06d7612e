package fingerprint

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"name": "John", "email": "john@example.com", "age": float64(30)}
	b := map[string]any{"age": float64(30), "email": "john@example.com", "name": "John"}

	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerate_DifferentContentDiffers(t *testing.T) {
	a := map[string]any{"name": "John", "total": "19.99"}
	b := map[string]any{"name": "John", "total": "29.99"}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGenerate_NestedStructures(t *testing.T) {
	a := map[string]any{
		"customer": map[string]any{"email": "a@b.com", "id": float64(7)},
		"items":    []any{map[string]any{"sku": "X", "qty": float64(2)}},
	}
	b := map[string]any{
		"items":    []any{map[string]any{"qty": float64(2), "sku": "X"}},
		"customer": map[string]any{"id": float64(7), "email": "a@b.com"},
	}

	assert.Equal(t, Generate(a), Generate(b))
}

func TestGenerate_ArrayOrderMatters(t *testing.T) {
	a := map[string]any{"tags": []any{"a", "b"}}
	b := map[string]any{"tags": []any{"b", "a"}}

	assert.NotEqual(t, Generate(a), Generate(b))
}

func TestGenerateFromJSON(t *testing.T) {
	tests := []struct {
		name  string
		left  string
		right string
		same  bool
	}{
		{
			name:  "identical objects with different key order",
			left:  `{"a": 1, "b": {"c": "x"}}`,
			right: `{"b": {"c": "x"}, "a": 1}`,
			same:  true,
		},
		{
			name:  "whitespace does not matter",
			left:  `{"a":1}`,
			right: `{ "a" : 1 }`,
			same:  true,
		},
		{
			name:  "arrays canonicalize",
			left:  `[{"x": 1}, {"y": 2}]`,
			right: `[{"x":1},{"y":2}]`,
			same:  true,
		},
		{
			name:  "different values differ",
			left:  `{"a": 1}`,
			right: `{"a": 2}`,
			same:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := GenerateFromJSON(json.RawMessage(tt.left))
			require.NoError(t, err)
			r, err := GenerateFromJSON(json.RawMessage(tt.right))
			require.NoError(t, err)

			if tt.same {
				assert.Equal(t, l, r)
			} else {
				assert.NotEqual(t, l, r)
			}
		})
	}
}

func TestGenerateFromJSON_InvalidJSON(t *testing.T) {
	_, err := GenerateFromJSON(json.RawMessage(`{invalid}`))
	assert.Error(t, err)
}

func TestGenerateFromJSON_ScalarDocument(t *testing.T) {
	fp, err := GenerateFromJSON(json.RawMessage(`"just a string"`))
	require.NoError(t, err)
	assert.Len(t, fp, 64)
}

func TestHasChanged(t *testing.T) {
	fp1 := Generate(map[string]any{"a": 1})
	fp2 := Generate(map[string]any{"a": 2})

	assert.False(t, HasChanged(fp1, fp1))
	assert.True(t, HasChanged(fp1, fp2))
}

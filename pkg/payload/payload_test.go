package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) any {
	t.Helper()
	var doc any
	require.NoError(t, json.Unmarshal([]byte(s), &doc))
	return doc
}

func TestItems(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected int
	}{
		{name: "bare array", body: `[{"id":1},{"id":2}]`, expected: 2},
		{name: "bare array drops scalars", body: `[{"id":1},"junk",42]`, expected: 1},
		{name: "data envelope", body: `{"data":[{"id":1},{"id":2},{"id":3}]}`, expected: 3},
		{name: "items envelope", body: `{"items":[{"id":1}]}`, expected: 1},
		{name: "results envelope", body: `{"results":[{"id":1},{"id":2}]}`, expected: 2},
		{name: "records envelope", body: `{"records":[{"id":1}]}`, expected: 1},
		{name: "rows envelope", body: `{"rows":[{"id":1}]}`, expected: 1},
		{name: "nested data.items", body: `{"data":{"items":[{"id":1},{"id":2}]}}`, expected: 2},
		{name: "nested data.results", body: `{"data":{"results":[{"id":1}]}}`, expected: 1},
		{name: "single object page", body: `{"id":1,"email":"a@b.com"}`, expected: 1},
		{name: "empty envelope", body: `{"data":[]}`, expected: 0},
		{name: "scalar body", body: `"nope"`, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Items(decode(t, tt.body)), tt.expected)
		})
	}
}

func TestItems_EnvelopePrecedence(t *testing.T) {
	// "data" is checked before the other envelope keys.
	doc := decode(t, `{"data":[{"id":1}],"items":[{"id":2},{"id":3}]}`)
	items := Items(doc)
	require.Len(t, items, 1)
	assert.Equal(t, float64(1), items[0]["id"])
}

func TestNextURL(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{name: "flat next", body: `{"next":"https://api.test/p2"}`, expected: "https://api.test/p2"},
		{name: "next_url", body: `{"next_url":"https://api.test/p2"}`, expected: "https://api.test/p2"},
		{name: "camel nextPage", body: `{"nextPage":"https://api.test/p2"}`, expected: "https://api.test/p2"},
		{name: "next_page", body: `{"next_page":"https://api.test/p2"}`, expected: "https://api.test/p2"},
		{name: "nextLink", body: `{"nextLink":"https://api.test/p2"}`, expected: "https://api.test/p2"},
		{name: "links object href", body: `{"links":{"next":{"href":"https://api.test/p2"}}}`, expected: "https://api.test/p2"},
		{name: "links object url", body: `{"links":{"next":{"url":"https://api.test/p2"}}}`, expected: "https://api.test/p2"},
		{name: "links string", body: `{"links":{"next":"https://api.test/p2"}}`, expected: "https://api.test/p2"},
		{name: "hal underscore links", body: `{"_links":{"next":{"href":"https://api.test/p2"}}}`, expected: "https://api.test/p2"},
		{name: "empty string ignored", body: `{"next":"","next_url":"https://api.test/p2"}`, expected: "https://api.test/p2"},
		{name: "null next", body: `{"next":null}`, expected: ""},
		{name: "no pointer", body: `{"data":[]}`, expected: ""},
		{name: "array body", body: `[{"id":1}]`, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NextURL(decode(t, tt.body)))
		})
	}
}

func TestDocuments(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected int
	}{
		{name: "object", raw: `{"email":"a@b.com"}`, expected: 1},
		{name: "array of objects", raw: `[{"a":1},{"b":2}]`, expected: 2},
		{name: "array drops scalars", raw: `[{"a":1},1,"x"]`, expected: 1},
		{name: "double encoded object", raw: `"{\"email\":\"a@b.com\"}"`, expected: 1},
		{name: "double encoded array", raw: `"[{\"a\":1},{\"b\":2}]"`, expected: 2},
		{name: "plain string", raw: `"not json at all"`, expected: 0},
		{name: "scalar", raw: `42`, expected: 0},
		{name: "invalid json", raw: `{nope`, expected: 0},
		{name: "empty", raw: ``, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, Documents(json.RawMessage(tt.raw)), tt.expected)
		})
	}
}

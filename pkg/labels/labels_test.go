package labels

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/sage/pkg/models"
)

func TestNormalize_Synonyms(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "facebook shorthand", input: "fb", expected: "Meta Ads"},
		{name: "facebook full", input: "facebook", expected: "Meta Ads"},
		{name: "facebook ads", input: "Facebook Ads", expected: "Meta Ads"},
		{name: "meta", input: "meta", expected: "Meta Ads"},
		{name: "google", input: "google", expected: "Google"},
		{name: "google ads", input: "Google Ads", expected: "Google"},
		{name: "sem", input: "SEM", expected: "Google"},
		{name: "newsletter", input: "newsletter", expected: "Email"},
		{name: "referrer", input: "referrer", expected: "Referral"},
		{name: "organic", input: "ORGANIC", expected: "Organic"},
		{name: "direct", input: "direct", expected: "Direct"},
		{name: "billboard", input: "billboard", expected: "Billboard"},
		{name: "unknown passthrough", input: "unknown", expected: "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_FreeText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "underscores become spaces", input: "Some Weird_Label", expected: "Some Weird Label"},
		{name: "hyphens become spaces", input: "paid-social", expected: "Paid Social"},
		{name: "mixed case collapses", input: "TIKTOK", expected: "Tiktok"},
		{name: "surrounding whitespace", input: "  bing  ", expected: "Bing"},
		{name: "multiple separators", input: "out_of-home", expected: "Out Of Home"},
		{name: "empty is unknown", input: "", expected: "Unknown"},
		{name: "whitespace only is unknown", input: "   ", expected: "Unknown"},
		{name: "separators only is unknown", input: "_-_", expected: "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_Deterministic(t *testing.T) {
	// The same input always lands on the same label, including inputs that
	// already are canonical.
	assert.Equal(t, Normalize("fb"), Normalize("fb"))
	assert.Equal(t, "Meta Ads", Normalize(Normalize("fb")))
}

func TestDefaultForKind(t *testing.T) {
	assert.Equal(t, "Marketing", DefaultForKind(models.KindLead))
	assert.Equal(t, "E-commerce", DefaultForKind(models.KindOrder))
	assert.Equal(t, "Direct", DefaultForKind(models.KindCustomer))
	assert.Equal(t, "Unknown", DefaultForKind(models.KindUnknown))
}

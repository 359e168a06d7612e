package labels

import (
	"strings"

	"github.com/Ramsey-B/sage/pkg/models"
)

// synonyms maps free-text attribution values to canonical channel labels.
// Matching is case-insensitive on the trimmed input.
var synonyms = map[string]string{
	"meta":         "Meta Ads",
	"facebook":     "Meta Ads",
	"fb":           "Meta Ads",
	"facebook ads": "Meta Ads",
	"google":       "Google",
	"google ads":   "Google",
	"sem":          "Google",
	"email":        "Email",
	"newsletter":   "Email",
	"organic":      "Organic",
	"referral":     "Referral",
	"referrer":     "Referral",
	"direct":       "Direct",
	"billboard":    "Billboard",
	"other":        "Other",
	"unknown":      "Unknown",
}

// Normalize canonicalizes a raw attribution value into a source label.
// Known synonyms map to their canonical form; anything else is title-cased
// word by word ("some weird_label" -> "Some Weird Label"); empty input is
// "Unknown". Raw free text never reaches clean staging.
func Normalize(s string) string {
	raw := strings.ToLower(strings.TrimSpace(s))
	if raw == "" {
		return "Unknown"
	}
	if label, ok := synonyms[raw]; ok {
		return label
	}

	raw = strings.ReplaceAll(raw, "_", " ")
	raw = strings.ReplaceAll(raw, "-", " ")
	words := strings.Fields(raw)
	if len(words) == 0 {
		return "Unknown"
	}
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

// DefaultForKind is the label used when a record carries no attribution at
// all: the channel the record kind implies.
func DefaultForKind(kind models.RecordKind) string {
	switch kind {
	case models.KindLead:
		return "Marketing"
	case models.KindOrder:
		return "E-commerce"
	case models.KindCustomer:
		return "Direct"
	default:
		return "Unknown"
	}
}

func capitalize(w string) string {
	r := []rune(w)
	if len(r) == 0 {
		return w
	}
	return strings.ToUpper(string(r[0])) + strings.ToLower(string(r[1:]))
}

// Package normalizers provides field normalization for identity matching.
package normalizers

import (
	"strings"
	"unicode"
)

// NormalizeEmail normalizes an email address (lowercase, trim).
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizePhone removes all non-digit characters from a phone number.
func NormalizePhone(s string) string {
	var result strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

package money

import (
	"strconv"
	"strings"
)

// ToCents converts a heterogeneous monetary value into integer cents.
// Numbers are taken as major currency units and multiplied by 100. Strings
// are stripped of everything except digits, '.' and '-' before parsing, so
// "$1,234.56" becomes 123456. Anything unparsable maps to 0; upstream data
// is too inconsistent for a money field to be worth failing a record over.
func ToCents(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case bool:
		return 0
	case float64:
		// Shortest decimal representation recovers what the upstream JSON
		// actually said, then the exact string path does the arithmetic.
		c, ok := parseDecimal(strconv.FormatFloat(x, 'f', -1, 64))
		if !ok {
			return 0
		}
		return c
	case float32:
		c, ok := parseDecimal(strconv.FormatFloat(float64(x), 'f', -1, 32))
		if !ok {
			return 0
		}
		return c
	case int:
		return int64(x) * 100
	case int64:
		return x * 100
	case string:
		stripped := strip(x)
		if stripped == "" || stripped == "." || stripped == "-" {
			return 0
		}
		c, ok := parseDecimal(stripped)
		if !ok {
			return 0
		}
		return c
	default:
		return 0
	}
}

// strip drops every character that is not a digit, '.' or '-'.
func strip(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, ch := range s {
		if (ch >= '0' && ch <= '9') || ch == '.' || ch == '-' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// parseDecimal converts a plain decimal string into cents without going
// through floating point. Returns false for anything that is not a single
// well-formed signed decimal number.
func parseDecimal(s string) (int64, bool) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if s == "" || strings.Contains(s, "-") {
		return 0, false
	}

	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
		fracPart = s[i+1:]
		if strings.Contains(fracPart, ".") {
			return 0, false
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, ch := range intPart + fracPart {
		if ch < '0' || ch > '9' {
			return 0, false
		}
	}

	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, false
	}

	// First two fraction digits are cents; the rest decide rounding.
	fracPart += "00"
	centDigits, _ := strconv.ParseInt(fracPart[:2], 10, 64)
	cents := whole*100 + centDigits

	cents += roundingCarry(fracPart[2:], cents)

	if neg {
		cents = -cents
	}
	return cents, true
}

// roundingCarry applies banker's rounding to the digits beyond cents.
func roundingCarry(rest string, cents int64) int64 {
	rest = strings.TrimRight(rest, "0")
	if rest == "" {
		return 0
	}
	switch {
	case rest[0] > '5':
		return 1
	case rest[0] < '5':
		return 0
	default:
		// exactly half only when nothing follows the 5
		if len(rest) > 1 {
			return 1
		}
		if cents%2 != 0 {
			return 1
		}
		return 0
	}
}

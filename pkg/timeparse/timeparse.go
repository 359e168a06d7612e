package timeparse

import (
	"strconv"
	"strings"
	"time"
)

// maxUnixSeconds caps digit-string timestamps at year 9999. Anything larger
// is garbage, not a date.
const maxUnixSeconds = 253402300799

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123,
	time.RFC1123Z,
	time.RFC822,
}

// Parse attempts to interpret an arbitrary payload value as a timestamp.
// Strings walk a layout ladder (ISO 8601 variants, then RFC 1123, then unix
// epoch); numbers are unix seconds. Returns false when nothing fits so
// callers fall back rather than fail.
func Parse(v any) (time.Time, bool) {
	switch x := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return x, true
	case float64:
		if x <= 0 || x > maxUnixSeconds {
			return time.Time{}, false
		}
		sec := int64(x)
		nsec := int64((x - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	case int:
		return Parse(float64(x))
	case int64:
		return Parse(float64(x))
	case string:
		return parseString(x)
	default:
		return time.Time{}, false
	}
}

func parseString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	// Unix epoch, seconds
	if isDigits(s) {
		sec, err := strconv.ParseInt(s, 10, 64)
		if err != nil || sec > maxUnixSeconds {
			return time.Time{}, false
		}
		return time.Unix(sec, 0).UTC(), true
	}
	if strings.Contains(s, ".") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f <= 0 || f > maxUnixSeconds {
			return time.Time{}, false
		}
		sec := int64(f)
		nsec := int64((f - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec).UTC(), true
	}

	return time.Time{}, false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// Day truncates a timestamp to its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

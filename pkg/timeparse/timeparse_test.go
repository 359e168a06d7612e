package timeparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Strings(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{
			name:  "rfc3339 with zulu",
			input: "2024-01-28T10:30:00Z",
			want:  time.Date(2024, 1, 28, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "rfc3339 with offset",
			input: "2024-01-28T10:30:00+02:00",
			want:  time.Date(2024, 1, 28, 8, 30, 0, 0, time.UTC),
		},
		{
			name:  "naive datetime",
			input: "2024-01-28T10:30:00",
			want:  time.Date(2024, 1, 28, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "space separated",
			input: "2024-01-28 10:30:00",
			want:  time.Date(2024, 1, 28, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "date only",
			input: "2024-01-28",
			want:  time.Date(2024, 1, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "rfc1123",
			input: "Sun, 28 Jan 2024 00:00:00 GMT",
			want:  time.Date(2024, 1, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "unix seconds",
			input: "1706437800",
			want:  time.Date(2024, 1, 28, 10, 30, 0, 0, time.UTC),
		},
		{
			name:  "surrounding whitespace",
			input: "  2024-01-28  ",
			want:  time.Date(2024, 1, 28, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Parse(tt.input)
			require.True(t, ok)
			assert.True(t, tt.want.Equal(got.UTC()), "want %v got %v", tt.want, got)
		})
	}
}

func TestParse_Numbers(t *testing.T) {
	got, ok := Parse(float64(1706437800))
	require.True(t, ok)
	assert.True(t, time.Date(2024, 1, 28, 10, 30, 0, 0, time.UTC).Equal(got))

	got, ok = Parse(1706437800)
	require.True(t, ok)
	assert.Equal(t, 2024, got.Year())
}

func TestParse_Unparseable(t *testing.T) {
	inputs := []any{nil, "", "not a date", "13-45-2024", true, map[string]any{}, float64(-5)}
	for _, in := range inputs {
		_, ok := Parse(in)
		assert.False(t, ok, "input %v should not parse", in)
	}
}

func TestParse_AbsurdEpochRejected(t *testing.T) {
	// millisecond-precision epochs are out of range as seconds and rejected
	_, ok := Parse("1706437800000")
	assert.False(t, ok)
}

func TestDay(t *testing.T) {
	ts := time.Date(2024, 1, 28, 23, 59, 59, 0, time.FixedZone("EST", -5*3600))
	day := Day(ts)
	// 23:59 EST is already the 29th in UTC
	assert.Equal(t, time.Date(2024, 1, 29, 0, 0, 0, 0, time.UTC), day)
}

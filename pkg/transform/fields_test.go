package transform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/models"
)

func TestEventTime(t *testing.T) {
	ingested := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	recordTS := time.Date(2026, 8, 20, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name     string
		payload  map[string]any
		recordTS *time.Time
		expected time.Time
	}{
		{
			name:     "created_at wins",
			payload:  map[string]any{"created_at": "2026-08-01T10:00:00Z", "date_paid": "2026-08-02T10:00:00Z"},
			expected: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "payment date when no creation date",
			payload:  map[string]any{"date_paid": "2026-08-02T10:00:00Z", "modified": "2026-08-03T10:00:00Z"},
			expected: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "modification date as last field resort",
			payload:  map[string]any{"modified": "2026-08-03T10:00:00Z"},
			expected: time.Date(2026, 8, 3, 10, 0, 0, 0, time.UTC),
		},
		{
			name:     "gmt variant of modification date",
			payload:  map[string]any{"date_modified_gmt": "2026-08-04T00:30:00"},
			expected: time.Date(2026, 8, 4, 0, 30, 0, 0, time.UTC),
		},
		{
			name:     "record timestamp when payload carries no date",
			payload:  map[string]any{"email": "a@b.com"},
			recordTS: &recordTS,
			expected: recordTS,
		},
		{
			name:     "ingest time when nothing else exists",
			payload:  map[string]any{"email": "a@b.com"},
			expected: ingested,
		},
		{
			name:     "unparseable date falls through the ladder",
			payload:  map[string]any{"created_at": "not a date", "date_paid": "2026-08-02T10:00:00Z"},
			expected: time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := eventTime(tt.payload, tt.recordTS, ingested)
			assert.True(t, tt.expected.Equal(got), "expected %s got %s", tt.expected, got)
		})
	}
}

func TestSourceLabel(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		kind     models.RecordKind
		expected string
	}{
		{
			name:     "organic flag wins over attribution",
			payload:  map[string]any{"is_organic": true, "utm_source": "google"},
			kind:     models.KindLead,
			expected: "Organic",
		},
		{
			name:     "utm_source normalized through synonyms",
			payload:  map[string]any{"utm_source": "fb"},
			kind:     models.KindLead,
			expected: "Meta Ads",
		},
		{
			name:     "blank values skipped on the ladder",
			payload:  map[string]any{"utm_source": "  ", "source": "google"},
			kind:     models.KindLead,
			expected: "Google",
		},
		{
			name:     "literal unknown skipped on the ladder",
			payload:  map[string]any{"utm_source": "unknown", "platform": "billboard"},
			kind:     models.KindLead,
			expected: "Billboard",
		},
		{
			name:     "lead with no attribution defaults to marketing",
			payload:  map[string]any{"email": "a@b.com"},
			kind:     models.KindLead,
			expected: "Marketing",
		},
		{
			name:     "order with no attribution defaults to e-commerce",
			payload:  map[string]any{"total": "10.00"},
			kind:     models.KindOrder,
			expected: "E-commerce",
		},
		{
			name:     "customer with no attribution defaults to direct",
			payload:  map[string]any{"email": "a@b.com"},
			kind:     models.KindCustomer,
			expected: "Direct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, sourceLabel(tt.payload, tt.kind))
		})
	}
}

func TestFirstStatus(t *testing.T) {
	got := firstStatus(map[string]any{"status": " Completed "}, orderStatusFields)
	require.NotNil(t, got)
	assert.Equal(t, "completed", *got)

	got = firstStatus(map[string]any{"status": "", "payment_status": "PAID"}, orderStatusFields)
	require.NotNil(t, got)
	assert.Equal(t, "paid", *got)

	assert.Nil(t, firstStatus(map[string]any{"email": "a@b.com"}, orderStatusFields))
}

func TestFirstCents(t *testing.T) {
	// zero cost next to a real spend must not mask it
	got := firstCents(map[string]any{"cost": 0, "ad_spend": "12.50"}, spendFields)
	assert.Equal(t, int64(1250), got)

	got = firstCents(map[string]any{"spend": "19.99"}, spendFields)
	assert.Equal(t, int64(1999), got)

	assert.Zero(t, firstCents(map[string]any{"cost": "free"}, spendFields))
	assert.Zero(t, firstCents(map[string]any{}, spendFields))
}

func TestExtractEmail(t *testing.T) {
	assert.Equal(t, "ada@example.com", extractEmail(map[string]any{"email": " Ada@Example.COM "}))
	assert.Equal(t, "b@c.io", extractEmail(map[string]any{"customer_email": "b@c.io"}))
	assert.Empty(t, extractEmail(map[string]any{"email": "not-an-email"}))
	assert.Empty(t, extractEmail(map[string]any{}))
}

func TestPhoneField(t *testing.T) {
	got := phoneField(map[string]any{"phone": "+1 (512) 555-0199"})
	require.NotNil(t, got)
	assert.Equal(t, "15125550199", *got)

	assert.Nil(t, phoneField(map[string]any{"phone": "n/a"}))
	assert.Nil(t, phoneField(map[string]any{}))
}

func TestOrderIdentifier(t *testing.T) {
	got := orderIdentifier(map[string]any{"number": float64(1001), "order_id": "ord-1"})
	require.NotNil(t, got)
	assert.Equal(t, "1001", *got)

	got = orderIdentifier(map[string]any{"order_id": "ord-1"})
	require.NotNil(t, got)
	assert.Equal(t, "ord-1", *got)

	assert.Nil(t, orderIdentifier(map[string]any{}))
}

func TestHasSubscriptionItems(t *testing.T) {
	assert.True(t, hasSubscriptionItems(map[string]any{
		"line_items": []any{map[string]any{"name": "Monthly Coffee Subscription"}},
	}))
	assert.True(t, hasSubscriptionItems(map[string]any{
		"items": "Pro plan (yearly)",
	}))
	assert.False(t, hasSubscriptionItems(map[string]any{
		"line_items": []any{map[string]any{"name": "One-off mug"}},
	}))
	assert.False(t, hasSubscriptionItems(map[string]any{}))
}

func TestTruthy(t *testing.T) {
	assert.True(t, truthy(true))
	assert.True(t, truthy("yes"))
	assert.True(t, truthy("TRUE"))
	assert.True(t, truthy("1"))
	assert.True(t, truthy(float64(1)))
	assert.False(t, truthy("no"))
	assert.False(t, truthy(float64(0)))
	assert.False(t, truthy(nil))
}

func TestStringOf(t *testing.T) {
	// JSON numbers decode as float64; big ids must not go scientific
	assert.Equal(t, "9007199254740991", stringOf(float64(9007199254740991)))
	assert.Equal(t, "19.99", stringOf(19.99))
	assert.Equal(t, "true", stringOf(true))
	assert.Equal(t, "hi", stringOf("hi"))
	assert.Empty(t, stringOf(nil))
}

func TestScopeWindow(t *testing.T) {
	since := "2026-08-01"
	until := "2026-08-10"

	w, err := scopeWindow(models.RunScope{Since: &since, Until: &until})
	require.NoError(t, err)

	assert.False(t, w.contains(time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC)))
	assert.True(t, w.contains(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, w.contains(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)))
	assert.False(t, w.contains(time.Date(2026, 8, 11, 0, 0, 0, 0, time.UTC)))

	open, err := scopeWindow(models.RunScope{})
	require.NoError(t, err)
	assert.True(t, open.contains(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))

	bad := "junk"
	_, err = scopeWindow(models.RunScope{Since: &bad})
	assert.Error(t, err)
}

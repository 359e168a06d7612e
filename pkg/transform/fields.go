package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Ramsey-B/sage/pkg/labels"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/money"
	"github.com/Ramsey-B/sage/pkg/normalizers"
	"github.com/Ramsey-B/sage/pkg/timeparse"
)

// Field ladders walked in priority order. These are the field names third
// party CRMs, carts and ad platforms actually send; first usable value wins.
var (
	createdAtFields = []string{
		"created_at", "date_created", "timestamp", "date", "created",
		"date_created_gmt", "order_date", "signup_date", "registered_date",
	}
	paidAtFields = []string{
		"date_paid", "date_completed", "date_paid_gmt", "date_completed_gmt",
	}
	updatedAtFields = []string{
		"updated_at", "modified", "date_modified", "date_modified_gmt",
		"last_seen", "last_login",
	}

	sourceFields = []string{
		"utm_source", "source", "platform", "channel", "network", "referrer",
		"created_via", "medium", "campaign_source", "traffic_source",
		"attribution", "origin",
	}

	orderStatusFields    = []string{"status", "order_status", "payment_status", "transaction_status", "state"}
	customerStatusFields = []string{"activity_status", "account_status", "subscription_status", "status", "state"}
	leadStatusFields     = []string{"lead_status", "status", "campaign_status", "ad_status", "state"}

	spendFields = []string{
		"total_spend", "spend", "amount_spent", "cost", "ad_spend",
		"advertising_cost", "campaign_cost", "media_spend", "budget",
	}
	revenueFields = []string{
		"total", "amount", "price", "value", "revenue", "order_total",
		"transaction_amount", "payment_amount", "gross", "subtotal",
	}
	emailFields = []string{"email", "email_address", "user_email", "customer_email", "contact_email"}

	subscriptionTerms = []string{"subscription", "monthly", "yearly", "recurring", "plan"}
)

// eventTime picks the moment a payload item happened: creation style fields
// first, then payment dates, then modification style fields, then the
// upstream record timestamp, then the ingest time. An item is never dropped
// for lacking a date; the ingest time buckets it conservatively and, being a
// stored column, keeps replays deterministic.
func eventTime(p map[string]any, recordTS *time.Time, ingestedAt time.Time) time.Time {
	for _, ladder := range [][]string{createdAtFields, paidAtFields, updatedAtFields} {
		for _, f := range ladder {
			if t, ok := parseTimeField(p, f); ok {
				return t
			}
		}
	}
	if recordTS != nil {
		return recordTS.UTC()
	}
	return ingestedAt.UTC()
}

func parseTimeField(p map[string]any, field string) (time.Time, bool) {
	v, ok := p[field]
	if !ok || v == nil {
		return time.Time{}, false
	}
	return timeparse.Parse(v)
}

// timeField returns the first parseable time among the given fields, nil when
// none parses.
func timeField(p map[string]any, fields ...string) *time.Time {
	for _, f := range fields {
		if t, ok := parseTimeField(p, f); ok {
			return &t
		}
	}
	return nil
}

// sourceLabel derives the attribution label for an item. An organic flag wins
// outright; otherwise the attribution ladder is walked, skipping blank and
// literal "unknown" values; a payload with no attribution falls back to the
// label its kind implies.
func sourceLabel(p map[string]any, kind models.RecordKind) string {
	if truthy(p["is_organic"]) {
		return "Organic"
	}
	for _, f := range sourceFields {
		v, ok := p[f]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(stringOf(v))
		if s == "" || strings.EqualFold(s, "unknown") {
			continue
		}
		return labels.Normalize(s)
	}
	return labels.DefaultForKind(kind)
}

// firstStatus walks a status ladder and returns the first non blank value
// lowercased, nil when the payload carries none.
func firstStatus(p map[string]any, fields []string) *string {
	for _, f := range fields {
		v, ok := p[f]
		if !ok || v == nil {
			continue
		}
		s := strings.ToLower(strings.TrimSpace(stringOf(v)))
		if s == "" {
			continue
		}
		return &s
	}
	return nil
}

// firstCents walks a money ladder and returns the first positive cent amount.
// Zero and unparseable values keep the walk going so a "cost": 0 next to a
// real "ad_spend" does not mask it.
func firstCents(p map[string]any, fields []string) int64 {
	for _, f := range fields {
		v, ok := p[f]
		if !ok {
			continue
		}
		if cents := money.ToCents(v); cents > 0 {
			return cents
		}
	}
	return 0
}

// extractEmail returns the first plausible email, normalized. Empty string
// means the item carries none.
func extractEmail(p map[string]any) string {
	for _, f := range emailFields {
		v, ok := p[f]
		if !ok || v == nil {
			continue
		}
		s := normalizers.NormalizeEmail(stringOf(v))
		if strings.Contains(s, "@") {
			return s
		}
	}
	return ""
}

// phoneField returns the item's phone reduced to digits, nil when absent or
// digit free.
func phoneField(p map[string]any) *string {
	raw := stringField(p, "phone")
	if raw == nil {
		return nil
	}
	digits := normalizers.NormalizePhone(*raw)
	if digits == "" {
		return nil
	}
	return &digits
}

// orderIdentifier is the order's external id: "number" preferred over
// "order_id", matching how carts expose both.
func orderIdentifier(p map[string]any) *string {
	if s := stringField(p, "number"); s != nil {
		return s
	}
	return stringField(p, "order_id")
}

// hasSubscriptionItems sniffs an order's line item blob for subscription
// wording. The blob shape varies wildly across carts, so this matches the
// rendered text rather than a parsed structure.
func hasSubscriptionItems(p map[string]any) bool {
	for _, f := range []string{"line_items", "items", "products"} {
		v, ok := p[f]
		if !ok || v == nil {
			continue
		}
		blob := strings.ToLower(fmt.Sprintf("%v", v))
		for _, term := range subscriptionTerms {
			if strings.Contains(blob, term) {
				return true
			}
		}
	}
	return false
}

// truthy interprets the loose boolean encodings sources use for flags like
// is_organic.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		return s == "1" || s == "true" || s == "yes"
	case float64:
		return t == 1
	}
	return false
}

// stringField returns the trimmed string form of a payload field, nil when
// absent or blank.
func stringField(p map[string]any, field string) *string {
	v, ok := p[field]
	if !ok || v == nil {
		return nil
	}
	s := strings.TrimSpace(stringOf(v))
	if s == "" {
		return nil
	}
	return &s
}

// stringOf renders a payload value the way it looked on the wire. JSON
// numbers decode as float64, so integer ids need the fixed format or they
// would come back in scientific notation.
func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

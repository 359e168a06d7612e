package detect

import "github.com/Ramsey-B/sage/pkg/models"

// Field groups used to classify a payload. Presence of a key is what counts,
// not its value; upstream systems routinely send nulls for fields they track.
var (
	orderFields = []string{"total", "amount", "price", "cost", "revenue", "payment", "order_id", "transaction_id", "number"}

	statusFields = []string{"status", "order_status", "payment_status", "transaction_status"}

	leadFields = []string{"lead_status", "campaign", "ad_id", "utm_source", "utm_campaign", "source", "medium", "platform", "form_id"}

	customerFields = []string{"email", "first_name", "last_name", "customer_id", "user_id"}

	activityFields = []string{"activity_status", "subscription_status", "account_status", "last_login", "signup_date"}
)

// Kind classifies a payload into a record kind by field presence. The checks
// run in priority order so a payload carrying overlapping field groups lands
// on the most specific kind: monetary plus status fields win as an order, any
// campaign marker wins as a lead, contact fields win as a customer (with or
// without activity fields), and bare monetary fields still fall through to
// order so transactions without a status are not lost.
func Kind(payload map[string]any) models.RecordKind {
	hasOrder := hasAny(payload, orderFields)
	if hasOrder && hasAny(payload, statusFields) {
		return models.KindOrder
	}
	if hasAny(payload, leadFields) {
		return models.KindLead
	}
	hasContact := hasAny(payload, customerFields)
	if hasContact && hasAny(payload, activityFields) {
		return models.KindCustomer
	}
	if hasContact {
		return models.KindCustomer
	}
	if hasOrder {
		return models.KindOrder
	}
	return models.KindUnknown
}

func hasAny(payload map[string]any, fields []string) bool {
	for _, f := range fields {
		if _, ok := payload[f]; ok {
			return true
		}
	}
	return false
}

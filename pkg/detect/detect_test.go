package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Ramsey-B/sage/pkg/models"
)

func TestKind(t *testing.T) {
	tests := []struct {
		name     string
		payload  map[string]any
		expected models.RecordKind
	}{
		{
			name:     "money and status is an order",
			payload:  map[string]any{"total": "19.99", "status": "completed"},
			expected: models.KindOrder,
		},
		{
			name:     "payment status counts as status",
			payload:  map[string]any{"amount": 42, "payment_status": "paid"},
			expected: models.KindOrder,
		},
		{
			name:     "campaign marker is a lead",
			payload:  map[string]any{"utm_source": "google", "email": "a@b.com"},
			expected: models.KindLead,
		},
		{
			name:     "form id is a lead",
			payload:  map[string]any{"form_id": "f-12", "first_name": "Ada"},
			expected: models.KindLead,
		},
		{
			name:     "contact plus activity is a customer",
			payload:  map[string]any{"email": "a@b.com", "activity_status": "active"},
			expected: models.KindCustomer,
		},
		{
			name:     "contact alone is a customer",
			payload:  map[string]any{"customer_id": "c-9", "city": "Austin"},
			expected: models.KindCustomer,
		},
		{
			name:     "contact beats bare money",
			payload:  map[string]any{"email": "a@b.com", "total": "10.00"},
			expected: models.KindCustomer,
		},
		{
			name:     "bare money is still an order",
			payload:  map[string]any{"transaction_id": "t-1", "price": 5},
			expected: models.KindOrder,
		},
		{
			name:     "order with campaign fields stays an order",
			payload:  map[string]any{"total": "9.99", "order_status": "paid", "utm_source": "fb"},
			expected: models.KindOrder,
		},
		{
			name:     "presence matters even when null",
			payload:  map[string]any{"lead_status": nil},
			expected: models.KindLead,
		},
		{
			name:     "nothing recognizable",
			payload:  map[string]any{"page": "/pricing", "duration_ms": 1200},
			expected: models.KindUnknown,
		},
		{
			name:     "empty payload",
			payload:  map[string]any{},
			expected: models.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Kind(tt.payload))
		})
	}
}

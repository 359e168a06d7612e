package kafka

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Ramsey-B/sage/pkg/models"
)

// IncomingMessage wraps a raw Kafka message with parsed headers
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

// ParseIntakeRecord decodes the message value as a push intake record. The
// tenant id may ride in the body or in the message headers; a record with
// neither is rejected.
func (m *IncomingMessage) ParseIntakeRecord() (*models.IntakeRecord, error) {
	var rec models.IntakeRecord
	if err := json.Unmarshal(m.Value, &rec); err != nil {
		return nil, err
	}
	if rec.TenantID == "" {
		rec.TenantID = m.Headers["tenant_id"]
	}
	if rec.TenantID == "" {
		return nil, errors.New("intake record has no tenant id")
	}
	if len(rec.Payload) == 0 {
		return nil, errors.New("intake record has no payload")
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.Timestamp
	}
	return &rec, nil
}

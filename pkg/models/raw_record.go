package models

import (
	"encoding/json"
	"time"
)

// RawStatus is the lifecycle status of a raw record as it moves through the
// transform stage.
type RawStatus string

const (
	RawStatusOK      RawStatus = "ok"
	RawStatusError   RawStatus = "error"
	RawStatusSkipped RawStatus = "skipped"
)

// RawRecord is one ingested item in the raw store. Rows are append-mostly:
// after insert only status and error_detail ever change, and the pipeline
// never deletes them.
type RawRecord struct {
	ID          int64           `json:"id" db:"id"`
	TenantID    string          `json:"tenant_id" db:"tenant_id"`
	SourceID    *string         `json:"source_id,omitempty" db:"source_id"`
	Fingerprint string          `json:"fingerprint" db:"fingerprint"`
	Payload     json.RawMessage `json:"payload" db:"payload"`
	ContentType string          `json:"content_type" db:"content_type"`
	IngestedAt  time.Time       `json:"ingested_at" db:"ingested_at"`
	RecordTS    *time.Time      `json:"record_ts,omitempty" db:"record_ts"`
	Status      RawStatus       `json:"status" db:"status"`
	ErrorDetail *string         `json:"error_detail,omitempty" db:"error_detail"`
}

// IntakeRecord is a record pushed onto the intake topic instead of pulled by
// the extractor. It lands in the raw store through the same fingerprint path.
type IntakeRecord struct {
	TenantID  string          `json:"tenant_id"`
	SourceID  *string         `json:"source_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	RecordTS  *time.Time      `json:"record_ts,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

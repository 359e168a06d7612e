package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/rawrecord"
	"github.com/Ramsey-B/sage/pkg/fingerprint"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/payload"
)

// IntakeHandler lands pushed records in the raw store through the same
// fingerprint path as pull extraction, so push and pull never double-insert
// the same content. Malformed messages are dropped (committed) since
// redelivery cannot fix them; insert failures are retryable and stay
// uncommitted.
func IntakeHandler(raws rawrecord.RawRecordRepository, logger ectologger.Logger) MessageHandler {
	return func(ctx context.Context, msg *IncomingMessage) error {
		rec, err := msg.ParseIntakeRecord()
		if err != nil {
			metrics.RecordKafkaConsume(msg.Topic, "malformed")
			logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"topic":  msg.Topic,
				"offset": msg.Offset,
			}).Error("Dropping malformed intake record")
			return nil
		}

		docs := payload.Documents(rec.Payload)
		if len(docs) == 0 {
			metrics.RecordKafkaConsume(msg.Topic, "malformed")
			logger.WithContext(ctx).WithFields(map[string]any{
				"topic":     msg.Topic,
				"offset":    msg.Offset,
				"tenant_id": rec.TenantID,
			}).Error("Dropping intake record with undecodable payload")
			return nil
		}

		ingestedAt := rec.Timestamp.UTC()
		if ingestedAt.IsZero() {
			ingestedAt = time.Now().UTC()
		}

		records := make([]models.RawRecord, 0, len(docs))
		for _, doc := range docs {
			body, err := json.Marshal(doc)
			if err != nil {
				continue
			}
			records = append(records, models.RawRecord{
				TenantID:    rec.TenantID,
				SourceID:    rec.SourceID,
				Fingerprint: fingerprint.Generate(doc),
				Payload:     body,
				ContentType: "json",
				IngestedAt:  ingestedAt,
				RecordTS:    rec.RecordTS,
				Status:      models.RawStatusOK,
			})
		}

		inserted, duplicates, err := raws.InsertBatch(ctx, records)
		if err != nil {
			metrics.RecordKafkaConsume(msg.Topic, "error")
			return err
		}

		metrics.RecordKafkaConsume(msg.Topic, "ok")
		logger.WithContext(ctx).WithFields(map[string]any{
			"tenant_id":  rec.TenantID,
			"inserted":   inserted,
			"duplicates": duplicates,
		}).Debug("Landed intake records")

		return nil
	}
}

package rawrecord

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// RawRecordRepository defines the interface for raw store operations
type RawRecordRepository interface {
	InsertBatch(ctx context.Context, records []models.RawRecord) (inserted, duplicates int, err error)
	ListAfter(ctx context.Context, afterID int64, tenantIDs []string, limit int) ([]models.RawRecord, error)
	MarkStatus(ctx context.Context, ids []int64, status models.RawStatus, errorDetail *string) error
	Get(ctx context.Context, tenantID string, id int64) (*models.RawRecord, error)
}

// Repository handles raw record persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new raw record repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "raw_records"

// insertChunkSize keeps multi-row inserts under the postgres parameter limit.
const insertChunkSize = 500

var columns = []string{
	"id", "tenant_id", "source_id", "fingerprint", "payload", "content_type",
	"ingested_at", "record_ts", "status", "error_detail",
}

// InsertBatch appends records to the raw store. Records whose (tenant_id,
// fingerprint) already exists are silently dropped; the second return value
// counts those duplicates.
func (r *Repository) InsertBatch(ctx context.Context, records []models.RawRecord) (int, int, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.InsertBatch")
	defer span.End()

	if len(records) == 0 {
		return 0, 0, nil
	}

	inserted := 0
	for start := 0; start < len(records); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(records) {
			end = len(records)
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(tableName)
		ib.Cols("tenant_id", "source_id", "fingerprint", "payload", "content_type", "ingested_at", "record_ts", "status")
		for _, rec := range records[start:end] {
			ib.Values(rec.TenantID, rec.SourceID, rec.Fingerprint, rec.Payload, rec.ContentType, rec.IngestedAt, rec.RecordTS, rec.Status)
		}
		ib.OnConflictColumnsDoNothing("tenant_id", "fingerprint")

		query, args := ib.Build()

		result, err := r.db.ExecContext(ctx, query, args...)
		if err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_size": end - start}).Error("Failed to insert raw records")
			return inserted, 0, fmt.Errorf("failed to insert raw records: %w", err)
		}

		rowsAffected, _ := result.RowsAffected()
		inserted += int(rowsAffected)
	}

	duplicates := len(records) - inserted

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"received":   len(records),
		"inserted":   inserted,
		"duplicates": duplicates,
	}).Debug("Inserted raw records")

	return inserted, duplicates, nil
}

// ListAfter returns up to limit records with id > afterID in id order. The
// transform cursor rides this ordering; ids are assigned by insert so the
// scan never revisits a record.
func (r *Repository) ListAfter(ctx context.Context, afterID int64, tenantIDs []string, limit int) ([]models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.ListAfter")
	defer span.End()

	if limit < 1 {
		limit = 1000
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	where := []string{
		sb.GreaterThan("id", afterID),
	}
	if len(tenantIDs) > 0 {
		where = append(where, sb.In("tenant_id", sqlbuilder.Flatten(tenantIDs)...))
	}
	sb.Where(where...)
	sb.OrderBy("id ASC")
	sb.Limit(limit)

	query, args := sb.Build()

	var records []models.RawRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"after_id": afterID, "limit": limit}).Error("Failed to list raw records")
		return nil, fmt.Errorf("failed to list raw records: %w", err)
	}
	return records, nil
}

// MarkStatus sets the transform outcome on a set of raw records.
func (r *Repository) MarkStatus(ctx context.Context, ids []int64, status models.RawStatus, errorDetail *string) error {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.MarkStatus")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("error_detail", errorDetail),
	)
	ub.Where(ub.In("id", sqlbuilder.Flatten(ids)...))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"ids": len(ids), "status": status}).Error("Failed to mark raw record status")
		return fmt.Errorf("failed to mark raw record status: %w", err)
	}
	return nil
}

// Get retrieves a single raw record scoped to a tenant.
func (r *Repository) Get(ctx context.Context, tenantID string, id int64) (*models.RawRecord, error) {
	ctx, span := tracing.StartSpan(ctx, "rawrecord.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()

	var rec models.RawRecord
	if err := r.db.GetContext(ctx, &rec, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "id": id}).Error("Failed to get raw record")
		return nil, fmt.Errorf("failed to get raw record: %w", err)
	}
	return &rec, nil
}

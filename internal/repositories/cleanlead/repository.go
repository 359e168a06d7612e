package cleanlead

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// CleanLeadRepository defines the interface for clean lead staging operations
type CleanLeadRepository interface {
	UpsertBatch(ctx context.Context, leads []models.CleanLead) error
	ListByDay(ctx context.Context, tenantID string, day time.Time) ([]models.CleanLead, error)
}

// Repository handles clean lead persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new clean lead repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "clean_leads"

const upsertChunkSize = 250

// UpsertBatch writes normalized leads keyed by (tenant_id, raw_id, item_idx).
// Replaying the transform over the same raw records overwrites rows in place.
func (r *Repository) UpsertBatch(ctx context.Context, leads []models.CleanLead) error {
	ctx, span := tracing.StartSpan(ctx, "cleanlead.Repository.UpsertBatch")
	defer span.End()

	if len(leads) == 0 {
		return nil
	}

	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(leads); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(leads) {
			end = len(leads)
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(tableName)
		ib.Cols("tenant_id", "raw_id", "item_idx", "day", "source_label", "master_customer_id",
			"email", "campaign_id", "ad_id", "form_id", "lead_status", "is_organic", "cost_cents",
			"payload", "created_at", "updated_at")
		for _, l := range leads[start:end] {
			ib.Values(l.TenantID, l.RawID, l.ItemIdx, l.Day, l.SourceLabel, l.MasterCustomerID,
				l.Email, l.CampaignID, l.AdID, l.FormID, l.LeadStatus, l.IsOrganic, l.CostCents,
				l.Payload, now, now)
		}

		ub := ib.OnConflict("tenant_id", "raw_id", "item_idx")
		ub.Set(
			ub.Assign("day", database.Excluded("day")),
			ub.Assign("source_label", database.Excluded("source_label")),
			ub.Assign("master_customer_id", database.Excluded("master_customer_id")),
			ub.Assign("email", database.Excluded("email")),
			ub.Assign("campaign_id", database.Excluded("campaign_id")),
			ub.Assign("ad_id", database.Excluded("ad_id")),
			ub.Assign("form_id", database.Excluded("form_id")),
			ub.Assign("lead_status", database.Excluded("lead_status")),
			ub.Assign("is_organic", database.Excluded("is_organic")),
			ub.Assign("cost_cents", database.Excluded("cost_cents")),
			ub.Assign("payload", database.Excluded("payload")),
			ub.Assign("updated_at", now),
		)

		query, args := ib.Build()

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_size": end - start}).Error("Failed to upsert clean leads")
			return fmt.Errorf("failed to upsert clean leads: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListByDay returns the tenant's clean leads for one UTC day.
func (r *Repository) ListByDay(ctx context.Context, tenantID string, day time.Time) ([]models.CleanLead, error) {
	ctx, span := tracing.StartSpan(ctx, "cleanlead.Repository.ListByDay")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "raw_id", "item_idx", "day", "source_label", "master_customer_id",
		"email", "campaign_id", "ad_id", "form_id", "lead_status", "is_organic", "cost_cents",
		"payload", "created_at", "updated_at")
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("day", day.Format("2006-01-02")),
	)
	sb.OrderBy("raw_id", "item_idx")

	query, args := sb.Build()

	var leads []models.CleanLead
	if err := r.db.SelectContext(ctx, &leads, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "day": day.Format("2006-01-02")}).Error("Failed to list clean leads")
		return nil, fmt.Errorf("failed to list clean leads: %w", err)
	}
	return leads, nil
}

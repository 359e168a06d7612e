package customerfragment

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

// CustomerFragmentRepository defines the interface for customer fragment staging operations
type CustomerFragmentRepository interface {
	UpsertBatch(ctx context.Context, fragments []models.CustomerFragment) error
	ListByMaster(ctx context.Context, tenantID, masterCustomerID string) ([]models.CustomerFragment, error)
}

// Repository handles customer fragment persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new customer fragment repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "clean_customers"

const upsertChunkSize = 250

// UpsertBatch writes customer fragments keyed by (tenant_id, raw_id,
// item_idx). One identity usually accumulates many fragments over time; the
// resolver folds them into master_customers but the fragments stay put.
func (r *Repository) UpsertBatch(ctx context.Context, fragments []models.CustomerFragment) error {
	ctx, span := tracing.StartSpan(ctx, "customerfragment.Repository.UpsertBatch")
	defer span.End()

	if len(fragments) == 0 {
		return nil
	}

	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(fragments); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(fragments) {
			end = len(fragments)
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(tableName)
		ib.Cols("tenant_id", "raw_id", "item_idx", "day", "source_label", "master_customer_id",
			"email", "customer_id", "first_name", "last_name", "phone", "city", "country",
			"activity_status", "signup_at", "last_seen_at", "total_spend_cents",
			"payload", "created_at", "updated_at")
		for _, f := range fragments[start:end] {
			ib.Values(f.TenantID, f.RawID, f.ItemIdx, f.Day, f.SourceLabel, f.MasterCustomerID,
				f.Email, f.CustomerID, f.FirstName, f.LastName, f.Phone, f.City, f.Country,
				f.ActivityStatus, f.SignupAt, f.LastSeenAt, f.TotalSpendCents,
				f.Payload, now, now)
		}

		ub := ib.OnConflict("tenant_id", "raw_id", "item_idx")
		ub.Set(
			ub.Assign("day", database.Excluded("day")),
			ub.Assign("source_label", database.Excluded("source_label")),
			ub.Assign("master_customer_id", database.Excluded("master_customer_id")),
			ub.Assign("email", database.Excluded("email")),
			ub.Assign("customer_id", database.Excluded("customer_id")),
			ub.Assign("first_name", database.Excluded("first_name")),
			ub.Assign("last_name", database.Excluded("last_name")),
			ub.Assign("phone", database.Excluded("phone")),
			ub.Assign("city", database.Excluded("city")),
			ub.Assign("country", database.Excluded("country")),
			ub.Assign("activity_status", database.Excluded("activity_status")),
			ub.Assign("signup_at", database.Excluded("signup_at")),
			ub.Assign("last_seen_at", database.Excluded("last_seen_at")),
			ub.Assign("total_spend_cents", database.Excluded("total_spend_cents")),
			ub.Assign("payload", database.Excluded("payload")),
			ub.Assign("updated_at", now),
		)

		query, args := ib.Build()

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_size": end - start}).Error("Failed to upsert customer fragments")
			return fmt.Errorf("failed to upsert customer fragments: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListByMaster returns every fragment folded into one master customer, oldest
// first. Used to audit how an identity was assembled.
func (r *Repository) ListByMaster(ctx context.Context, tenantID, masterCustomerID string) ([]models.CustomerFragment, error) {
	ctx, span := tracing.StartSpan(ctx, "customerfragment.Repository.ListByMaster")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "raw_id", "item_idx", "day", "source_label", "master_customer_id",
		"email", "customer_id", "first_name", "last_name", "phone", "city", "country",
		"activity_status", "signup_at", "last_seen_at", "total_spend_cents",
		"payload", "created_at", "updated_at")
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("master_customer_id", masterCustomerID),
	)
	sb.OrderBy("day ASC", "raw_id ASC", "item_idx ASC")

	query, args := sb.Build()

	var fragments []models.CustomerFragment
	if err := r.db.SelectContext(ctx, &fragments, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "master_customer_id": masterCustomerID}).Error("Failed to list customer fragments")
		return nil, fmt.Errorf("failed to list customer fragments: %w", err)
	}
	return fragments, nil
}

package cleanorder

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

// CleanOrderRepository defines the interface for clean order staging operations
type CleanOrderRepository interface {
	UpsertBatch(ctx context.Context, orders []models.CleanOrder) error
	ListByDay(ctx context.Context, tenantID string, day time.Time) ([]models.CleanOrder, error)
}

// Repository handles clean order persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new clean order repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "clean_orders"

const upsertChunkSize = 250

// UpsertBatch writes normalized orders keyed by (tenant_id, raw_id, item_idx).
func (r *Repository) UpsertBatch(ctx context.Context, orders []models.CleanOrder) error {
	ctx, span := tracing.StartSpan(ctx, "cleanorder.Repository.UpsertBatch")
	defer span.End()

	if len(orders) == 0 {
		return nil
	}

	now := time.Now().UTC()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(orders); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(orders) {
			end = len(orders)
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(tableName)
		ib.Cols("tenant_id", "raw_id", "item_idx", "day", "source_label", "master_customer_id",
			"email", "order_id", "order_status", "total_cents", "currency", "has_subscription",
			"paid_at", "completed_at", "payload", "created_at", "updated_at")
		for _, o := range orders[start:end] {
			ib.Values(o.TenantID, o.RawID, o.ItemIdx, o.Day, o.SourceLabel, o.MasterCustomerID,
				o.Email, o.OrderID, o.OrderStatus, o.TotalCents, o.Currency, o.HasSubscription,
				o.PaidAt, o.CompletedAt, o.Payload, now, now)
		}

		ub := ib.OnConflict("tenant_id", "raw_id", "item_idx")
		ub.Set(
			ub.Assign("day", database.Excluded("day")),
			ub.Assign("source_label", database.Excluded("source_label")),
			ub.Assign("master_customer_id", database.Excluded("master_customer_id")),
			ub.Assign("email", database.Excluded("email")),
			ub.Assign("order_id", database.Excluded("order_id")),
			ub.Assign("order_status", database.Excluded("order_status")),
			ub.Assign("total_cents", database.Excluded("total_cents")),
			ub.Assign("currency", database.Excluded("currency")),
			ub.Assign("has_subscription", database.Excluded("has_subscription")),
			ub.Assign("paid_at", database.Excluded("paid_at")),
			ub.Assign("completed_at", database.Excluded("completed_at")),
			ub.Assign("payload", database.Excluded("payload")),
			ub.Assign("updated_at", now),
		)

		query, args := ib.Build()

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_size": end - start}).Error("Failed to upsert clean orders")
			return fmt.Errorf("failed to upsert clean orders: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// ListByDay returns the tenant's clean orders for one UTC day.
func (r *Repository) ListByDay(ctx context.Context, tenantID string, day time.Time) ([]models.CleanOrder, error) {
	ctx, span := tracing.StartSpan(ctx, "cleanorder.Repository.ListByDay")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "raw_id", "item_idx", "day", "source_label", "master_customer_id",
		"email", "order_id", "order_status", "total_cents", "currency", "has_subscription",
		"paid_at", "completed_at", "payload", "created_at", "updated_at")
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("day", day.Format("2006-01-02")),
	)
	sb.OrderBy("raw_id", "item_idx")

	query, args := sb.Build()

	var orders []models.CleanOrder
	if err := r.db.SelectContext(ctx, &orders, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "day": day.Format("2006-01-02")}).Error("Failed to list clean orders")
		return nil, fmt.Errorf("failed to list clean orders: %w", err)
	}
	return orders, nil
}

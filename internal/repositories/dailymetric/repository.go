package dailymetric

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// okOrderStatuses are the order statuses counted as completed-enough for
// revenue. Matched case-insensitively against clean_orders.order_status.
var okOrderStatuses = []string{"completed", "processing", "paid", "shipped", "delivered", "success", "confirmed"}

// inactiveStatuses are the activity statuses treated as churn signals.
var inactiveStatuses = []string{"inactive", "cancelled", "canceled", "churned", "deleted", "suspended", "deactivated"}

// highValueThresholdCents marks an order as high value at or above $100.
const highValueThresholdCents = 10000

// DailyMetricRepository defines the interface for aggregation bucket operations
type DailyMetricRepository interface {
	DayBounds(ctx context.Context, tenantIDs []string) (*time.Time, *time.Time, error)
	LeadRollups(ctx context.Context, win Window) ([]LeadRollup, error)
	OrderRollups(ctx context.Context, win Window) ([]OrderRollup, error)
	NewCustomerRollups(ctx context.Context, win Window) ([]CustomerRollup, error)
	ChurnRollups(ctx context.Context, win Window) ([]CustomerRollup, error)
	DeleteWindow(ctx context.Context, tenantIDs []string, since, until time.Time) (int64, error)
	ReplaceBatch(ctx context.Context, metrics []models.DailySourceMetric) error
	Summary(ctx context.Context, tenantID string, since, until time.Time) (*models.DailyMetricsSummary, error)
}

// Window bounds one recompute: which tenants and which closed day range.
type Window struct {
	TenantIDs []string
	Since     time.Time
	Until     time.Time
}

// LeadRollup is one (tenant, day, label) group from clean_leads.
type LeadRollup struct {
	TenantID    string    `db:"tenant_id"`
	Day         time.Time `db:"day"`
	SourceLabel string    `db:"source_label"`
	Leads       int64     `db:"leads"`
	CostCents   int64     `db:"cost_cents"`
}

// OrderRollup is one (tenant, day, label) group from clean_orders, already
// filtered to ok statuses.
type OrderRollup struct {
	TenantID                 string    `db:"tenant_id"`
	Day                      time.Time `db:"day"`
	SourceLabel              string    `db:"source_label"`
	OrdersOK                 int64     `db:"orders_ok"`
	RevenueCents             int64     `db:"revenue_cents"`
	HighValueOrders          int64     `db:"high_value_orders"`
	SubscriptionRevenueCents int64     `db:"subscription_revenue_cents"`
}

// CustomerRollup is one (tenant, day, label) group of first-seen or
// first-churned identities.
type CustomerRollup struct {
	TenantID    string    `db:"tenant_id"`
	Day         time.Time `db:"day"`
	SourceLabel string    `db:"source_label"`
	Count       int64     `db:"count"`
}

// Repository handles daily metric persistence and the rollup queries that
// feed it
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new daily metric repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "daily_source_metrics"

// DayBounds returns the earliest and latest day present across the three
// clean tables, or nils when staging is empty.
func (r *Repository) DayBounds(ctx context.Context, tenantIDs []string) (*time.Time, *time.Time, error) {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.DayBounds")
	defer span.End()

	query := `
		SELECT MIN(d.day) AS min_day, MAX(d.day) AS max_day
		FROM (
			SELECT day, tenant_id FROM clean_leads
			UNION ALL
			SELECT day, tenant_id FROM clean_orders
			UNION ALL
			SELECT day, tenant_id FROM clean_customers
		) d
	`
	var args []any
	if len(tenantIDs) > 0 {
		query += ` WHERE d.tenant_id = ANY($1)`
		args = append(args, pq.Array(tenantIDs))
	}

	var bounds struct {
		MinDay *time.Time `db:"min_day"`
		MaxDay *time.Time `db:"max_day"`
	}
	if err := r.db.GetContext(ctx, &bounds, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to query day bounds")
		return nil, nil, fmt.Errorf("failed to query day bounds: %w", err)
	}
	return bounds.MinDay, bounds.MaxDay, nil
}

// LeadRollups groups clean leads by (tenant, day, label) inside the window.
func (r *Repository) LeadRollups(ctx context.Context, win Window) ([]LeadRollup, error) {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.LeadRollups")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("tenant_id", "day", "source_label",
		"COUNT(*) AS leads",
		"COALESCE(SUM(cost_cents), 0) AS cost_cents")
	sb.From("clean_leads")
	where := []string{
		sb.Between("day", win.Since.Format("2006-01-02"), win.Until.Format("2006-01-02")),
	}
	if len(win.TenantIDs) > 0 {
		where = append(where, sb.In("tenant_id", sqlbuilder.Flatten(win.TenantIDs)...))
	}
	sb.Where(where...)
	sb.GroupBy("tenant_id", "day", "source_label")

	query, args := sb.Build()

	var rollups []LeadRollup
	if err := r.db.SelectContext(ctx, &rollups, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to roll up leads")
		return nil, fmt.Errorf("failed to roll up leads: %w", err)
	}
	return rollups, nil
}

// OrderRollups groups ok-status clean orders by (tenant, day, label) inside
// the window. High value counts orders at or above the $100 threshold;
// subscription revenue sums only orders flagged as subscriptions.
func (r *Repository) OrderRollups(ctx context.Context, win Window) ([]OrderRollup, error) {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.OrderRollups")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("tenant_id", "day", "source_label",
		"COUNT(*) AS orders_ok",
		"COALESCE(SUM(total_cents), 0) AS revenue_cents",
		fmt.Sprintf("COALESCE(SUM(CASE WHEN total_cents >= %d THEN 1 ELSE 0 END), 0) AS high_value_orders", highValueThresholdCents),
		"COALESCE(SUM(CASE WHEN has_subscription THEN total_cents ELSE 0 END), 0) AS subscription_revenue_cents")
	sb.From("clean_orders")
	where := []string{
		sb.Between("day", win.Since.Format("2006-01-02"), win.Until.Format("2006-01-02")),
		sb.In("lower(coalesce(order_status, ''))", sqlbuilder.Flatten(okOrderStatuses)...),
	}
	if len(win.TenantIDs) > 0 {
		where = append(where, sb.In("tenant_id", sqlbuilder.Flatten(win.TenantIDs)...))
	}
	sb.Where(where...)
	sb.GroupBy("tenant_id", "day", "source_label")

	query, args := sb.Build()

	var rollups []OrderRollup
	if err := r.db.SelectContext(ctx, &rollups, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to roll up orders")
		return nil, fmt.Errorf("failed to roll up orders: %w", err)
	}
	return rollups, nil
}

// NewCustomerRollups counts identities whose very first fragment lands on a
// day in the window. DISTINCT ON picks exactly one (day, label) per email, so
// an identity can never be new twice.
func (r *Repository) NewCustomerRollups(ctx context.Context, win Window) ([]CustomerRollup, error) {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.NewCustomerRollups")
	defer span.End()

	query := `
		WITH first_seen AS (
			SELECT DISTINCT ON (tenant_id, email)
				tenant_id, email, day, source_label
			FROM clean_customers
			WHERE email IS NOT NULL
			ORDER BY tenant_id, email, day ASC, raw_id ASC, item_idx ASC
		)
		SELECT tenant_id, day, source_label, COUNT(*) AS count
		FROM first_seen
		WHERE day BETWEEN $1 AND $2
	`
	args := []any{win.Since.Format("2006-01-02"), win.Until.Format("2006-01-02")}
	if len(win.TenantIDs) > 0 {
		query += ` AND tenant_id = ANY($3)`
		args = append(args, pq.Array(win.TenantIDs))
	}
	query += ` GROUP BY tenant_id, day, source_label`

	var rollups []CustomerRollup
	if err := r.db.SelectContext(ctx, &rollups, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to roll up new customers")
		return nil, fmt.Errorf("failed to roll up new customers: %w", err)
	}
	return rollups, nil
}

// ChurnRollups counts identities whose first inactive-status fragment lands
// on a day in the window. The same DISTINCT ON shape as new customers, so an
// identity churns at most once and never on the day it was first seen unless
// it truly arrived inactive.
func (r *Repository) ChurnRollups(ctx context.Context, win Window) ([]CustomerRollup, error) {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.ChurnRollups")
	defer span.End()

	query := fmt.Sprintf(`
		WITH churn_first AS (
			SELECT DISTINCT ON (tenant_id, email)
				tenant_id, email, day, source_label
			FROM clean_customers
			WHERE email IS NOT NULL
			  AND lower(coalesce(activity_status, '')) IN (%s)
			ORDER BY tenant_id, email, day ASC, raw_id ASC, item_idx ASC
		)
		SELECT tenant_id, day, source_label, COUNT(*) AS count
		FROM churn_first
		WHERE day BETWEEN $1 AND $2
	`, quotedList(inactiveStatuses))
	args := []any{win.Since.Format("2006-01-02"), win.Until.Format("2006-01-02")}
	if len(win.TenantIDs) > 0 {
		query += ` AND tenant_id = ANY($3)`
		args = append(args, pq.Array(win.TenantIDs))
	}
	query += ` GROUP BY tenant_id, day, source_label`

	var rollups []CustomerRollup
	if err := r.db.SelectContext(ctx, &rollups, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to roll up churn events")
		return nil, fmt.Errorf("failed to roll up churn events: %w", err)
	}
	return rollups, nil
}

// quotedList renders a fixed status set as a SQL string list. Only ever
// called with the package-level constants above.
func quotedList(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, ", ")
}

// DeleteWindow removes the metric rows a forced recompute is about to
// replace. Returns the number of rows deleted.
func (r *Repository) DeleteWindow(ctx context.Context, tenantIDs []string, since, until time.Time) (int64, error) {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.DeleteWindow")
	defer span.End()

	db := sqlbuilder.PostgreSQL.NewDeleteBuilder()
	db.DeleteFrom(tableName)
	where := []string{
		db.Between("day", since.Format("2006-01-02"), until.Format("2006-01-02")),
	}
	if len(tenantIDs) > 0 {
		where = append(where, db.In("tenant_id", sqlbuilder.Flatten(tenantIDs)...))
	}
	db.Where(where...)

	query, args := db.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"since": since.Format("2006-01-02"), "until": until.Format("2006-01-02")}).Error("Failed to delete metric window")
		return 0, fmt.Errorf("failed to delete metric window: %w", err)
	}

	deleted, _ := result.RowsAffected()
	if deleted > 0 {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"deleted": deleted,
			"since":   since.Format("2006-01-02"),
			"until":   until.Format("2006-01-02"),
		}).Info("Deleted metric rows for forced recompute")
	}
	return deleted, nil
}

const replaceChunkSize = 250

// ReplaceBatch upserts recomputed buckets keyed by (tenant_id, day,
// source_label). Counter values replace what was there; they are never added
// to, so recomputing a window twice is idempotent.
func (r *Repository) ReplaceBatch(ctx context.Context, metrics []models.DailySourceMetric) error {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.ReplaceBatch")
	defer span.End()

	if len(metrics) == 0 {
		return nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for start := 0; start < len(metrics); start += replaceChunkSize {
		end := start + replaceChunkSize
		if end > len(metrics) {
			end = len(metrics)
		}

		ib := database.NewInsertBuilder()
		ib.InsertInto(tableName)
		ib.Cols("tenant_id", "day", "source_label",
			"leads", "cost_cents", "orders_ok", "revenue_cents", "high_value_orders",
			"subscription_revenue_cents", "new_customers", "churn_events", "computed_at")
		for _, m := range metrics[start:end] {
			ib.Values(m.TenantID, m.Day, m.SourceLabel,
				m.Leads, m.CostCents, m.OrdersOK, m.RevenueCents, m.HighValueOrders,
				m.SubscriptionRevenueCents, m.NewCustomers, m.ChurnEvents, m.ComputedAt)
		}

		ub := ib.OnConflict("tenant_id", "day", "source_label")
		ub.Set(
			ub.Assign("leads", database.Excluded("leads")),
			ub.Assign("cost_cents", database.Excluded("cost_cents")),
			ub.Assign("orders_ok", database.Excluded("orders_ok")),
			ub.Assign("revenue_cents", database.Excluded("revenue_cents")),
			ub.Assign("high_value_orders", database.Excluded("high_value_orders")),
			ub.Assign("subscription_revenue_cents", database.Excluded("subscription_revenue_cents")),
			ub.Assign("new_customers", database.Excluded("new_customers")),
			ub.Assign("churn_events", database.Excluded("churn_events")),
			ub.Assign("computed_at", database.Excluded("computed_at")),
		)

		query, args := ib.Build()

		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"batch_size": end - start}).Error("Failed to replace metric rows")
			return fmt.Errorf("failed to replace metric rows: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Summary reads a tenant's buckets for a window and derives the non-additive
// ratios on the way out. Ratios stay nil when their denominator is zero.
func (r *Repository) Summary(ctx context.Context, tenantID string, since, until time.Time) (*models.DailyMetricsSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "dailymetric.Repository.Summary")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "tenant_id", "day", "source_label",
		"leads", "cost_cents", "orders_ok", "revenue_cents", "high_value_orders",
		"subscription_revenue_cents", "new_customers", "churn_events", "computed_at")
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Between("day", since.Format("2006-01-02"), until.Format("2006-01-02")),
	)
	sb.OrderBy("day ASC", "source_label ASC")

	query, args := sb.Build()

	var days []models.DailySourceMetric
	if err := r.db.SelectContext(ctx, &days, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to read metrics summary")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to read metrics")
	}

	summary := &models.DailyMetricsSummary{
		Since: since.Format("2006-01-02"),
		Until: until.Format("2006-01-02"),
		Days:  days,
	}

	totals := &summary.Totals
	for _, d := range days {
		totals.Leads += d.Leads
		totals.CostCents += d.CostCents
		totals.OrdersOK += d.OrdersOK
		totals.RevenueCents += d.RevenueCents
		totals.HighValueOrders += d.HighValueOrders
		totals.SubscriptionRevenueCents += d.SubscriptionRevenueCents
		totals.NewCustomers += d.NewCustomers
		totals.ChurnEvents += d.ChurnEvents
	}

	if totals.Leads > 0 {
		rate := float64(totals.OrdersOK) / float64(totals.Leads)
		totals.ConversionRate = &rate
	}
	if totals.OrdersOK > 0 {
		aov := float64(totals.RevenueCents) / float64(totals.OrdersOK)
		totals.AvgOrderValueCents = &aov
	}
	if totals.NewCustomers > 0 {
		churn := float64(totals.ChurnEvents) / float64(totals.NewCustomers)
		totals.ChurnRate = &churn
	}

	return summary, nil
}

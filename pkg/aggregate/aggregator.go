package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/dailymetric"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const (
	// LockName serializes aggregate runs across all instances.
	LockName = "etl:daily_source_metrics"

	defaultWindowDays = 30
	defaultLockTTL    = 5 * time.Minute
)

// Config tunes the aggregate stage.
type Config struct {
	WindowDays int
	LockTTL    time.Duration
}

// Aggregator recomputes daily source metrics from clean staging. Buckets are
// replaced whole, never incremented, so recomputing any window is idempotent.
type Aggregator struct {
	metrics    dailymetric.DailyMetricRepository
	locker     *redis.Locker
	logger     ectologger.Logger
	windowDays int
	lockTTL    time.Duration
}

// NewAggregator creates a new aggregator
func NewAggregator(metricsRepo dailymetric.DailyMetricRepository, locker *redis.Locker, cfg Config, logger ectologger.Logger) *Aggregator {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = defaultWindowDays
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Aggregator{
		metrics:    metricsRepo,
		locker:     locker,
		logger:     logger,
		windowDays: cfg.WindowDays,
		lockTTL:    cfg.LockTTL,
	}
}

// Run recomputes metric buckets for the resolved window. Returns
// redis.ErrLockNotAcquired when another aggregate already holds the stage
// lock. With scope.Force the window's rows are deleted first, so buckets
// whose underlying facts disappeared do not linger.
func (a *Aggregator) Run(ctx context.Context, scope models.RunScope) (*models.AggregateResult, error) {
	ctx, span := tracing.StartSpan(ctx, "aggregate.Aggregator.Run")
	defer span.End()

	lock, err := a.locker.Acquire(ctx, LockName, a.lockTTL)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	since, until, empty, err := a.window(ctx, scope)
	if err != nil {
		return nil, err
	}
	if empty {
		a.logger.WithContext(ctx).Info("Clean staging is empty, nothing to aggregate")
		return &models.AggregateResult{}, nil
	}

	result := &models.AggregateResult{
		Since: since.Format("2006-01-02"),
		Until: until.Format("2006-01-02"),
	}

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"since":   result.Since,
		"until":   result.Until,
		"force":   scope.Force,
		"tenants": len(scope.TenantIDs),
	}).Info("Starting aggregate run")

	if scope.Force {
		deleted, err := a.metrics.DeleteWindow(ctx, scope.TenantIDs, since, until)
		if err != nil {
			return nil, err
		}
		result.RowsDeleted = deleted
	}

	win := dailymetric.Window{TenantIDs: scope.TenantIDs, Since: since, Until: until}

	leadRows, err := a.metrics.LeadRollups(ctx, win)
	if err != nil {
		return nil, err
	}
	orderRows, err := a.metrics.OrderRollups(ctx, win)
	if err != nil {
		return nil, err
	}
	newCustomerRows, err := a.metrics.NewCustomerRollups(ctx, win)
	if err != nil {
		return nil, err
	}
	churnRows, err := a.metrics.ChurnRollups(ctx, win)
	if err != nil {
		return nil, err
	}

	buckets := mergeRollups(leadRows, orderRows, newCustomerRows, churnRows)
	if len(buckets) > 0 {
		if err := a.metrics.ReplaceBatch(ctx, buckets); err != nil {
			return nil, err
		}
	}
	result.Buckets = len(buckets)
	metrics.AggregateBucketsTotal.Add(float64(len(buckets)))

	a.logger.WithContext(ctx).WithFields(map[string]any{
		"since":        result.Since,
		"until":        result.Until,
		"buckets":      result.Buckets,
		"rows_deleted": result.RowsDeleted,
	}).Info("Aggregate run complete")

	return result, nil
}

// window resolves the day range to recompute. Explicit scope bounds win;
// missing bounds derive from the newest day in clean staging, recomputing the
// trailing windowDays. empty reports that staging holds no rows at all.
func (a *Aggregator) window(ctx context.Context, scope models.RunScope) (since, until time.Time, empty bool, err error) {
	if scope.Since != nil {
		since, err = time.ParseInLocation("2006-01-02", *scope.Since, time.UTC)
		if err != nil {
			return since, until, false, fmt.Errorf("invalid scope since: %w", err)
		}
	}
	if scope.Until != nil {
		until, err = time.ParseInLocation("2006-01-02", *scope.Until, time.UTC)
		if err != nil {
			return since, until, false, fmt.Errorf("invalid scope until: %w", err)
		}
	}
	if !since.IsZero() && !until.IsZero() {
		return since, until, false, nil
	}

	_, maxDay, err := a.metrics.DayBounds(ctx, scope.TenantIDs)
	if err != nil {
		return since, until, false, err
	}
	if maxDay == nil {
		return since, until, true, nil
	}

	if until.IsZero() {
		until = *maxDay
	}
	if since.IsZero() {
		since = until.AddDate(0, 0, -(a.windowDays - 1))
	}
	return since, until, false, nil
}

// mergeRollups folds the four rollup groups into one bucket per (tenant,
// day, label). Blank labels collapse to "Unknown". The output is sorted so
// writes land in a stable order.
func mergeRollups(
	leads []dailymetric.LeadRollup,
	orders []dailymetric.OrderRollup,
	newCustomers []dailymetric.CustomerRollup,
	churn []dailymetric.CustomerRollup,
) []models.DailySourceMetric {
	now := time.Now().UTC()
	agg := make(map[models.MetricKey]*models.DailySourceMetric)

	touch := func(tenantID string, day time.Time, label string) *models.DailySourceMetric {
		if label == "" {
			label = "Unknown"
		}
		key := models.MetricKey{TenantID: tenantID, Day: day.Format("2006-01-02"), SourceLabel: label}
		m, ok := agg[key]
		if !ok {
			m = &models.DailySourceMetric{
				TenantID:    tenantID,
				Day:         day,
				SourceLabel: label,
				ComputedAt:  now,
			}
			agg[key] = m
		}
		return m
	}

	for _, r := range leads {
		m := touch(r.TenantID, r.Day, r.SourceLabel)
		m.Leads += r.Leads
		m.CostCents += r.CostCents
	}
	for _, r := range orders {
		m := touch(r.TenantID, r.Day, r.SourceLabel)
		m.OrdersOK += r.OrdersOK
		m.RevenueCents += r.RevenueCents
		m.HighValueOrders += r.HighValueOrders
		m.SubscriptionRevenueCents += r.SubscriptionRevenueCents
	}
	for _, r := range newCustomers {
		touch(r.TenantID, r.Day, r.SourceLabel).NewCustomers += r.Count
	}
	for _, r := range churn {
		touch(r.TenantID, r.Day, r.SourceLabel).ChurnEvents += r.Count
	}

	out := make([]models.DailySourceMetric, 0, len(agg))
	for _, m := range agg {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		if !out[i].Day.Equal(out[j].Day) {
			return out[i].Day.Before(out[j].Day)
		}
		return out[i].SourceLabel < out[j].SourceLabel
	})
	return out
}

package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/internal/repositories/dailymetric"
	"github.com/Ramsey-B/sage/pkg/models"
)

type fakeMetricsRepo struct {
	maxDay      *time.Time
	boundsCalls int
	boundsErr   error
}

func (f *fakeMetricsRepo) DayBounds(ctx context.Context, tenantIDs []string) (*time.Time, *time.Time, error) {
	f.boundsCalls++
	if f.boundsErr != nil {
		return nil, nil, f.boundsErr
	}
	return f.maxDay, f.maxDay, nil
}

func (f *fakeMetricsRepo) LeadRollups(ctx context.Context, win dailymetric.Window) ([]dailymetric.LeadRollup, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMetricsRepo) OrderRollups(ctx context.Context, win dailymetric.Window) ([]dailymetric.OrderRollup, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMetricsRepo) NewCustomerRollups(ctx context.Context, win dailymetric.Window) ([]dailymetric.CustomerRollup, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMetricsRepo) ChurnRollups(ctx context.Context, win dailymetric.Window) ([]dailymetric.CustomerRollup, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMetricsRepo) DeleteWindow(ctx context.Context, tenantIDs []string, since, until time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeMetricsRepo) ReplaceBatch(ctx context.Context, metrics []models.DailySourceMetric) error {
	return errors.New("not implemented")
}

func (f *fakeMetricsRepo) Summary(ctx context.Context, tenantID string, since, until time.Time) (*models.DailyMetricsSummary, error) {
	return nil, errors.New("not implemented")
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

func TestWindowExplicitBounds(t *testing.T) {
	repo := &fakeMetricsRepo{boundsErr: errors.New("must not be called")}
	agg := &Aggregator{metrics: repo, windowDays: 30}

	since, until, empty, err := agg.window(context.Background(), models.RunScope{
		Since: strPtr("2026-08-01"),
		Until: strPtr("2026-08-10"),
	})

	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, day(2026, 8, 1), since)
	assert.Equal(t, day(2026, 8, 10), until)
	assert.Zero(t, repo.boundsCalls)
}

func TestWindowDerivesTrailingWindow(t *testing.T) {
	maxDay := day(2026, 8, 25)
	repo := &fakeMetricsRepo{maxDay: &maxDay}
	agg := &Aggregator{metrics: repo, windowDays: 30}

	since, until, empty, err := agg.window(context.Background(), models.RunScope{})

	require.NoError(t, err)
	assert.False(t, empty)
	assert.Equal(t, maxDay, until)
	assert.Equal(t, day(2026, 7, 27), since)
	assert.Equal(t, 1, repo.boundsCalls)
}

func TestWindowUntilOnlyBackfillsSince(t *testing.T) {
	maxDay := day(2026, 8, 25)
	repo := &fakeMetricsRepo{maxDay: &maxDay}
	agg := &Aggregator{metrics: repo, windowDays: 7}

	since, until, empty, err := agg.window(context.Background(), models.RunScope{
		Until: strPtr("2026-08-10"),
	})

	require.NoError(t, err)
	assert.False(t, empty)
	// the explicit until wins over the staging max day
	assert.Equal(t, day(2026, 8, 10), until)
	assert.Equal(t, day(2026, 8, 4), since)
}

func TestWindowEmptyStaging(t *testing.T) {
	repo := &fakeMetricsRepo{}
	agg := &Aggregator{metrics: repo, windowDays: 30}

	_, _, empty, err := agg.window(context.Background(), models.RunScope{})

	require.NoError(t, err)
	assert.True(t, empty)
}

func TestWindowInvalidBounds(t *testing.T) {
	agg := &Aggregator{metrics: &fakeMetricsRepo{}, windowDays: 30}

	_, _, _, err := agg.window(context.Background(), models.RunScope{Since: strPtr("not-a-date")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scope since")

	_, _, _, err = agg.window(context.Background(), models.RunScope{
		Since: strPtr("2026-08-01"),
		Until: strPtr("08/10/2026"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scope until")
}

func TestMergeRollupsFoldsGroups(t *testing.T) {
	d := day(2026, 8, 10)

	buckets := mergeRollups(
		[]dailymetric.LeadRollup{
			{TenantID: "t-1", Day: d, SourceLabel: "Google", Leads: 3, CostCents: 500},
		},
		[]dailymetric.OrderRollup{
			{TenantID: "t-1", Day: d, SourceLabel: "Google", OrdersOK: 2, RevenueCents: 10000, HighValueOrders: 1, SubscriptionRevenueCents: 2500},
		},
		[]dailymetric.CustomerRollup{
			{TenantID: "t-1", Day: d, SourceLabel: "Google", Count: 2},
		},
		[]dailymetric.CustomerRollup{
			{TenantID: "t-1", Day: d, SourceLabel: "Google", Count: 1},
		},
	)

	require.Len(t, buckets, 1)
	b := buckets[0]
	assert.Equal(t, "t-1", b.TenantID)
	assert.Equal(t, d, b.Day)
	assert.Equal(t, "Google", b.SourceLabel)
	assert.Equal(t, int64(3), b.Leads)
	assert.Equal(t, int64(500), b.CostCents)
	assert.Equal(t, int64(2), b.OrdersOK)
	assert.Equal(t, int64(10000), b.RevenueCents)
	assert.Equal(t, int64(1), b.HighValueOrders)
	assert.Equal(t, int64(2500), b.SubscriptionRevenueCents)
	assert.Equal(t, int64(2), b.NewCustomers)
	assert.Equal(t, int64(1), b.ChurnEvents)
	assert.False(t, b.ComputedAt.IsZero())
}

func TestMergeRollupsBlankLabelIsUnknown(t *testing.T) {
	d := day(2026, 8, 10)

	buckets := mergeRollups(
		[]dailymetric.LeadRollup{{TenantID: "t-1", Day: d, SourceLabel: "", Leads: 1}},
		[]dailymetric.OrderRollup{{TenantID: "t-1", Day: d, SourceLabel: "", OrdersOK: 1}},
		nil,
		nil,
	)

	require.Len(t, buckets, 1)
	assert.Equal(t, "Unknown", buckets[0].SourceLabel)
	assert.Equal(t, int64(1), buckets[0].Leads)
	assert.Equal(t, int64(1), buckets[0].OrdersOK)
}

func TestMergeRollupsStableOrder(t *testing.T) {
	d1 := day(2026, 8, 9)
	d2 := day(2026, 8, 10)

	buckets := mergeRollups(
		[]dailymetric.LeadRollup{
			{TenantID: "t-2", Day: d1, SourceLabel: "Google", Leads: 1},
			{TenantID: "t-1", Day: d2, SourceLabel: "Meta Ads", Leads: 1},
			{TenantID: "t-1", Day: d1, SourceLabel: "Organic", Leads: 1},
			{TenantID: "t-1", Day: d1, SourceLabel: "Google", Leads: 1},
		},
		nil,
		nil,
		nil,
	)

	require.Len(t, buckets, 4)
	assert.Equal(t, "t-1", buckets[0].TenantID)
	assert.Equal(t, "Google", buckets[0].SourceLabel)
	assert.Equal(t, "Organic", buckets[1].SourceLabel)
	assert.Equal(t, d2, buckets[2].Day)
	assert.Equal(t, "t-2", buckets[3].TenantID)
}

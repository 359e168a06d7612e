package models

import "time"

// DailySourceMetric is one aggregation bucket per (tenant, day, source
// label). Every column is strictly additive: counts and cent sums only.
// Ratios (conversion, churn %, average order value) are derived at read time
// and never persisted.
type DailySourceMetric struct {
	ID                       int64     `json:"id" db:"id"`
	TenantID                 string    `json:"tenant_id" db:"tenant_id"`
	Day                      time.Time `json:"day" db:"day"`
	SourceLabel              string    `json:"source_label" db:"source_label"`
	Leads                    int64     `json:"leads" db:"leads"`
	CostCents                int64     `json:"cost_cents" db:"cost_cents"`
	OrdersOK                 int64     `json:"orders_ok" db:"orders_ok"`
	RevenueCents             int64     `json:"revenue_cents" db:"revenue_cents"`
	HighValueOrders          int64     `json:"high_value_orders" db:"high_value_orders"`
	SubscriptionRevenueCents int64     `json:"subscription_revenue_cents" db:"subscription_revenue_cents"`
	NewCustomers             int64     `json:"new_customers" db:"new_customers"`
	ChurnEvents              int64     `json:"churn_events" db:"churn_events"`
	ComputedAt               time.Time `json:"computed_at" db:"computed_at"`
}

// MetricKey identifies one aggregation bucket while a batch is being merged
// in memory.
type MetricKey struct {
	TenantID    string
	Day         string // YYYY-MM-DD
	SourceLabel string
}

// DailyMetricsSummary is the read-path shape: the per-day rows for a window
// plus window totals with the non-additive ratios derived on the way out.
type DailyMetricsSummary struct {
	Since  string              `json:"since"`
	Until  string              `json:"until"`
	Days   []DailySourceMetric `json:"days"`
	Totals MetricsTotals       `json:"totals"`
}

// MetricsTotals sums the window and carries the derived ratios.
type MetricsTotals struct {
	Leads                    int64    `json:"leads"`
	CostCents                int64    `json:"cost_cents"`
	OrdersOK                 int64    `json:"orders_ok"`
	RevenueCents             int64    `json:"revenue_cents"`
	HighValueOrders          int64    `json:"high_value_orders"`
	SubscriptionRevenueCents int64    `json:"subscription_revenue_cents"`
	NewCustomers             int64    `json:"new_customers"`
	ChurnEvents              int64    `json:"churn_events"`
	ConversionRate           *float64 `json:"conversion_rate,omitempty"`
	AvgOrderValueCents       *float64 `json:"avg_order_value_cents,omitempty"`
	ChurnRate                *float64 `json:"churn_rate,omitempty"`
}

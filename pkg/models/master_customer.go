package models

import "time"

// MasterCustomer is the resolved identity for a customer across every record
// kind that references them. At most one row per (tenant, external customer
// id) and one per (tenant, email).
type MasterCustomer struct {
	ID              string     `json:"id" db:"id"`
	TenantID        string     `json:"tenant_id" db:"tenant_id"`
	CustomerID      *string    `json:"customer_id,omitempty" db:"customer_id"`
	Email           *string    `json:"email,omitempty" db:"email"`
	FirstName       *string    `json:"first_name,omitempty" db:"first_name"`
	LastName        *string    `json:"last_name,omitempty" db:"last_name"`
	Phone           *string    `json:"phone,omitempty" db:"phone"`
	City            *string    `json:"city,omitempty" db:"city"`
	Country         *string    `json:"country,omitempty" db:"country"`
	ActivityStatus  *string    `json:"activity_status,omitempty" db:"activity_status"`
	HasSubscription bool       `json:"has_subscription" db:"has_subscription"`
	TotalSpendCents int64      `json:"total_spend_cents" db:"total_spend_cents"`
	FirstSeenAt     *time.Time `json:"first_seen_at,omitempty" db:"first_seen_at"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// MasterCustomerUpsertResult reports whether the resolver created the row or
// refreshed an existing one.
type MasterCustomerUpsertResult struct {
	Customer *MasterCustomer
	IsNew    bool
}

// CustomerListResponse is the response for listing master customers
type CustomerListResponse struct {
	Items      []MasterCustomer `json:"items"`
	TotalCount int              `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
}

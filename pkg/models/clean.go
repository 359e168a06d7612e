package models

import (
	"encoding/json"
	"time"
)

// RecordKind is the closed set of shapes the type detector can classify a
// payload item into.
type RecordKind string

const (
	KindLead     RecordKind = "lead"
	KindOrder    RecordKind = "order"
	KindCustomer RecordKind = "customer"
	KindUnknown  RecordKind = "unknown"
)

// CleanLead is a normalized lead row in clean staging. One row per
// (tenant, raw record, item index); replaying the transform overwrites it.
type CleanLead struct {
	ID               int64           `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	RawID            int64           `json:"raw_id" db:"raw_id"`
	ItemIdx          int             `json:"item_idx" db:"item_idx"`
	Day              time.Time       `json:"day" db:"day"`
	SourceLabel      string          `json:"source_label" db:"source_label"`
	MasterCustomerID *string         `json:"master_customer_id,omitempty" db:"master_customer_id"`
	Email            *string         `json:"email,omitempty" db:"email"`
	CampaignID       *string         `json:"campaign_id,omitempty" db:"campaign_id"`
	AdID             *string         `json:"ad_id,omitempty" db:"ad_id"`
	FormID           *string         `json:"form_id,omitempty" db:"form_id"`
	LeadStatus       *string         `json:"lead_status,omitempty" db:"lead_status"`
	IsOrganic        bool            `json:"is_organic" db:"is_organic"`
	CostCents        int64           `json:"cost_cents" db:"cost_cents"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// CleanOrder is a normalized order row in clean staging.
type CleanOrder struct {
	ID               int64           `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	RawID            int64           `json:"raw_id" db:"raw_id"`
	ItemIdx          int             `json:"item_idx" db:"item_idx"`
	Day              time.Time       `json:"day" db:"day"`
	SourceLabel      string          `json:"source_label" db:"source_label"`
	MasterCustomerID *string         `json:"master_customer_id,omitempty" db:"master_customer_id"`
	Email            *string         `json:"email,omitempty" db:"email"`
	OrderID          *string         `json:"order_id,omitempty" db:"order_id"`
	OrderStatus      *string         `json:"order_status,omitempty" db:"order_status"`
	TotalCents       int64           `json:"total_cents" db:"total_cents"`
	Currency         *string         `json:"currency,omitempty" db:"currency"`
	HasSubscription  bool            `json:"has_subscription" db:"has_subscription"`
	PaidAt           *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

// CustomerFragment is a customer-like contact row in clean staging. Fragments
// are folded into master_customers by the identity resolver; the row itself
// stays for auditability and aggregation.
type CustomerFragment struct {
	ID               int64           `json:"id" db:"id"`
	TenantID         string          `json:"tenant_id" db:"tenant_id"`
	RawID            int64           `json:"raw_id" db:"raw_id"`
	ItemIdx          int             `json:"item_idx" db:"item_idx"`
	Day              time.Time       `json:"day" db:"day"`
	SourceLabel      string          `json:"source_label" db:"source_label"`
	MasterCustomerID *string         `json:"master_customer_id,omitempty" db:"master_customer_id"`
	Email            *string         `json:"email,omitempty" db:"email"`
	CustomerID       *string         `json:"customer_id,omitempty" db:"customer_id"`
	FirstName        *string         `json:"first_name,omitempty" db:"first_name"`
	LastName         *string         `json:"last_name,omitempty" db:"last_name"`
	Phone            *string         `json:"phone,omitempty" db:"phone"`
	City             *string         `json:"city,omitempty" db:"city"`
	Country          *string         `json:"country,omitempty" db:"country"`
	ActivityStatus   *string         `json:"activity_status,omitempty" db:"activity_status"`
	SignupAt         *time.Time      `json:"signup_at,omitempty" db:"signup_at"`
	LastSeenAt       *time.Time      `json:"last_seen_at,omitempty" db:"last_seen_at"`
	TotalSpendCents  int64           `json:"total_spend_cents" db:"total_spend_cents"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"`
}

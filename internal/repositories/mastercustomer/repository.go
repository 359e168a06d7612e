package mastercustomer

import (
	"context"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// MasterCustomerRepository defines the interface for resolved customer identity operations
type MasterCustomerRepository interface {
	Get(ctx context.Context, tenantID, id string) (*models.MasterCustomer, error)
	FindByCustomerID(ctx context.Context, tenantID, customerID string) (*models.MasterCustomer, error)
	FindByEmail(ctx context.Context, tenantID, email string) (*models.MasterCustomer, error)
	UpsertByEmail(ctx context.Context, tenantID string, mc models.MasterCustomer) (*models.MasterCustomerUpsertResult, error)
	UpdateObserved(ctx context.Context, tenantID, id string, update ObservedUpdate) error
	List(ctx context.Context, tenantID string, page, pageSize int) ([]models.MasterCustomer, int, error)
}

// Repository handles master customer persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new master customer repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "master_customers"

var columns = []string{
	"id", "tenant_id", "customer_id", "email", "first_name", "last_name", "phone",
	"city", "country", "activity_status", "has_subscription", "total_spend_cents",
	"first_seen_at", "last_seen_at", "created_at", "updated_at",
}

// Get retrieves a master customer by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.MasterCustomer, error) {
	ctx, span := tracing.StartSpan(ctx, "mastercustomer.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
	)

	query, args := sb.Build()

	var mc models.MasterCustomer
	if err := r.db.GetContext(ctx, &mc, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "customer not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "id": id}).Error("Failed to get master customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get customer")
	}

	return &mc, nil
}

// FindByCustomerID looks an identity up by its external customer id. Returns
// nil when no row matches; the resolver falls through to email.
func (r *Repository) FindByCustomerID(ctx context.Context, tenantID, customerID string) (*models.MasterCustomer, error) {
	ctx, span := tracing.StartSpan(ctx, "mastercustomer.Repository.FindByCustomerID")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("customer_id", customerID),
	)
	sb.Limit(1)

	query, args := sb.Build()

	var mc models.MasterCustomer
	if err := r.db.GetContext(ctx, &mc, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "customer_id": customerID}).Error("Failed to find master customer by customer_id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find customer")
	}
	return &mc, nil
}

// FindByEmail looks an identity up by email, case-insensitively.
func (r *Repository) FindByEmail(ctx context.Context, tenantID, email string) (*models.MasterCustomer, error) {
	ctx, span := tracing.StartSpan(ctx, "mastercustomer.Repository.FindByEmail")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.Equal("lower(email)", email),
	)
	sb.Limit(1)

	query, args := sb.Build()

	var mc models.MasterCustomer
	if err := r.db.GetContext(ctx, &mc, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to find master customer by email")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to find customer")
	}
	return &mc, nil
}

// UpsertByEmail creates or merges an identity keyed by (tenant_id,
// lower(email)) in a single atomic statement. Identifying fields merge with
// COALESCE so a sparse fragment never blanks out what an earlier one filled
// in; seen timestamps widen with LEAST/GREATEST.
func (r *Repository) UpsertByEmail(ctx context.Context, tenantID string, mc models.MasterCustomer) (*models.MasterCustomerUpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "mastercustomer.Repository.UpsertByEmail")
	defer span.End()

	if mc.Email == nil || *mc.Email == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "email is required to resolve an identity")
	}

	now := time.Now().UTC()
	id := uuid.New().String()

	query := `
		WITH upsert AS (
			INSERT INTO master_customers (
				id, tenant_id, customer_id, email, first_name, last_name, phone,
				city, country, activity_status, has_subscription, total_spend_cents,
				first_seen_at, last_seen_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
			ON CONFLICT (tenant_id, lower(email)) WHERE email IS NOT NULL
			DO UPDATE SET
				customer_id = COALESCE(EXCLUDED.customer_id, master_customers.customer_id),
				first_name = COALESCE(EXCLUDED.first_name, master_customers.first_name),
				last_name = COALESCE(EXCLUDED.last_name, master_customers.last_name),
				phone = COALESCE(EXCLUDED.phone, master_customers.phone),
				city = COALESCE(EXCLUDED.city, master_customers.city),
				country = COALESCE(EXCLUDED.country, master_customers.country),
				activity_status = COALESCE(EXCLUDED.activity_status, master_customers.activity_status),
				has_subscription = master_customers.has_subscription OR EXCLUDED.has_subscription,
				total_spend_cents = CASE WHEN EXCLUDED.total_spend_cents > 0 THEN EXCLUDED.total_spend_cents ELSE master_customers.total_spend_cents END,
				first_seen_at = LEAST(master_customers.first_seen_at, EXCLUDED.first_seen_at),
				last_seen_at = GREATEST(master_customers.last_seen_at, EXCLUDED.last_seen_at),
				updated_at = EXCLUDED.updated_at
			RETURNING
				id, tenant_id, customer_id, email, first_name, last_name, phone,
				city, country, activity_status, has_subscription, total_spend_cents,
				first_seen_at, last_seen_at, created_at, updated_at,
				(xmax = 0) AS inserted
		)
		SELECT * FROM upsert
	`

	var result struct {
		models.MasterCustomer
		Inserted bool `db:"inserted"`
	}

	err := r.db.GetContext(ctx, &result, query,
		id, tenantID, mc.CustomerID, mc.Email, mc.FirstName, mc.LastName, mc.Phone,
		mc.City, mc.Country, mc.ActivityStatus, mc.HasSubscription, mc.TotalSpendCents,
		mc.FirstSeenAt, mc.LastSeenAt, now, now,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "customer_id": mc.CustomerID}).Error("Failed to upsert master customer")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert customer")
	}

	if result.Inserted {
		r.logger.WithContext(ctx).WithFields(map[string]any{"id": result.ID, "tenant_id": tenantID}).Info("Created master customer")
	} else {
		r.logger.WithContext(ctx).WithFields(map[string]any{"id": result.ID, "tenant_id": tenantID}).Debug("Merged master customer")
	}

	return &models.MasterCustomerUpsertResult{Customer: &result.MasterCustomer, IsNew: result.Inserted}, nil
}

// ObservedUpdate carries the latest-wins fields refreshed when an existing
// identity is seen again. Nil fields are left untouched.
type ObservedUpdate struct {
	CustomerID      *string
	ActivityStatus  *string
	LastSeenAt      *time.Time
	TotalSpendCents *int64
	HasSubscription *bool
}

// UpdateObserved refreshes an existing identity in place.
func (r *Repository) UpdateObserved(ctx context.Context, tenantID, id string, update ObservedUpdate) error {
	ctx, span := tracing.StartSpan(ctx, "mastercustomer.Repository.UpdateObserved")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	assignments := []string{ub.Assign("updated_at", time.Now().UTC())}

	if update.CustomerID != nil {
		assignments = append(assignments, ub.Assign("customer_id", *update.CustomerID))
	}
	if update.ActivityStatus != nil {
		assignments = append(assignments, ub.Assign("activity_status", *update.ActivityStatus))
	}
	if update.LastSeenAt != nil {
		assignments = append(assignments, "last_seen_at = GREATEST(last_seen_at, "+ub.Var(*update.LastSeenAt)+")")
	}
	if update.TotalSpendCents != nil {
		assignments = append(assignments, ub.Assign("total_spend_cents", *update.TotalSpendCents))
	}
	if update.HasSubscription != nil && *update.HasSubscription {
		assignments = append(assignments, ub.Assign("has_subscription", true))
	}
	ub.Set(assignments...)

	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
	)

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "id": id}).Error("Failed to update master customer")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update customer")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "customer not found")
	}
	return nil
}

// List returns a page of the tenant's resolved customers, most recently seen
// first.
func (r *Repository) List(ctx context.Context, tenantID string, page, pageSize int) ([]models.MasterCustomer, int, error) {
	ctx, span := tracing.StartSpan(ctx, "mastercustomer.Repository.List")
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	countSb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	countSb.Select("COUNT(*)")
	countSb.From(tableName)
	countSb.Where(countSb.Equal("tenant_id", tenantID))

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count master customers")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count customers")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("tenant_id", tenantID))
	sb.OrderBy("last_seen_at DESC NULLS LAST", "created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()

	var customers []models.MasterCustomer
	if err := r.db.SelectContext(ctx, &customers, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "page": page}).Error("Failed to list master customers")
		return nil, 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list customers")
	}

	return customers, totalCount, nil
}

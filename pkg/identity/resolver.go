package identity

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/mastercustomer"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Input is the identity-bearing slice of one payload item. Email is expected
// lowercased; empty strings mean the field was absent.
type Input struct {
	Email           string
	CustomerID      *string
	FirstName       *string
	LastName        *string
	Phone           *string
	City            *string
	Country         *string
	ActivityStatus  *string
	SignupAt        *time.Time
	SeenAt          time.Time
	TotalSpendCents int64
	HasSubscription bool
}

// Resolver folds payload items into master customer identities. Lookup
// prefers the external customer id over email, matching how upstream CRMs
// reuse emails across accounts but never ids.
type Resolver struct {
	masters mastercustomer.MasterCustomerRepository
	logger  ectologger.Logger
}

// NewResolver creates a new identity resolver
func NewResolver(masters mastercustomer.MasterCustomerRepository, logger ectologger.Logger) *Resolver {
	return &Resolver{
		masters: masters,
		logger:  logger,
	}
}

// Resolve finds or creates the master customer an item belongs to. Returns
// nil (no error) when the item carries nothing to resolve on: creation
// requires an email, and a customer id alone only matches identities that
// already exist.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, in Input) (*models.MasterCustomerUpsertResult, error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Resolver.Resolve")
	defer span.End()

	if in.CustomerID != nil && *in.CustomerID != "" {
		existing, err := r.masters.FindByCustomerID(ctx, tenantID, *in.CustomerID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			if err := r.refresh(ctx, tenantID, existing.ID, in, false); err != nil {
				return nil, err
			}
			return &models.MasterCustomerUpsertResult{Customer: existing, IsNew: false}, nil
		}
	}

	if in.Email != "" {
		existing, err := r.masters.FindByEmail(ctx, tenantID, in.Email)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			// backfill the customer id if this fragment is the first to carry it
			if err := r.refresh(ctx, tenantID, existing.ID, in, existing.CustomerID == nil); err != nil {
				return nil, err
			}
			return &models.MasterCustomerUpsertResult{Customer: existing, IsNew: false}, nil
		}
	}

	if in.Email == "" {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"tenant_id":   tenantID,
			"customer_id": in.CustomerID,
		}).Debug("Cannot resolve identity without an email")
		return nil, nil
	}

	email := in.Email
	seenAt := in.SeenAt
	firstSeen := seenAt
	if in.SignupAt != nil && in.SignupAt.Before(firstSeen) {
		firstSeen = *in.SignupAt
	}
	mc := models.MasterCustomer{
		CustomerID:      in.CustomerID,
		Email:           &email,
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Phone:           in.Phone,
		City:            in.City,
		Country:         in.Country,
		ActivityStatus:  in.ActivityStatus,
		HasSubscription: in.HasSubscription,
		TotalSpendCents: in.TotalSpendCents,
		FirstSeenAt:     &firstSeen,
		LastSeenAt:      &seenAt,
	}

	return r.masters.UpsertByEmail(ctx, tenantID, mc)
}

// refresh applies the latest-wins fields from a new sighting of a known
// identity.
func (r *Resolver) refresh(ctx context.Context, tenantID, id string, in Input, setCustomerID bool) error {
	update := mastercustomer.ObservedUpdate{
		ActivityStatus: in.ActivityStatus,
	}
	seenAt := in.SeenAt
	update.LastSeenAt = &seenAt
	if setCustomerID && in.CustomerID != nil && *in.CustomerID != "" {
		update.CustomerID = in.CustomerID
	}
	if in.TotalSpendCents > 0 {
		spend := in.TotalSpendCents
		update.TotalSpendCents = &spend
	}
	if in.HasSubscription {
		sub := true
		update.HasSubscription = &sub
	}
	return r.masters.UpdateObserved(ctx, tenantID, id, update)
}

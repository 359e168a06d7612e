package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/cleanlead"
	"github.com/Ramsey-B/sage/internal/repositories/cleanorder"
	"github.com/Ramsey-B/sage/internal/repositories/customerfragment"
	"github.com/Ramsey-B/sage/internal/repositories/etlcursor"
	"github.com/Ramsey-B/sage/internal/repositories/rawrecord"
	"github.com/Ramsey-B/sage/pkg/detect"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/money"
	"github.com/Ramsey-B/sage/pkg/payload"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/timeparse"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

const (
	// CursorJobName keys this stage's high water mark in etl_cursors.
	CursorJobName = "transform"
	// LockName serializes transform runs across all instances.
	LockName = "etl:clean_staging"

	defaultBatchSize = 5000
	defaultLockTTL   = 5 * time.Minute
)

// Config tunes the transform stage.
type Config struct {
	BatchSize int
	LockTTL   time.Duration
}

// Transformer walks the raw store from the cursor, classifies every payload
// item, and upserts normalized rows into clean staging. Rows are keyed by
// (tenant_id, raw_id, item_idx), so replaying any range is safe.
type Transformer struct {
	raws      rawrecord.RawRecordRepository
	leads     cleanlead.CleanLeadRepository
	orders    cleanorder.CleanOrderRepository
	fragments customerfragment.CustomerFragmentRepository
	cursors   etlcursor.CursorRepository
	resolver  *identity.Resolver
	locker    *redis.Locker
	logger    ectologger.Logger
	batchSize int
	lockTTL   time.Duration
}

// NewTransformer creates a new transformer
func NewTransformer(
	raws rawrecord.RawRecordRepository,
	leads cleanlead.CleanLeadRepository,
	orders cleanorder.CleanOrderRepository,
	fragments customerfragment.CustomerFragmentRepository,
	cursors etlcursor.CursorRepository,
	resolver *identity.Resolver,
	locker *redis.Locker,
	cfg Config,
	logger ectologger.Logger,
) *Transformer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &Transformer{
		raws:      raws,
		leads:     leads,
		orders:    orders,
		fragments: fragments,
		cursors:   cursors,
		resolver:  resolver,
		locker:    locker,
		logger:    logger,
		batchSize: cfg.BatchSize,
		lockTTL:   cfg.LockTTL,
	}
}

// batchRows accumulates one batch worth of clean staging writes and raw
// status bookkeeping.
type batchRows struct {
	leads      []models.CleanLead
	orders     []models.CleanOrder
	fragments  []models.CustomerFragment
	errorIDs   []int64
	skippedIDs []int64
	okIDs      []int64
}

// Run transforms raw records into clean staging rows. Returns
// redis.ErrLockNotAcquired when another transform already holds the stage
// lock; the caller decides whether that is a skip or a failure.
//
// Writes are ordered so a crash loses progress, never correctness: clean
// upserts land first, the cursor advances last. onProgress, when non nil, is
// called after every committed batch.
func (t *Transformer) Run(ctx context.Context, scope models.RunScope, onProgress func(models.TransformProgress)) (*models.TransformResult, error) {
	ctx, span := tracing.StartSpan(ctx, "transform.Transformer.Run")
	defer span.End()

	lock, err := t.locker.Acquire(ctx, LockName, t.lockTTL)
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	window, err := scopeWindow(scope)
	if err != nil {
		return nil, err
	}

	afterID := int64(0)
	if !scope.Force {
		cursor, err := t.cursors.Get(ctx, CursorJobName)
		if err != nil {
			return nil, err
		}
		if cursor != nil {
			afterID = cursor.LastRawID
		}
	}

	advanceCursor := advancesSharedCursor(scope)

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"after_id": afterID,
		"force":    scope.Force,
		"tenants":  len(scope.TenantIDs),
	}).Info("Starting transform run")

	result := &models.TransformResult{LastRawID: afterID}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		records, err := t.raws.ListAfter(ctx, afterID, scope.TenantIDs, t.batchSize)
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}

		batch := &batchRows{}
		for _, rec := range records {
			if err := t.transformRecord(ctx, rec, window, batch, result); err != nil {
				return nil, err
			}
		}

		if err := t.flush(ctx, batch); err != nil {
			return nil, err
		}

		afterID = records[len(records)-1].ID
		result.LastRawID = afterID
		result.Batches++
		metrics.TransformBatchesTotal.Inc()

		if advanceCursor {
			if err := t.cursors.Upsert(ctx, CursorJobName, afterID); err != nil {
				return nil, err
			}
		}

		if onProgress != nil {
			onProgress(models.TransformProgress{
				Processed: result.Processed,
				Batches:   result.Batches,
				LastRawID: afterID,
			})
		}

		t.logger.WithContext(ctx).WithFields(map[string]any{
			"batch":       result.Batches,
			"last_raw_id": afterID,
			"leads":       len(batch.leads),
			"orders":      len(batch.orders),
			"customers":   len(batch.fragments),
		}).Debug("Committed transform batch")

		if err := lock.Extend(ctx, t.lockTTL); err != nil {
			return nil, fmt.Errorf("failed to extend transform lock: %w", err)
		}

		if len(records) < t.batchSize {
			break
		}
	}

	t.logger.WithContext(ctx).WithFields(map[string]any{
		"processed":   result.Processed,
		"leads":       result.Leads,
		"orders":      result.Orders,
		"customers":   result.Customers,
		"skipped":     result.Skipped,
		"errors":      result.Errors,
		"new_masters": result.NewMasters,
		"batches":     result.Batches,
	}).Info("Transform run complete")

	return result, nil
}

// transformRecord classifies and normalizes every payload item of one raw
// record. Item level problems are counted; only infrastructure failures
// (identity resolution hitting the database) abort the run.
func (t *Transformer) transformRecord(ctx context.Context, rec models.RawRecord, window dayWindow, batch *batchRows, result *models.TransformResult) error {
	docs := payload.Documents(rec.Payload)
	if len(docs) == 0 {
		batch.errorIDs = append(batch.errorIDs, rec.ID)
		result.Errors++
		return nil
	}

	produced := 0
	scopedOut := 0

	for idx, item := range docs {
		result.Processed++

		kind := detect.Kind(item)
		if kind == models.KindUnknown {
			result.Skipped++
			continue
		}

		created := eventTime(item, rec.RecordTS, rec.IngestedAt)
		day := timeparse.Day(created)
		if !window.contains(day) {
			scopedOut++
			continue
		}

		label := sourceLabel(item, kind)
		email := extractEmail(item)

		body, err := json.Marshal(item)
		if err != nil {
			result.Skipped++
			continue
		}

		var masterID *string
		customerID := stringField(item, "customer_id")
		if email != "" || customerID != nil {
			res, err := t.resolver.Resolve(ctx, rec.TenantID, resolverInput(item, email, customerID, created, kind))
			if err != nil {
				return err
			}
			if res != nil {
				id := res.Customer.ID
				masterID = &id
				if res.IsNew {
					result.NewMasters++
				}
			}
		}

		var emailPtr *string
		if email != "" {
			emailPtr = &email
		}

		switch kind {
		case models.KindLead:
			batch.leads = append(batch.leads, models.CleanLead{
				TenantID:         rec.TenantID,
				RawID:            rec.ID,
				ItemIdx:          idx,
				Day:              day,
				SourceLabel:      label,
				MasterCustomerID: masterID,
				Email:            emailPtr,
				CampaignID:       stringField(item, "campaign_id"),
				AdID:             stringField(item, "ad_id"),
				FormID:           stringField(item, "form_id"),
				LeadStatus:       firstStatus(item, leadStatusFields),
				IsOrganic:        truthy(item["is_organic"]),
				CostCents:        firstCents(item, spendFields),
				Payload:          body,
			})
			result.Leads++

		case models.KindOrder:
			batch.orders = append(batch.orders, models.CleanOrder{
				TenantID:         rec.TenantID,
				RawID:            rec.ID,
				ItemIdx:          idx,
				Day:              day,
				SourceLabel:      label,
				MasterCustomerID: masterID,
				Email:            emailPtr,
				OrderID:          orderIdentifier(item),
				OrderStatus:      firstStatus(item, orderStatusFields),
				TotalCents:       money.ToCents(item["total"]),
				Currency:         stringField(item, "currency"),
				HasSubscription:  hasSubscriptionItems(item),
				PaidAt:           timeField(item, "date_paid", "date_paid_gmt"),
				CompletedAt:      timeField(item, "date_completed", "date_completed_gmt"),
				Payload:          body,
			})
			result.Orders++

		case models.KindCustomer:
			batch.fragments = append(batch.fragments, models.CustomerFragment{
				TenantID:         rec.TenantID,
				RawID:            rec.ID,
				ItemIdx:          idx,
				Day:              day,
				SourceLabel:      label,
				MasterCustomerID: masterID,
				Email:            emailPtr,
				CustomerID:       customerID,
				FirstName:        stringField(item, "first_name"),
				LastName:         stringField(item, "last_name"),
				Phone:            phoneField(item),
				City:             stringField(item, "city"),
				Country:          stringField(item, "country"),
				ActivityStatus:   firstStatus(item, customerStatusFields),
				SignupAt:         timeField(item, "signup_date", "registered_date"),
				LastSeenAt:       timeField(item, "last_login", "last_seen"),
				TotalSpendCents:  firstCents(item, revenueFields),
				Payload:          body,
			})
			result.Customers++
		}

		produced++
		metrics.TransformRecordsTotal.WithLabelValues(string(kind)).Inc()
	}

	if produced == 0 && scopedOut == 0 {
		batch.skippedIDs = append(batch.skippedIDs, rec.ID)
	} else if produced > 0 && rec.Status != models.RawStatusOK {
		// a forced replay can rescue a record that skipped or errored before
		batch.okIDs = append(batch.okIDs, rec.ID)
	}

	return nil
}

// flush upserts the batch into clean staging and records raw status changes.
func (t *Transformer) flush(ctx context.Context, batch *batchRows) error {
	if len(batch.leads) > 0 {
		if err := t.leads.UpsertBatch(ctx, batch.leads); err != nil {
			return err
		}
	}
	if len(batch.orders) > 0 {
		if err := t.orders.UpsertBatch(ctx, batch.orders); err != nil {
			return err
		}
	}
	if len(batch.fragments) > 0 {
		if err := t.fragments.UpsertBatch(ctx, batch.fragments); err != nil {
			return err
		}
	}

	if len(batch.errorIDs) > 0 {
		detail := "payload is not an object or array of objects"
		if err := t.raws.MarkStatus(ctx, batch.errorIDs, models.RawStatusError, &detail); err != nil {
			return err
		}
	}
	if len(batch.skippedIDs) > 0 {
		detail := "no classifiable items"
		if err := t.raws.MarkStatus(ctx, batch.skippedIDs, models.RawStatusSkipped, &detail); err != nil {
			return err
		}
	}
	if len(batch.okIDs) > 0 {
		if err := t.raws.MarkStatus(ctx, batch.okIDs, models.RawStatusOK, nil); err != nil {
			return err
		}
	}

	return nil
}

// advancesSharedCursor reports whether a run may move the shared transform
// cursor. A scoped run sees only a slice of the raw stream, so advancing the
// cursor would silently skip everyone else's records. Scoping by source alone
// does not restrict the listing, so it stays safe.
func advancesSharedCursor(scope models.RunScope) bool {
	return len(scope.TenantIDs) == 0 && scope.Since == nil && scope.Until == nil
}

// resolverInput collects the identity bearing fields of a payload item.
func resolverInput(item map[string]any, email string, customerID *string, created time.Time, kind models.RecordKind) identity.Input {
	seen := created
	if t := timeField(item, "last_login", "last_seen"); t != nil {
		seen = *t
	}
	return identity.Input{
		Email:           email,
		CustomerID:      customerID,
		FirstName:       stringField(item, "first_name"),
		LastName:        stringField(item, "last_name"),
		Phone:           phoneField(item),
		City:            stringField(item, "city"),
		Country:         stringField(item, "country"),
		ActivityStatus:  firstStatus(item, customerStatusFields),
		SignupAt:        timeField(item, "signup_date"),
		SeenAt:          seen,
		TotalSpendCents: firstCents(item, revenueFields),
		HasSubscription: kind == models.KindOrder && hasSubscriptionItems(item),
	}
}

// dayWindow bounds the UTC days a scoped run touches. Nil bounds mean
// unbounded.
type dayWindow struct {
	since *time.Time
	until *time.Time
}

func (w dayWindow) contains(day time.Time) bool {
	if w.since != nil && day.Before(*w.since) {
		return false
	}
	if w.until != nil && day.After(*w.until) {
		return false
	}
	return true
}

func scopeWindow(scope models.RunScope) (dayWindow, error) {
	var w dayWindow
	if scope.Since != nil {
		t, err := time.ParseInLocation("2006-01-02", *scope.Since, time.UTC)
		if err != nil {
			return w, fmt.Errorf("invalid scope since: %w", err)
		}
		w.since = &t
	}
	if scope.Until != nil {
		t, err := time.ParseInLocation("2006-01-02", *scope.Until, time.UTC)
		if err != nil {
			return w, fmt.Errorf("invalid scope until: %w", err)
		}
		w.until = &t
	}
	return w, nil
}

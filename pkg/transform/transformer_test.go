package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/internal/repositories/mastercustomer"
	"github.com/Ramsey-B/sage/pkg/identity"
	"github.com/Ramsey-B/sage/pkg/models"
)

type fakeRawRepo struct {
	marked  map[models.RawStatus][]int64
	details map[models.RawStatus]*string
}

func (f *fakeRawRepo) InsertBatch(ctx context.Context, records []models.RawRecord) (int, int, error) {
	return 0, 0, errors.New("not implemented")
}

func (f *fakeRawRepo) ListAfter(ctx context.Context, afterID int64, tenantIDs []string, limit int) ([]models.RawRecord, error) {
	return nil, nil
}

func (f *fakeRawRepo) MarkStatus(ctx context.Context, ids []int64, status models.RawStatus, errorDetail *string) error {
	if f.marked == nil {
		f.marked = map[models.RawStatus][]int64{}
		f.details = map[models.RawStatus]*string{}
	}
	f.marked[status] = append(f.marked[status], ids...)
	f.details[status] = errorDetail
	return nil
}

func (f *fakeRawRepo) Get(ctx context.Context, tenantID string, id int64) (*models.RawRecord, error) {
	return nil, errors.New("not implemented")
}

type fakeLeadRepo struct {
	rows []models.CleanLead
}

func (f *fakeLeadRepo) UpsertBatch(ctx context.Context, leads []models.CleanLead) error {
	f.rows = append(f.rows, leads...)
	return nil
}

func (f *fakeLeadRepo) ListByDay(ctx context.Context, tenantID string, day time.Time) ([]models.CleanLead, error) {
	return nil, errors.New("not implemented")
}

type fakeOrderRepo struct {
	rows []models.CleanOrder
}

func (f *fakeOrderRepo) UpsertBatch(ctx context.Context, orders []models.CleanOrder) error {
	f.rows = append(f.rows, orders...)
	return nil
}

func (f *fakeOrderRepo) ListByDay(ctx context.Context, tenantID string, day time.Time) ([]models.CleanOrder, error) {
	return nil, errors.New("not implemented")
}

type fakeFragmentRepo struct {
	rows []models.CustomerFragment
}

func (f *fakeFragmentRepo) UpsertBatch(ctx context.Context, fragments []models.CustomerFragment) error {
	f.rows = append(f.rows, fragments...)
	return nil
}

func (f *fakeFragmentRepo) ListByMaster(ctx context.Context, tenantID, masterCustomerID string) ([]models.CustomerFragment, error) {
	return nil, errors.New("not implemented")
}

type fakeCursorRepo struct {
	state map[string]int64
}

func (f *fakeCursorRepo) Get(ctx context.Context, jobName string) (*models.CursorState, error) {
	if v, ok := f.state[jobName]; ok {
		return &models.CursorState{JobName: jobName, LastRawID: v}, nil
	}
	return nil, nil
}

func (f *fakeCursorRepo) Upsert(ctx context.Context, jobName string, lastRawID int64) error {
	if f.state == nil {
		f.state = map[string]int64{}
	}
	f.state[jobName] = lastRawID
	return nil
}

type fakeMasterRepo struct {
	byCustomerID map[string]*models.MasterCustomer
	byEmail      map[string]*models.MasterCustomer
	upserts      int
	updates      []mastercustomer.ObservedUpdate
}

func newFakeMasterRepo() *fakeMasterRepo {
	return &fakeMasterRepo{
		byCustomerID: map[string]*models.MasterCustomer{},
		byEmail:      map[string]*models.MasterCustomer{},
	}
}

func (f *fakeMasterRepo) Get(ctx context.Context, tenantID, id string) (*models.MasterCustomer, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeMasterRepo) FindByCustomerID(ctx context.Context, tenantID, customerID string) (*models.MasterCustomer, error) {
	return f.byCustomerID[customerID], nil
}

func (f *fakeMasterRepo) FindByEmail(ctx context.Context, tenantID, email string) (*models.MasterCustomer, error) {
	return f.byEmail[email], nil
}

func (f *fakeMasterRepo) UpsertByEmail(ctx context.Context, tenantID string, mc models.MasterCustomer) (*models.MasterCustomerUpsertResult, error) {
	f.upserts++
	mc.ID = fmt.Sprintf("mc-%d", f.upserts)
	mc.TenantID = tenantID
	f.byEmail[*mc.Email] = &mc
	return &models.MasterCustomerUpsertResult{Customer: &mc, IsNew: true}, nil
}

func (f *fakeMasterRepo) UpdateObserved(ctx context.Context, tenantID, id string, update mastercustomer.ObservedUpdate) error {
	f.updates = append(f.updates, update)
	return nil
}

func (f *fakeMasterRepo) List(ctx context.Context, tenantID string, page, pageSize int) ([]models.MasterCustomer, int, error) {
	return nil, 0, errors.New("not implemented")
}

type transformerHarness struct {
	raws      *fakeRawRepo
	leads     *fakeLeadRepo
	orders    *fakeOrderRepo
	fragments *fakeFragmentRepo
	cursors   *fakeCursorRepo
	masters   *fakeMasterRepo
	tf        *Transformer
}

func newTestTransformer() *transformerHarness {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	h := &transformerHarness{
		raws:      &fakeRawRepo{},
		leads:     &fakeLeadRepo{},
		orders:    &fakeOrderRepo{},
		fragments: &fakeFragmentRepo{},
		cursors:   &fakeCursorRepo{},
		masters:   newFakeMasterRepo(),
	}
	h.tf = &Transformer{
		raws:      h.raws,
		leads:     h.leads,
		orders:    h.orders,
		fragments: h.fragments,
		cursors:   h.cursors,
		resolver:  identity.NewResolver(h.masters, logger),
		logger:    logger,
		batchSize: 100,
	}
	return h
}

func rawRecord(id int64, body string) models.RawRecord {
	return models.RawRecord{
		ID:          id,
		TenantID:    "t-1",
		Fingerprint: fmt.Sprintf("fp-%d", id),
		Payload:     json.RawMessage(body),
		ContentType: "json",
		IngestedAt:  time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		Status:      models.RawStatusOK,
	}
}

func TestTransformRecordOrder(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	rec := rawRecord(7, `{
		"number": 1001,
		"total": "49.99",
		"status": "completed",
		"currency": "USD",
		"date_paid": "2026-08-10T14:00:00Z",
		"utm_source": "google",
		"email": "buyer@example.com",
		"line_items": [{"name": "Monthly Coffee Subscription"}]
	}`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	require.Len(t, batch.orders, 1)
	order := batch.orders[0]
	assert.Equal(t, "t-1", order.TenantID)
	assert.Equal(t, int64(7), order.RawID)
	assert.Equal(t, 0, order.ItemIdx)
	assert.Equal(t, time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC), order.Day)
	assert.Equal(t, "Google", order.SourceLabel)
	require.NotNil(t, order.OrderID)
	assert.Equal(t, "1001", *order.OrderID)
	require.NotNil(t, order.OrderStatus)
	assert.Equal(t, "completed", *order.OrderStatus)
	assert.Equal(t, int64(4999), order.TotalCents)
	require.NotNil(t, order.Currency)
	assert.Equal(t, "USD", *order.Currency)
	assert.True(t, order.HasSubscription)
	require.NotNil(t, order.PaidAt)
	require.NotNil(t, order.Email)
	assert.Equal(t, "buyer@example.com", *order.Email)

	// buyer email creates a master identity
	require.NotNil(t, order.MasterCustomerID)
	assert.Equal(t, 1, h.masters.upserts)
	assert.Equal(t, 1, result.NewMasters)
	assert.Equal(t, 1, result.Orders)
	assert.Equal(t, 1, result.Processed)
}

func TestTransformRecordLead(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	rec := rawRecord(8, `{
		"form_id": "f-12",
		"campaign_id": "c-9",
		"lead_status": "New",
		"utm_source": "facebook",
		"cost": "3.25",
		"created_at": "2026-08-05T08:00:00Z",
		"email": "lead@example.com"
	}`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	require.Len(t, batch.leads, 1)
	lead := batch.leads[0]
	assert.Equal(t, time.Date(2026, 8, 5, 0, 0, 0, 0, time.UTC), lead.Day)
	assert.Equal(t, "Meta Ads", lead.SourceLabel)
	require.NotNil(t, lead.FormID)
	assert.Equal(t, "f-12", *lead.FormID)
	require.NotNil(t, lead.CampaignID)
	assert.Equal(t, "c-9", *lead.CampaignID)
	require.NotNil(t, lead.LeadStatus)
	assert.Equal(t, "new", *lead.LeadStatus)
	assert.Equal(t, int64(325), lead.CostCents)
	assert.False(t, lead.IsOrganic)
	assert.Equal(t, 1, result.Leads)
}

func TestTransformRecordCustomerFragment(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	rec := rawRecord(9, `{
		"email": "kim@example.com",
		"customer_id": "cust-7",
		"first_name": "Kim",
		"last_name": "Lee",
		"phone": "(512) 555-0100",
		"city": "Austin",
		"country": "US",
		"activity_status": "Active",
		"signup_date": "2026-08-01",
		"last_login": "2026-08-20T10:00:00Z",
		"value": "120.00",
		"created_via": "checkout"
	}`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	require.Len(t, batch.fragments, 1)
	frag := batch.fragments[0]
	// signup_date is the creation-style field, so it buckets the fragment
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), frag.Day)
	assert.Equal(t, "Checkout", frag.SourceLabel)
	require.NotNil(t, frag.CustomerID)
	assert.Equal(t, "cust-7", *frag.CustomerID)
	require.NotNil(t, frag.Phone)
	assert.Equal(t, "5125550100", *frag.Phone)
	require.NotNil(t, frag.ActivityStatus)
	assert.Equal(t, "active", *frag.ActivityStatus)
	require.NotNil(t, frag.SignupAt)
	require.NotNil(t, frag.LastSeenAt)
	assert.Equal(t, int64(12000), frag.TotalSpendCents)
	require.NotNil(t, frag.MasterCustomerID)
	assert.Equal(t, "mc-1", *frag.MasterCustomerID)
	assert.Equal(t, 1, result.Customers)
	assert.Equal(t, 1, result.NewMasters)
}

func TestTransformRecordCustomerIDLookup(t *testing.T) {
	h := newTestTransformer()
	existing := &models.MasterCustomer{ID: "mc-known", TenantID: "t-1"}
	h.masters.byCustomerID["cust-9"] = existing

	batch := &batchRows{}
	result := &models.TransformResult{}
	rec := rawRecord(10, `{"customer_id": "cust-9", "activity_status": "active"}`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	require.Len(t, batch.fragments, 1)
	require.NotNil(t, batch.fragments[0].MasterCustomerID)
	assert.Equal(t, "mc-known", *batch.fragments[0].MasterCustomerID)
	assert.Zero(t, h.masters.upserts)
	assert.Zero(t, result.NewMasters)
	// the sighting still refreshes the identity
	assert.Len(t, h.masters.updates, 1)
}

func TestTransformRecordUnknownKind(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	rec := rawRecord(11, `{"foo": "bar"}`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, []int64{11}, batch.skippedIDs)
	assert.Empty(t, batch.leads)
	assert.Empty(t, batch.orders)
	assert.Empty(t, batch.fragments)
}

func TestTransformRecordBadPayload(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	rec := rawRecord(12, `"plain text"`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	assert.Equal(t, 1, result.Errors)
	assert.Equal(t, []int64{12}, batch.errorIDs)
}

func TestTransformRecordWindowScoping(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	since := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	window := dayWindow{since: &since}

	rec := rawRecord(13, `{"total": "10.00", "status": "completed", "date_paid": "2026-08-10T14:00:00Z"}`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, window, batch, result))

	assert.Empty(t, batch.orders)
	// scoped out is not a skip: the record stays untouched for full runs
	assert.Empty(t, batch.skippedIDs)
	assert.Empty(t, batch.okIDs)
	assert.Equal(t, 1, result.Processed)
	assert.Zero(t, result.Orders)
}

func TestTransformRecordRescuesFailedRecord(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	rec := rawRecord(14, `{"total": "10.00", "status": "completed", "date_paid": "2026-08-10T14:00:00Z"}`)
	rec.Status = models.RawStatusError

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	require.Len(t, batch.orders, 1)
	assert.Equal(t, []int64{14}, batch.okIDs)
}

func TestTransformRecordMultiItemPayload(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{}
	result := &models.TransformResult{}

	rec := rawRecord(15, `[
		{"form_id": "f-1", "created_at": "2026-08-02T00:00:00Z"},
		{"total": "5.00", "status": "paid", "date_paid": "2026-08-02T01:00:00Z"}
	]`)

	require.NoError(t, h.tf.transformRecord(context.Background(), rec, dayWindow{}, batch, result))

	assert.Equal(t, 2, result.Processed)
	require.Len(t, batch.leads, 1)
	require.Len(t, batch.orders, 1)
	assert.Equal(t, 0, batch.leads[0].ItemIdx)
	assert.Equal(t, 1, batch.orders[0].ItemIdx)
}

func TestFlush(t *testing.T) {
	h := newTestTransformer()
	batch := &batchRows{
		leads:      []models.CleanLead{{TenantID: "t-1", RawID: 1}},
		orders:     []models.CleanOrder{{TenantID: "t-1", RawID: 2}},
		fragments:  []models.CustomerFragment{{TenantID: "t-1", RawID: 3}},
		errorIDs:   []int64{4},
		skippedIDs: []int64{5},
		okIDs:      []int64{6},
	}

	require.NoError(t, h.tf.flush(context.Background(), batch))

	assert.Len(t, h.leads.rows, 1)
	assert.Len(t, h.orders.rows, 1)
	assert.Len(t, h.fragments.rows, 1)

	assert.Equal(t, []int64{4}, h.raws.marked[models.RawStatusError])
	require.NotNil(t, h.raws.details[models.RawStatusError])
	assert.Equal(t, []int64{5}, h.raws.marked[models.RawStatusSkipped])
	assert.Equal(t, []int64{6}, h.raws.marked[models.RawStatusOK])
	assert.Nil(t, h.raws.details[models.RawStatusOK])
}

func TestAdvancesSharedCursor(t *testing.T) {
	day := "2026-08-01"

	tests := []struct {
		name     string
		scope    models.RunScope
		expected bool
	}{
		{name: "unscoped run advances", scope: models.RunScope{}, expected: true},
		{name: "forced run advances", scope: models.RunScope{Force: true}, expected: true},
		{name: "source scope does not restrict the listing", scope: models.RunScope{SourceIDs: []string{"s-1"}}, expected: true},
		{name: "tenant scope pins the cursor", scope: models.RunScope{TenantIDs: []string{"t-1"}}, expected: false},
		{name: "since bound pins the cursor", scope: models.RunScope{Since: &day}, expected: false},
		{name: "until bound pins the cursor", scope: models.RunScope{Until: &day}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, advancesSharedCursor(tt.scope))
		})
	}
}

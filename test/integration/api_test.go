package integration

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sagecontext "github.com/Ramsey-B/sage/pkg/context"
	"github.com/Ramsey-B/sage/pkg/middleware"
	"github.com/Ramsey-B/sage/pkg/models"
)

// TestAPIHelpers wires an echo instance with the service middleware chain so
// tests exercise the real context seeding and error mapping.
type TestAPIHelpers struct {
	t        *testing.T
	e        *echo.Echo
	tenantID string
}

func NewTestAPIHelpers(t *testing.T) *TestAPIHelpers {
	e := echo.New()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())

	return &TestAPIHelpers{
		t:        t,
		e:        e,
		tenantID: "test-tenant",
	}
}

func (h *TestAPIHelpers) MakeRequest(method, path string, body any) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(h.t, err)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderTenantID, h.tenantID)

	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func TestContextMiddleware(t *testing.T) {
	t.Run("SeedsTenantFromHeader", func(t *testing.T) {
		h := NewTestAPIHelpers(t)
		h.e.GET("/whoami", func(c echo.Context) error {
			ctx := c.Request().Context()
			return c.JSON(http.StatusOK, map[string]string{
				"tenant_id":  sagecontext.GetTenantID(ctx),
				"user_id":    sagecontext.GetUserID(ctx),
				"request_id": sagecontext.GetRequestID(ctx),
			})
		})

		rec := h.MakeRequest(http.MethodGet, "/whoami", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "test-tenant", body["tenant_id"])
		assert.NotEmpty(t, body["request_id"], "request id should be generated when the header is absent")
	})

	t.Run("KeepsCallerRequestID", func(t *testing.T) {
		h := NewTestAPIHelpers(t)
		h.e.GET("/whoami", func(c echo.Context) error {
			return c.String(http.StatusOK, sagecontext.GetRequestID(c.Request().Context()))
		})

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-123")
		rec := httptest.NewRecorder()
		h.e.ServeHTTP(rec, req)

		assert.Equal(t, "req-123", rec.Body.String())
	})

	t.Run("MissingTenantHeaderIsEmpty", func(t *testing.T) {
		h := NewTestAPIHelpers(t)
		h.e.GET("/whoami", func(c echo.Context) error {
			return c.String(http.StatusOK, sagecontext.GetTenantID(c.Request().Context()))
		})

		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		rec := httptest.NewRecorder()
		h.e.ServeHTTP(rec, req)

		// handlers decide whether a missing tenant is an error
		assert.Empty(t, rec.Body.String())
	})
}

func TestErrorMiddleware(t *testing.T) {
	t.Run("MapsHTTPErrors", func(t *testing.T) {
		h := NewTestAPIHelpers(t)
		h.e.GET("/missing", func(c echo.Context) error {
			return httperror.NewHTTPError(http.StatusNotFound, "source not found")
		})

		rec := h.MakeRequest(http.MethodGet, "/missing", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body middleware.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "source not found", body.Message)
		assert.NotEmpty(t, body.RequestID)
	})

	t.Run("MapsEchoErrors", func(t *testing.T) {
		h := NewTestAPIHelpers(t)

		rec := h.MakeRequest(http.MethodGet, "/no-such-route", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body middleware.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.NotEmpty(t, body.Message)
	})

	t.Run("UnknownErrorsBecome500", func(t *testing.T) {
		h := NewTestAPIHelpers(t)
		h.e.GET("/boom", func(c echo.Context) error {
			return assert.AnError
		})

		rec := h.MakeRequest(http.MethodGet, "/boom", nil)
		require.Equal(t, http.StatusInternalServerError, rec.Code)

		var body middleware.ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Internal Server Error", body.Message, "internal detail should not leak")
	})
}

func TestCreateSourceRequest_Validation(t *testing.T) {
	validate := validator.New()

	tests := []struct {
		name    string
		req     models.CreateSourceRequest
		wantErr bool
	}{
		{
			name: "valid api source",
			req: models.CreateSourceRequest{
				Name:    "Shop API",
				Kind:    models.SourceKindAPI,
				BaseURL: "https://api.example.com/orders",
			},
		},
		{
			name: "valid manual source without url",
			req: models.CreateSourceRequest{
				Name: "CSV Upload",
				Kind: models.SourceKindManual,
			},
		},
		{
			name:    "missing name",
			req:     models.CreateSourceRequest{Kind: models.SourceKindAPI, BaseURL: "https://x.example.com"},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			req:     models.CreateSourceRequest{Name: "Bad", Kind: models.SourceKind("webhook")},
			wantErr: true,
		},
		{
			name:    "malformed base url",
			req:     models.CreateSourceRequest{Name: "Bad URL", Kind: models.SourceKindAPI, BaseURL: "not a url"},
			wantErr: true,
		},
		{
			name: "zero sync interval",
			req: models.CreateSourceRequest{
				Name:                "Too Eager",
				Kind:                models.SourceKindAPI,
				BaseURL:             "https://api.example.com",
				SyncIntervalMinutes: intPtr(0),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTriggerRunRequest_Validation(t *testing.T) {
	validate := validator.New()

	tests := []struct {
		name    string
		req     models.TriggerRunRequest
		wantErr bool
	}{
		{
			name: "empty scope",
			req:  models.TriggerRunRequest{},
		},
		{
			name: "full scope",
			req: models.TriggerRunRequest{
				TenantIDs: []string{"t-1"},
				SourceIDs: []string{"1b4e28ba-2fa1-11d2-883f-0016d3cca427"},
				Since:     strPtr("2026-08-01"),
				Until:     strPtr("2026-08-25"),
				Force:     true,
			},
		},
		{
			name:    "bad day format",
			req:     models.TriggerRunRequest{Since: strPtr("08/01/2026")},
			wantErr: true,
		},
		{
			name:    "non uuid source id",
			req:     models.TriggerRunRequest{SourceIDs: []string{"source-1"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate.Struct(tt.req)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSourceJSON_NeverLeaksAuthToken(t *testing.T) {
	src := models.Source{
		ID:        "s-1",
		TenantID:  "t-1",
		Name:      "Shop API",
		Kind:      models.SourceKindAPI,
		BaseURL:   "https://api.example.com",
		AuthToken: "tok-secret",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(src)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	_, hasToken := parsed["auth_token"]
	assert.False(t, hasToken, "auth_token must never serialize")
	assert.NotContains(t, string(data), "tok-secret")
}

func TestRunStatus_Terminal(t *testing.T) {
	terminal := []models.RunStatus{models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusSkipped}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}

	open := []models.RunStatus{models.RunStatusPending, models.RunStatusRunning}
	for _, s := range open {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestPipelineResult_JSON(t *testing.T) {
	result := models.PipelineResult{
		Extract: &models.ExtractResult{Sources: 2, Pages: 5, Inserted: 40, Duplicates: 3},
		Transform: &models.TransformResult{
			Processed: 40, Leads: 10, Orders: 20, Customers: 8, Skipped: 2,
			LastRawID: 903, Batches: 1, NewMasters: 6,
		},
		Aggregate: &models.AggregateResult{Since: "2026-07-27", Until: "2026-08-25", Buckets: 12},
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)

	var parsed models.PipelineResult
	require.NoError(t, json.Unmarshal(data, &parsed))

	require.NotNil(t, parsed.Extract)
	require.NotNil(t, parsed.Transform)
	require.NotNil(t, parsed.Aggregate)
	assert.Equal(t, 40, parsed.Extract.Inserted)
	assert.Equal(t, int64(903), parsed.Transform.LastRawID)
	assert.Equal(t, 12, parsed.Aggregate.Buckets)

	// a stage that never ran stays absent, not zeroed
	partial, err := json.Marshal(models.PipelineResult{Extract: &models.ExtractResult{}})
	require.NoError(t, err)
	assert.NotContains(t, string(partial), "transform")
	assert.NotContains(t, string(partial), "aggregate")
}

func TestListResponses_Envelope(t *testing.T) {
	resp := models.SourceListResponse{
		Items:      []models.Source{{ID: "s-1", Name: "Shop API"}},
		TotalCount: 1,
		Page:       1,
		PageSize:   50,
	}

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(data, &parsed))

	assert.Contains(t, parsed, "items")
	assert.Contains(t, parsed, "total_count")
	assert.Contains(t, parsed, "page")
	assert.Contains(t, parsed, "page_size")
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

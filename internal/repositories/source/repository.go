package source

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// SourceRepository defines the interface for source configuration operations
type SourceRepository interface {
	Create(ctx context.Context, tenantID string, req models.CreateSourceRequest) (*models.Source, error)
	Get(ctx context.Context, tenantID, id string) (*models.Source, error)
	List(ctx context.Context, tenantID string, page, pageSize int) (*models.SourceListResponse, error)
	Update(ctx context.Context, tenantID, id string, req models.UpdateSourceRequest) (*models.Source, error)
	SoftDelete(ctx context.Context, tenantID, id string) error
	ListForExtraction(ctx context.Context, tenantIDs, sourceIDs []string) ([]models.Source, error)
	ListDue(ctx context.Context, now time.Time) ([]models.Source, error)
	TouchRefreshed(ctx context.Context, id string, at time.Time) error
}

// Repository handles source persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new source repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "sources"

var columns = []string{
	"id", "tenant_id", "name", "kind", "base_url", "auth_token", "config",
	"records_path", "next_path", "sync_interval_minutes", "rate_limit_per_minute",
	"last_refreshed_at", "created_at", "updated_at", "deleted_at",
}

// Create registers a new source for the tenant. Source names are unique per
// tenant among non-deleted rows.
func (r *Repository) Create(ctx context.Context, tenantID string, req models.CreateSourceRequest) (*models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()

	config := req.Config
	if len(config) == 0 {
		config = []byte("{}")
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("id", "tenant_id", "name", "kind", "base_url", "auth_token", "config",
		"records_path", "next_path", "sync_interval_minutes", "rate_limit_per_minute",
		"created_at", "updated_at")
	ib.Values(id, tenantID, req.Name, req.Kind, req.BaseURL, req.AuthToken, config,
		req.RecordsPath, req.NextPath, req.SyncIntervalMinutes, req.RateLimitPerMinute,
		now, now)

	query, args := ib.Build()

	_, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			r.logger.WithContext(ctx).WithFields(map[string]any{"tenant_id": tenantID, "name": req.Name}).Warn("Source name already exists")
			return nil, httperror.NewHTTPErrorf(http.StatusConflict, "source %q already exists", req.Name)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "name": req.Name}).Error("Failed to create source")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create source")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":        id,
		"tenant_id": tenantID,
		"name":      req.Name,
		"kind":      req.Kind,
	}).Info("Created source")

	return r.Get(ctx, tenantID, id)
}

// Get retrieves a source by ID
func (r *Repository) Get(ctx context.Context, tenantID, id string) (*models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("id", id),
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()

	var src models.Source
	if err := r.db.GetContext(ctx, &src, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "source not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "id": id}).Error("Failed to get source")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get source")
	}

	return &src, nil
}

// List returns a page of the tenant's sources ordered by name.
func (r *Repository) List(ctx context.Context, tenantID string, page, pageSize int) (*models.SourceListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.List")
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
	countSb.Where(
		countSb.Equal("tenant_id", tenantID),
		countSb.IsNull("deleted_at"),
	)

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID}).Error("Failed to count sources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count sources")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("tenant_id", tenantID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("name ASC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()

	var items []models.Source
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "page": page, "page_size": pageSize}).Error("Failed to list sources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sources")
	}

	return &models.SourceListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// Update applies a partial update; nil fields are left untouched.
func (r *Repository) Update(ctx context.Context, tenantID, id string, req models.UpdateSourceRequest) (*models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.Update")
	defer span.End()

	// 404 before building the update
	if _, err := r.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	assignments := []string{ub.Assign("updated_at", time.Now().UTC())}

	if req.Name != nil {
		assignments = append(assignments, ub.Assign("name", *req.Name))
	}
	if req.Kind != nil {
		assignments = append(assignments, ub.Assign("kind", *req.Kind))
	}
	if req.BaseURL != nil {
		assignments = append(assignments, ub.Assign("base_url", *req.BaseURL))
	}
	if req.AuthToken != nil {
		assignments = append(assignments, ub.Assign("auth_token", *req.AuthToken))
	}
	if req.Config != nil {
		assignments = append(assignments, ub.Assign("config", req.Config))
	}
	if req.RecordsPath != nil {
		assignments = append(assignments, ub.Assign("records_path", *req.RecordsPath))
	}
	if req.NextPath != nil {
		assignments = append(assignments, ub.Assign("next_path", *req.NextPath))
	}
	if req.SyncIntervalMinutes != nil {
		assignments = append(assignments, ub.Assign("sync_interval_minutes", *req.SyncIntervalMinutes))
	}
	if req.RateLimitPerMinute != nil {
		assignments = append(assignments, ub.Assign("rate_limit_per_minute", *req.RateLimitPerMinute))
	}
	ub.Set(assignments...)

	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, httperror.NewHTTPError(http.StatusConflict, "source name already exists")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "id": id}).Error("Failed to update source")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update source")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Info("Updated source")

	return r.Get(ctx, tenantID, id)
}

// SoftDelete marks a source as deleted. Raw records extracted from it are kept.
func (r *Repository) SoftDelete(ctx context.Context, tenantID, id string) error {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.SoftDelete")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(ub.Assign("deleted_at", time.Now().UTC()))
	ub.Where(
		ub.Equal("id", id),
		ub.Equal("tenant_id", tenantID),
		ub.IsNull("deleted_at"),
	)

	query, args := ub.Build()

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_id": tenantID, "id": id}).Error("Failed to delete source")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete source")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "source not found")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": id, "tenant_id": tenantID}).Info("Deleted source")
	return nil
}

// ListForExtraction returns the non-deleted api sources an extract run should
// walk. Empty tenantIDs/sourceIDs mean no filter on that dimension.
func (r *Repository) ListForExtraction(ctx context.Context, tenantIDs, sourceIDs []string) ([]models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.ListForExtraction")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	where := []string{
		sb.Equal("kind", models.SourceKindAPI),
		sb.IsNull("deleted_at"),
	}
	if len(tenantIDs) > 0 {
		where = append(where, sb.In("tenant_id", sqlbuilder.Flatten(tenantIDs)...))
	}
	if len(sourceIDs) > 0 {
		where = append(where, sb.In("id", sqlbuilder.Flatten(sourceIDs)...))
	}
	sb.Where(where...)
	sb.OrderBy("tenant_id", "name")

	query, args := sb.Build()

	var sources []models.Source
	if err := r.db.SelectContext(ctx, &sources, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"tenant_ids": tenantIDs, "source_ids": sourceIDs}).Error("Failed to list sources for extraction")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sources")
	}
	return sources, nil
}

// ListDue returns the api sources whose sync interval has elapsed since their
// last refresh. Sources without an interval never come due; the scheduler
// leaves them to manual triggers.
func (r *Repository) ListDue(ctx context.Context, now time.Time) ([]models.Source, error) {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.ListDue")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(
		sb.Equal("kind", models.SourceKindAPI),
		sb.IsNull("deleted_at"),
		sb.IsNotNull("sync_interval_minutes"),
		sb.Or(
			sb.IsNull("last_refreshed_at"),
			sb.LessEqualThan("last_refreshed_at + make_interval(mins => sync_interval_minutes)", now),
		),
	)
	sb.OrderBy("last_refreshed_at ASC NULLS FIRST")

	query, args := sb.Build()

	var sources []models.Source
	if err := r.db.SelectContext(ctx, &sources, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list due sources")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list due sources")
	}
	return sources, nil
}

// TouchRefreshed records a successful extraction without bumping updated_at,
// so config edits stay distinguishable from refreshes.
func (r *Repository) TouchRefreshed(ctx context.Context, id string, at time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "source.Repository.TouchRefreshed")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(ub.Assign("last_refreshed_at", at))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to touch source refresh time")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update source refresh time")
	}
	return nil
}

package pipelinerun

import (
	"context"
	"encoding/json"
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

// PipelineRunRepository defines the interface for run tracking operations
type PipelineRunRepository interface {
	Create(ctx context.Context, tenantID *string, job models.RunJob, scope models.RunScope) (*models.PipelineRun, error)
	Get(ctx context.Context, id string) (*models.PipelineRun, error)
	List(ctx context.Context, tenantID *string, job *models.RunJob, status *models.RunStatus, page, pageSize int) (*models.RunListResponse, error)
	MarkRunning(ctx context.Context, id string) error
	UpdateProgress(ctx context.Context, id string, progress any) error
	Complete(ctx context.Context, id string, result any) error
	Skip(ctx context.Context, id string, reason string) error
	Fail(ctx context.Context, id string, errMsg string) error
}

// Repository handles pipeline run persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new pipeline run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "pipeline_runs"

var columns = []string{
	"id", "tenant_id", "job", "status", "scope", "progress", "result", "error",
	"attempts", "created_at", "started_at", "finished_at",
}

// Create records a pending run. The queue worker claims it, drives it, and
// writes the terminal state; callers poll Get.
func (r *Repository) Create(ctx context.Context, tenantID *string, job models.RunJob, scope models.RunScope) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.Create")
	defer span.End()

	now := time.Now().UTC()
	id := uuid.New().String()

	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "invalid run scope")
	}

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("id", "tenant_id", "job", "status", "scope", "attempts", "created_at")
	ib.Values(id, tenantID, job, models.RunStatusPending, scopeJSON, 0, now)

	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job": job}).Error("Failed to create pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create run")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": id,
		"job":    job,
	}).Info("Created pipeline run")

	return r.Get(ctx, id)
}

// Get retrieves a run by ID
func (r *Repository) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()

	var run models.PipelineRun
	if err := r.db.GetContext(ctx, &run, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "run not found")
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": id}).Error("Failed to get pipeline run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get run")
	}

	return &run, nil
}

// List returns runs newest first, optionally filtered by tenant, job, and
// status.
func (r *Repository) List(ctx context.Context, tenantID *string, job *models.RunJob, status *models.RunStatus, page, pageSize int) (*models.RunListResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.List")
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
	countWhere := []string{}
	if tenantID != nil {
		countWhere = append(countWhere, countSb.Equal("tenant_id", *tenantID))
	}
	if job != nil {
		countWhere = append(countWhere, countSb.Equal("job", *job))
	}
	if status != nil {
		countWhere = append(countWhere, countSb.Equal("status", *status))
	}
	if len(countWhere) > 0 {
		countSb.Where(countWhere...)
	}

	countQuery, countArgs := countSb.Build()
	var totalCount int
	if err := r.db.GetContext(ctx, &totalCount, countQuery, countArgs...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to count pipeline runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count runs")
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(columns...)
	sb.From(tableName)
	where := []string{}
	if tenantID != nil {
		where = append(where, sb.Equal("tenant_id", *tenantID))
	}
	if job != nil {
		where = append(where, sb.Equal("job", *job))
	}
	if status != nil {
		where = append(where, sb.Equal("status", *status))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at DESC")
	sb.Limit(pageSize).Offset(offset)

	query, args := sb.Build()

	var items []models.PipelineRun
	if err := r.db.SelectContext(ctx, &items, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list pipeline runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}

	return &models.RunListResponse{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// MarkRunning claims a run for execution and bumps its attempt counter.
// Terminal runs are never reclaimed.
func (r *Repository) MarkRunning(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.MarkRunning")
	defer span.End()

	query := `
		UPDATE pipeline_runs
		SET status = $1, started_at = COALESCE(started_at, $2), attempts = attempts + 1
		WHERE id = $3 AND status IN ($4, $5)
	`

	result, err := r.db.ExecContext(ctx, query,
		models.RunStatusRunning, time.Now().UTC(), id,
		models.RunStatusPending, models.RunStatusRunning,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": id}).Error("Failed to mark run running")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to claim run")
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusConflict, "run is already finished")
	}
	return nil
}

// UpdateProgress replaces the run's progress payload.
func (r *Repository) UpdateProgress(ctx context.Context, id string, progress any) error {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.UpdateProgress")
	defer span.End()

	progressJSON, err := json.Marshal(progress)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode run progress")
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	ub.Set(ub.Assign("progress", progressJSON))
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": id}).Error("Failed to update run progress")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update run progress")
	}
	return nil
}

// Complete finishes a run successfully with its result payload.
func (r *Repository) Complete(ctx context.Context, id string, result any) error {
	return r.finish(ctx, id, models.RunStatusSucceeded, result, nil)
}

// Skip finishes a run that gave way on a busy lock. Nothing was mutated.
func (r *Repository) Skip(ctx context.Context, id string, reason string) error {
	return r.finish(ctx, id, models.RunStatusSkipped, models.SkippedResult{Reason: reason}, nil)
}

// Fail finishes a run with an error message.
func (r *Repository) Fail(ctx context.Context, id string, errMsg string) error {
	return r.finish(ctx, id, models.RunStatusFailed, nil, &errMsg)
}

func (r *Repository) finish(ctx context.Context, id string, status models.RunStatus, result any, errMsg *string) error {
	ctx, span := tracing.StartSpan(ctx, "pipelinerun.Repository.finish")
	defer span.End()

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(tableName)
	assignments := []string{
		ub.Assign("status", status),
		ub.Assign("finished_at", time.Now().UTC()),
	}
	if result != nil {
		resultJSON, err := json.Marshal(result)
		if err != nil {
			return httperror.NewHTTPError(http.StatusInternalServerError, "failed to encode run result")
		}
		assignments = append(assignments, ub.Assign("result", resultJSON))
	}
	if errMsg != nil {
		assignments = append(assignments, ub.Assign("error", *errMsg))
	}
	ub.Set(assignments...)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()

	result2, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"run_id": id, "status": status}).Error("Failed to finish pipeline run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish run")
	}

	rowsAffected, _ := result2.RowsAffected()
	if rowsAffected == 0 {
		return httperror.NewHTTPError(http.StatusNotFound, "run not found")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": id,
		"status": status,
	}).Info("Finished pipeline run")

	return nil
}

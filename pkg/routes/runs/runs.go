package runs

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sage/config"
	"github.com/Ramsey-B/sage/internal/repositories/pipelinerun"
	"github.com/Ramsey-B/sage/pkg/context"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/queue"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

var validate = validator.New()

// Register registers pipeline run routes
func Register(g *echo.Group) {
	g.GET("", ListRuns)
	g.GET("/:id", GetRun)
	g.POST("/:job", TriggerRun)
}

// TriggerRun creates a pending run for the named stage and queues it. The
// caller polls GET /runs/:id for progress and the terminal result.
func TriggerRun(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.TriggerRun")
	defer span.End()

	tenantID := context.GetTenantID(ctx)

	job := models.RunJob(c.Param("job"))
	switch job {
	case models.RunJobExtract, models.RunJobTransform, models.RunJobAggregate, models.RunJobPipeline:
	default:
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown job %q", c.Param("job"))
	}

	var req models.TriggerRunRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	scope := models.RunScope{
		TenantIDs: req.TenantIDs,
		SourceIDs: req.SourceIDs,
		Since:     req.Since,
		Until:     req.Until,
		Force:     req.Force,
	}

	// A tenant caller only ever runs the pipeline over their own data.
	// Cross-tenant scopes are reserved for internal callers with no tenant
	// in context.
	var owner *string
	if tenantID != "" {
		scope.TenantIDs = []string{tenantID}
		owner = &tenantID
	}

	ctx, repo, err := ectoinject.GetContext[*pipelinerun.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	run, err := repo.Create(ctx, owner, job, scope)
	if err != nil {
		return err
	}

	ctx, streams, err := ectoinject.GetContext[*redis.Streams](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}
	ctx, cfg, err := ectoinject.GetContext[*config.Config](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if _, err := queue.PublishPipelineRun(ctx, streams, cfg.QueueStream, run.ID); err != nil {
		// Fail the row so the caller is not left polling a run no worker
		// will ever pick up.
		if failErr := repo.Fail(ctx, run.ID, "failed to enqueue run"); failErr != nil {
			ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
			if logger != nil {
				logger.WithContext(ctx).WithError(failErr).WithFields(map[string]any{"run_id": run.ID}).Error("Failed to mark unqueued run as failed")
			}
		}
		return httperror.NewHTTPError(http.StatusServiceUnavailable, "failed to enqueue run")
	}

	return c.JSON(http.StatusAccepted, models.TriggerRunResponse{RunID: run.ID})
}

// GetRun returns a run's status, progress, and result
func GetRun(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.GetRun")
	defer span.End()

	tenantID := context.GetTenantID(ctx)

	id := c.Param("id")

	ctx, repo, err := ectoinject.GetContext[*pipelinerun.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	run, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	// Tenant callers cannot see other tenants' runs
	if tenantID != "" && run.TenantID != nil && *run.TenantID != tenantID {
		return httperror.NewHTTPError(http.StatusNotFound, "run not found")
	}

	return c.JSON(http.StatusOK, run)
}

// ListRuns lists runs newest first with optional job and status filters
func ListRuns(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "runs_handler.ListRuns")
	defer span.End()

	tenantID := context.GetTenantID(ctx)

	var owner *string
	if tenantID != "" {
		owner = &tenantID
	}

	var job *models.RunJob
	if jobParam := c.QueryParam("job"); jobParam != "" {
		j := models.RunJob(jobParam)
		switch j {
		case models.RunJobExtract, models.RunJobTransform, models.RunJobAggregate, models.RunJobPipeline:
			job = &j
		default:
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown job %q", jobParam)
		}
	}

	var status *models.RunStatus
	if statusParam := c.QueryParam("status"); statusParam != "" {
		s := models.RunStatus(statusParam)
		switch s {
		case models.RunStatusPending, models.RunStatusRunning, models.RunStatusSucceeded,
			models.RunStatusFailed, models.RunStatusSkipped:
			status = &s
		default:
			return httperror.NewHTTPErrorf(http.StatusBadRequest, "unknown status %q", statusParam)
		}
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*pipelinerun.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	result, err := repo.List(ctx, owner, job, status, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

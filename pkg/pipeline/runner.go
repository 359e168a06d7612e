// Package pipeline drives tracked runs through the extract, transform, and
// aggregate stages.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/pipelinerun"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// skipReason is recorded on runs that gave way on a busy stage lock.
const skipReason = "lock_busy"

// ExtractStage pulls api sources into the raw store
type ExtractStage interface {
	Run(ctx context.Context, scope models.RunScope, onProgress func(models.ExtractProgress)) (*models.ExtractResult, error)
}

// TransformStage normalizes raw records into clean staging
type TransformStage interface {
	Run(ctx context.Context, scope models.RunScope, onProgress func(models.TransformProgress)) (*models.TransformResult, error)
}

// AggregateStage recomputes daily metric buckets from clean staging
type AggregateStage interface {
	Run(ctx context.Context, scope models.RunScope) (*models.AggregateResult, error)
}

// EventEmitter publishes run lifecycle events
type EventEmitter interface {
	RunCompleted(ctx context.Context, run *models.PipelineRun) error
	MetricsUpdated(ctx context.Context, tenantIDs []string, result *models.AggregateResult) error
}

// Runner executes one tracked run end to end: claims the row, drives the
// stage (or the composed chain), and records progress, result, and terminal
// state. Stage failures land on the run row; only bookkeeping failures are
// returned to the caller.
type Runner struct {
	runs        pipelinerun.PipelineRunRepository
	extractor   ExtractStage
	transformer TransformStage
	aggregator  AggregateStage
	emitter     EventEmitter
	logger      ectologger.Logger
}

// NewRunner creates a new pipeline runner
func NewRunner(
	runs pipelinerun.PipelineRunRepository,
	extractor ExtractStage,
	transformer TransformStage,
	aggregator AggregateStage,
	emitter EventEmitter,
	logger ectologger.Logger,
) *Runner {
	return &Runner{
		runs:        runs,
		extractor:   extractor,
		transformer: transformer,
		aggregator:  aggregator,
		emitter:     emitter,
		logger:      logger,
	}
}

// Execute drives the run with the given id to a terminal state.
func (r *Runner) Execute(ctx context.Context, runID string) error {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Runner.Execute")
	defer span.End()

	run, err := r.runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		r.logger.WithContext(ctx).WithFields(map[string]any{
			"run_id": runID,
			"status": run.Status,
		}).Debug("Run already finished")
		return nil
	}

	var scope models.RunScope
	if len(run.Scope) > 0 {
		if err := json.Unmarshal(run.Scope, &scope); err != nil {
			return r.runs.Fail(ctx, run.ID, fmt.Sprintf("invalid scope: %s", err))
		}
	}

	if err := r.runs.MarkRunning(ctx, run.ID); err != nil {
		return err
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id": run.ID,
		"job":    run.Job,
	}).Info("Executing pipeline run")

	start := time.Now()
	result, execErr := r.execute(ctx, run, scope)

	var status models.RunStatus
	switch {
	case errors.Is(execErr, redis.ErrLockNotAcquired):
		status = models.RunStatusSkipped
		if err := r.runs.Skip(ctx, run.ID, skipReason); err != nil {
			return err
		}
	case execErr != nil:
		status = models.RunStatusFailed
		r.logger.WithContext(ctx).WithError(execErr).WithFields(map[string]any{
			"run_id": run.ID,
			"job":    run.Job,
		}).Error("Pipeline run failed")
		if err := r.runs.Fail(ctx, run.ID, execErr.Error()); err != nil {
			return err
		}
	default:
		status = models.RunStatusSucceeded
		if err := r.runs.Complete(ctx, run.ID, result); err != nil {
			return err
		}
	}

	metrics.RecordRun(string(run.Job), string(status), time.Since(start).Seconds())
	r.emitCompleted(ctx, run.ID)

	return nil
}

// execute dispatches to the stage the run asks for.
func (r *Runner) execute(ctx context.Context, run *models.PipelineRun, scope models.RunScope) (any, error) {
	switch run.Job {
	case models.RunJobExtract:
		return r.extractor.Run(ctx, scope, r.extractProgress(ctx, run.ID))
	case models.RunJobTransform:
		return r.transformer.Run(ctx, scope, r.transformProgress(ctx, run.ID))
	case models.RunJobAggregate:
		result, err := r.aggregator.Run(ctx, scope)
		if err != nil {
			return nil, err
		}
		r.emitMetricsUpdated(ctx, scope.TenantIDs, result)
		return result, nil
	case models.RunJobPipeline:
		return r.chain(ctx, run.ID, scope)
	default:
		return nil, fmt.Errorf("unknown job %q", run.Job)
	}
}

// chain runs extract, then transform, then aggregate as one composed run. A
// later stage only starts once the prior one succeeded. A stage skipping on
// a busy lock skips the rest of the chain too: whoever holds the lock is
// already doing that work, and stage results so far stay visible in the
// run's progress payload.
func (r *Runner) chain(ctx context.Context, runID string, scope models.RunScope) (*models.PipelineResult, error) {
	result := &models.PipelineResult{}

	extractResult, err := r.extractor.Run(ctx, scope, r.extractProgress(ctx, runID))
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	result.Extract = extractResult
	r.recordProgress(ctx, runID, result)

	transformResult, err := r.transformer.Run(ctx, scope, nil)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}
	result.Transform = transformResult
	r.recordProgress(ctx, runID, result)

	aggregateResult, err := r.aggregator.Run(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	result.Aggregate = aggregateResult
	r.emitMetricsUpdated(ctx, scope.TenantIDs, aggregateResult)

	return result, nil
}

func (r *Runner) extractProgress(ctx context.Context, runID string) func(models.ExtractProgress) {
	return func(p models.ExtractProgress) {
		r.recordProgress(ctx, runID, p)
	}
}

func (r *Runner) transformProgress(ctx context.Context, runID string) func(models.TransformProgress) {
	return func(p models.TransformProgress) {
		r.recordProgress(ctx, runID, p)
	}
}

func (r *Runner) recordProgress(ctx context.Context, runID string, progress any) {
	if err := r.runs.UpdateProgress(ctx, runID, progress); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
		}).Warn("Failed to record run progress")
	}
}

func (r *Runner) emitCompleted(ctx context.Context, runID string) {
	run, err := r.runs.Get(ctx, runID)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to load run for event emission")
		return
	}
	if err := r.emitter.RunCompleted(ctx, run); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": runID,
		}).Warn("Failed to emit run completed event")
	}
}

func (r *Runner) emitMetricsUpdated(ctx context.Context, tenantIDs []string, result *models.AggregateResult) {
	if err := r.emitter.MetricsUpdated(ctx, tenantIDs, result); err != nil {
		r.logger.WithContext(ctx).WithError(err).Warn("Failed to emit metrics updated event")
	}
}

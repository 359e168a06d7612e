package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/redis"
)

type fakeRunRepo struct {
	run       *models.PipelineRun
	running   bool
	progress  []any
	completed any
	skipped   string
	failed    string
}

func (f *fakeRunRepo) Create(ctx context.Context, tenantID *string, job models.RunJob, scope models.RunScope) (*models.PipelineRun, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunRepo) Get(ctx context.Context, id string) (*models.PipelineRun, error) {
	if f.run == nil || f.run.ID != id {
		return nil, errors.New("run not found")
	}
	return f.run, nil
}

func (f *fakeRunRepo) List(ctx context.Context, tenantID *string, job *models.RunJob, status *models.RunStatus, page, pageSize int) (*models.RunListResponse, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRunRepo) MarkRunning(ctx context.Context, id string) error {
	f.running = true
	f.run.Status = models.RunStatusRunning
	return nil
}

func (f *fakeRunRepo) UpdateProgress(ctx context.Context, id string, progress any) error {
	f.progress = append(f.progress, progress)
	return nil
}

func (f *fakeRunRepo) Complete(ctx context.Context, id string, result any) error {
	f.completed = result
	f.run.Status = models.RunStatusSucceeded
	return nil
}

func (f *fakeRunRepo) Skip(ctx context.Context, id string, reason string) error {
	f.skipped = reason
	f.run.Status = models.RunStatusSkipped
	return nil
}

func (f *fakeRunRepo) Fail(ctx context.Context, id string, errMsg string) error {
	f.failed = errMsg
	f.run.Status = models.RunStatusFailed
	return nil
}

// stageLog records the order stages were invoked in.
type stageLog struct {
	calls []string
}

type fakeExtract struct {
	log    *stageLog
	result *models.ExtractResult
	err    error
	scope  models.RunScope
}

func (f *fakeExtract) Run(ctx context.Context, scope models.RunScope, onProgress func(models.ExtractProgress)) (*models.ExtractResult, error) {
	f.log.calls = append(f.log.calls, "extract")
	f.scope = scope
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		onProgress(models.ExtractProgress{Processed: 1, Total: 1, Percent: 100})
	}
	return f.result, nil
}

type fakeTransform struct {
	log    *stageLog
	result *models.TransformResult
	err    error
}

func (f *fakeTransform) Run(ctx context.Context, scope models.RunScope, onProgress func(models.TransformProgress)) (*models.TransformResult, error) {
	f.log.calls = append(f.log.calls, "transform")
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAggregate struct {
	log    *stageLog
	result *models.AggregateResult
	err    error
}

func (f *fakeAggregate) Run(ctx context.Context, scope models.RunScope) (*models.AggregateResult, error) {
	f.log.calls = append(f.log.calls, "aggregate")
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeEmitter struct {
	completed []models.RunStatus
	metrics   int
}

func (f *fakeEmitter) RunCompleted(ctx context.Context, run *models.PipelineRun) error {
	f.completed = append(f.completed, run.Status)
	return nil
}

func (f *fakeEmitter) MetricsUpdated(ctx context.Context, tenantIDs []string, result *models.AggregateResult) error {
	f.metrics++
	return nil
}

type runnerHarness struct {
	runs   *fakeRunRepo
	log    *stageLog
	ex     *fakeExtract
	tr     *fakeTransform
	ag     *fakeAggregate
	em     *fakeEmitter
	runner *Runner
}

func newHarness(run *models.PipelineRun) *runnerHarness {
	log := &stageLog{}
	h := &runnerHarness{
		runs: &fakeRunRepo{run: run},
		log:  log,
		ex:   &fakeExtract{log: log, result: &models.ExtractResult{Sources: 1, Pages: 2, Inserted: 5}},
		tr:   &fakeTransform{log: log, result: &models.TransformResult{Processed: 5, Leads: 2, Orders: 3}},
		ag:   &fakeAggregate{log: log, result: &models.AggregateResult{Since: "2026-08-01", Until: "2026-08-25", Buckets: 3}},
		em:   &fakeEmitter{},
	}
	h.runner = NewRunner(h.runs, h.ex, h.tr, h.ag, h.em, ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {}))
	return h
}

func pendingRun(job models.RunJob, scope models.RunScope) *models.PipelineRun {
	body, _ := json.Marshal(scope)
	return &models.PipelineRun{
		ID:     "run-1",
		Job:    job,
		Status: models.RunStatusPending,
		Scope:  body,
	}
}

func TestExecuteTransformSucceeds(t *testing.T) {
	run := pendingRun(models.RunJobTransform, models.RunScope{})
	h := newHarness(run)

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, []string{"transform"}, h.log.calls)
	assert.True(t, h.runs.running)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	require.IsType(t, &models.TransformResult{}, h.runs.completed)
	assert.Equal(t, []models.RunStatus{models.RunStatusSucceeded}, h.em.completed)
}

func TestExecuteScopeReachesStage(t *testing.T) {
	scope := models.RunScope{TenantIDs: []string{"t-1"}, SourceIDs: []string{"s-1"}, Force: true}
	run := pendingRun(models.RunJobExtract, scope)
	h := newHarness(run)

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, scope.TenantIDs, h.ex.scope.TenantIDs)
	assert.Equal(t, scope.SourceIDs, h.ex.scope.SourceIDs)
	assert.True(t, h.ex.scope.Force)
}

func TestExecuteAggregateEmitsMetricsEvent(t *testing.T) {
	run := pendingRun(models.RunJobAggregate, models.RunScope{})
	h := newHarness(run)

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, 1, h.em.metrics)
}

func TestExecuteLockBusySkips(t *testing.T) {
	run := pendingRun(models.RunJobAggregate, models.RunScope{})
	h := newHarness(run)
	h.ag.err = redis.ErrLockNotAcquired

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, "lock_busy", h.runs.skipped)
	assert.Equal(t, models.RunStatusSkipped, run.Status)
	assert.Empty(t, h.runs.failed)
	assert.Zero(t, h.em.metrics)
}

func TestExecuteStageFailureLandsOnRun(t *testing.T) {
	run := pendingRun(models.RunJobExtract, models.RunScope{})
	h := newHarness(run)
	h.ex.err = errors.New("source exploded")

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, "source exploded", h.runs.failed)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, []models.RunStatus{models.RunStatusFailed}, h.em.completed)
}

func TestExecuteFinishedRunIsANoop(t *testing.T) {
	run := pendingRun(models.RunJobTransform, models.RunScope{})
	run.Status = models.RunStatusSucceeded
	h := newHarness(run)

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Empty(t, h.log.calls)
	assert.False(t, h.runs.running)
	assert.Empty(t, h.em.completed)
}

func TestExecuteUnknownRun(t *testing.T) {
	run := pendingRun(models.RunJobTransform, models.RunScope{})
	h := newHarness(run)

	assert.Error(t, h.runner.Execute(context.Background(), "missing"))
	assert.Empty(t, h.log.calls)
}

func TestExecuteInvalidScope(t *testing.T) {
	run := &models.PipelineRun{
		ID:     "run-1",
		Job:    models.RunJobTransform,
		Status: models.RunStatusPending,
		Scope:  []byte("{nope"),
	}
	h := newHarness(run)

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Contains(t, h.runs.failed, "invalid scope")
	assert.False(t, h.runs.running)
	assert.Empty(t, h.log.calls)
}

func TestExecuteUnknownJob(t *testing.T) {
	run := pendingRun(models.RunJob("compact"), models.RunScope{})
	h := newHarness(run)

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Contains(t, h.runs.failed, "unknown job")
	assert.Equal(t, models.RunStatusFailed, run.Status)
}

func TestChainRunsStagesInOrder(t *testing.T) {
	run := pendingRun(models.RunJobPipeline, models.RunScope{})
	h := newHarness(run)

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, []string{"extract", "transform", "aggregate"}, h.log.calls)

	require.IsType(t, &models.PipelineResult{}, h.runs.completed)
	result := h.runs.completed.(*models.PipelineResult)
	assert.Equal(t, h.ex.result, result.Extract)
	assert.Equal(t, h.tr.result, result.Transform)
	assert.Equal(t, h.ag.result, result.Aggregate)

	assert.Equal(t, 1, h.em.metrics)
	assert.NotEmpty(t, h.runs.progress)
}

func TestChainLockBusyStopsChain(t *testing.T) {
	run := pendingRun(models.RunJobPipeline, models.RunScope{})
	h := newHarness(run)
	h.tr.err = redis.ErrLockNotAcquired

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, []string{"extract", "transform"}, h.log.calls)
	assert.Equal(t, "lock_busy", h.runs.skipped)
	assert.Zero(t, h.em.metrics)
}

func TestChainStageFailureNamesStage(t *testing.T) {
	run := pendingRun(models.RunJobPipeline, models.RunScope{})
	h := newHarness(run)
	h.ag.err = errors.New("rollup query failed")

	require.NoError(t, h.runner.Execute(context.Background(), run.ID))

	assert.Equal(t, []string{"extract", "transform", "aggregate"}, h.log.calls)
	assert.Contains(t, h.runs.failed, "aggregate:")
	assert.Contains(t, h.runs.failed, "rollup query failed")
}

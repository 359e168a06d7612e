package models

import (
	"encoding/json"
	"time"
)

// RunJob names the pipeline stage a run executes. "pipeline" is the composed
// extract -> transform -> aggregate chain.
type RunJob string

const (
	RunJobExtract   RunJob = "extract"
	RunJobTransform RunJob = "transform"
	RunJobAggregate RunJob = "aggregate"
	RunJobPipeline  RunJob = "pipeline"
)

// RunStatus is the lifecycle of a pipeline run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	// RunStatusSkipped means the advisory lock was busy and the run gave way
	// to one already in flight. Nothing was mutated.
	RunStatusSkipped RunStatus = "skipped"
)

// IsTerminal returns true once the run can no longer change state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusSkipped
}

// PipelineRun is one tracked execution of a stage (or the whole chain).
// Created pending by the trigger surface, claimed and driven by a queue
// worker, polled by the caller.
type PipelineRun struct {
	ID         string          `json:"id" db:"id"`
	TenantID   *string         `json:"tenant_id,omitempty" db:"tenant_id"`
	Job        RunJob          `json:"job" db:"job"`
	Status     RunStatus       `json:"status" db:"status"`
	Scope      json.RawMessage `json:"scope,omitempty" db:"scope"`
	Progress   json.RawMessage `json:"progress,omitempty" db:"progress"`
	Result     json.RawMessage `json:"result,omitempty" db:"result"`
	Error      *string         `json:"error,omitempty" db:"error"`
	Attempts   int             `json:"attempts" db:"attempts"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// RunScope bounds what a run touches. Zero value means "everything":
// all tenants, all api sources, derived window, incremental cursor.
type RunScope struct {
	TenantIDs []string `json:"tenant_ids,omitempty"`
	SourceIDs []string `json:"source_ids,omitempty"`
	Since     *string  `json:"since,omitempty"` // YYYY-MM-DD
	Until     *string  `json:"until,omitempty"` // YYYY-MM-DD
	// Force bypasses the transform cursor / deletes metric rows in the
	// window before recomputing.
	Force bool `json:"force,omitempty"`
}

// TriggerRunRequest is the API request that creates a run.
type TriggerRunRequest struct {
	TenantIDs []string `json:"tenant_ids,omitempty"`
	SourceIDs []string `json:"source_ids,omitempty" validate:"omitempty,dive,uuid"`
	Since     *string  `json:"since,omitempty" validate:"omitnil,datetime=2006-01-02"`
	Until     *string  `json:"until,omitempty" validate:"omitnil,datetime=2006-01-02"`
	Force     bool     `json:"force,omitempty"`
}

// TriggerRunResponse returns the ids to poll, one per stage.
type TriggerRunResponse struct {
	RunID string `json:"run_id"`
}

// RunListResponse is the response for listing runs
type RunListResponse struct {
	Items      []PipelineRun `json:"items"`
	TotalCount int           `json:"total_count"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
}

// SourceError records one source's failure inside an otherwise successful
// extract run.
type SourceError struct {
	SourceID string `json:"source_id"`
	Name     string `json:"name"`
	Error    string `json:"error"`
}

// ExtractResult is the final payload of an extract run.
type ExtractResult struct {
	Sources    int           `json:"sources"`
	Pages      int           `json:"pages"`
	Inserted   int           `json:"inserted"`
	Duplicates int           `json:"duplicates"`
	Errors     []SourceError `json:"errors,omitempty"`
}

// ExtractProgress is emitted while an extract run walks its sources.
type ExtractProgress struct {
	Current    string  `json:"current,omitempty"`
	Processed  int     `json:"processed"`
	Total      int     `json:"total"`
	Percent    float64 `json:"percent"`
	Pages      int     `json:"pages"`
	Inserted   int     `json:"inserted"`
	Duplicates int     `json:"duplicates"`
}

// TransformResult is the final payload of a transform run.
type TransformResult struct {
	Processed  int   `json:"processed"`
	Leads      int   `json:"leads"`
	Orders     int   `json:"orders"`
	Customers  int   `json:"customers"`
	Skipped    int   `json:"skipped"`
	Errors     int   `json:"errors"`
	LastRawID  int64 `json:"last_raw_id"`
	Batches    int   `json:"batches"`
	NewMasters int   `json:"new_masters"`
}

// TransformProgress is emitted after each committed batch.
type TransformProgress struct {
	Processed int   `json:"processed"`
	Batches   int   `json:"batches"`
	LastRawID int64 `json:"last_raw_id"`
}

// AggregateResult is the final payload of an aggregate run.
type AggregateResult struct {
	Since       string `json:"since"`
	Until       string `json:"until"`
	Buckets     int    `json:"buckets"`
	RowsDeleted int64  `json:"rows_deleted,omitempty"`
}

// SkippedResult is the payload of a run that gave way on a busy lock.
type SkippedResult struct {
	Reason string `json:"reason"`
}

// PipelineResult composes the per-stage results of a chained run.
type PipelineResult struct {
	Extract   *ExtractResult   `json:"extract,omitempty"`
	Transform *TransformResult `json:"transform,omitempty"`
	Aggregate *AggregateResult `json:"aggregate,omitempty"`
}

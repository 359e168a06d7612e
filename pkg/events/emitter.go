// Package events publishes pipeline lifecycle events for downstream
// consumers (dashboard cache invalidation, alerting).
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/pkg/kafka"
	"github.com/Ramsey-B/sage/pkg/models"
)

// Event types carried in the event_type field and message headers.
const (
	TypeRunCompleted   = "pipeline.run.completed"
	TypeMetricsUpdated = "pipeline.metrics.updated"
)

// RunEvent announces a pipeline run reaching a terminal state.
type RunEvent struct {
	EventType string           `json:"event_type"`
	RunID     string           `json:"run_id"`
	TenantID  *string          `json:"tenant_id,omitempty"`
	Job       models.RunJob    `json:"job"`
	Status    models.RunStatus `json:"status"`
	Result    json.RawMessage  `json:"result,omitempty"`
	Error     *string          `json:"error,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// MetricsEvent announces recomputed daily metric buckets.
type MetricsEvent struct {
	EventType string    `json:"event_type"`
	TenantIDs []string  `json:"tenant_ids,omitempty"`
	Since     string    `json:"since"`
	Until     string    `json:"until"`
	Buckets   int       `json:"buckets"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter publishes pipeline events. A nil producer disables emission, so
// deployments without Kafka run unchanged.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// RunCompleted publishes a run's terminal state.
func (e *Emitter) RunCompleted(ctx context.Context, run *models.PipelineRun) error {
	if e == nil || e.producer == nil {
		return nil
	}

	event := RunEvent{
		EventType: TypeRunCompleted,
		RunID:     run.ID,
		TenantID:  run.TenantID,
		Job:       run.Job,
		Status:    run.Status,
		Result:    run.Result,
		Error:     run.Error,
		Timestamp: time.Now().UTC(),
	}

	headers := map[string]string{
		"event_type": TypeRunCompleted,
		"job":        string(run.Job),
		"status":     string(run.Status),
	}
	return e.producer.Publish(ctx, run.ID, event, headers)
}

// MetricsUpdated publishes that an aggregate run replaced buckets in a
// window.
func (e *Emitter) MetricsUpdated(ctx context.Context, tenantIDs []string, result *models.AggregateResult) error {
	if e == nil || e.producer == nil {
		return nil
	}
	if result == nil || result.Buckets == 0 {
		return nil
	}

	event := MetricsEvent{
		EventType: TypeMetricsUpdated,
		TenantIDs: tenantIDs,
		Since:     result.Since,
		Until:     result.Until,
		Buckets:   result.Buckets,
		Timestamp: time.Now().UTC(),
	}

	headers := map[string]string{
		"event_type": TypeMetricsUpdated,
	}
	return e.producer.Publish(ctx, result.Since, event, headers)
}

// Package scheduler turns per-source sync intervals into queued pipeline
// runs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/sage/internal/repositories/pipelinerun"
	"github.com/Ramsey-B/sage/internal/repositories/source"
	appctx "github.com/Ramsey-B/sage/pkg/context"
	"github.com/Ramsey-B/sage/pkg/metrics"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/queue"
	"github.com/Ramsey-B/sage/pkg/redis"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// ErrSchedulerAlreadyRunning is returned when trying to start an already running scheduler
var ErrSchedulerAlreadyRunning = errors.New("scheduler already running")

const (
	// DefaultPollInterval is the default interval between scheduling cycles
	DefaultPollInterval = time.Minute

	// DefaultLockTTL is how long a scheduled source stays locked. It doubles
	// as a debounce: the lock is left to expire, so a source cannot be
	// rescheduled until the TTL lapses even if its run has not stamped
	// last_refreshed_at yet.
	DefaultLockTTL = 5 * time.Minute

	// LockKeyPrefix is the prefix for per-source scheduler locks
	LockKeyPrefix = "scheduler:source:"
)

// Config holds configuration for the scheduler
type Config struct {
	// PollInterval is how often to check for due sources
	PollInterval time.Duration

	// LockTTL is how long to hold the per-source scheduling lock
	LockTTL time.Duration

	// JobQueue is the Redis Streams queue name
	JobQueue string
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		LockTTL:      DefaultLockTTL,
		JobQueue:     "sage:jobs",
	}
}

// Scheduler polls for api sources whose sync interval elapsed and queues a
// scoped pipeline run for each. The per-source lock only arbitrates between
// scheduler instances; the stage locks do the final arbitration once a run
// executes.
type Scheduler struct {
	sources source.SourceRepository
	runs    pipelinerun.PipelineRunRepository
	streams *redis.Streams
	locker  *redis.Locker
	config  Config
	logger  ectologger.Logger

	// Coordination
	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.RWMutex
}

// NewScheduler creates a new scheduler
func NewScheduler(
	sources source.SourceRepository,
	runs pipelinerun.PipelineRunRepository,
	streams *redis.Streams,
	locker *redis.Locker,
	config Config,
	logger ectologger.Logger,
) *Scheduler {
	// Apply defaults
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	if config.JobQueue == "" {
		config.JobQueue = "sage:jobs"
	}

	return &Scheduler{
		sources:  sources,
		runs:     runs,
		streams:  streams,
		locker:   locker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		stoppedC: make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.Start")
	defer span.End()

	s.logger.WithContext(ctx).Infof("Starting scheduler: poll_interval=%s lock_ttl=%s",
		s.config.PollInterval, s.config.LockTTL)

	// Start the polling loop
	go s.pollLoop(ctx)

	s.logger.WithContext(ctx).Info("Scheduler started")
	return nil
}

// Stop stops the scheduler gracefully
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.WithContext(ctx).Info("Stopping scheduler...")

	close(s.stopCh)

	// Wait for graceful shutdown with timeout
	select {
	case <-s.stoppedC:
		s.logger.WithContext(ctx).Info("Scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WithContext(ctx).Warn("Scheduler shutdown timed out")
		return ctx.Err()
	}

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// pollLoop continuously polls for due sources
func (s *Scheduler) pollLoop(ctx context.Context) {
	defer close(s.stoppedC)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.runSchedulingCycle(ctx)

	for {
		select {
		case <-s.stopCh:
			s.logger.WithContext(ctx).Debug("Scheduler poll loop stopping")
			return
		case <-ticker.C:
			s.runSchedulingCycle(ctx)
		}
	}
}

// runSchedulingCycle runs a single scheduling cycle
func (s *Scheduler) runSchedulingCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.runSchedulingCycle")
	defer span.End()

	start := time.Now()
	s.logger.WithContext(ctx).Debug("Running scheduling cycle")

	due, err := s.sources.ListDue(ctx, time.Now().UTC())
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("Failed to list due sources")
		return
	}

	if len(due) == 0 {
		s.logger.WithContext(ctx).Debug("No sources due for refresh")
		return
	}

	s.logger.WithContext(ctx).Infof("Found %d sources due for refresh", len(due))

	scheduled := 0
	skipped := 0
	for _, src := range due {
		if err := s.scheduleSource(ctx, src); err != nil {
			if errors.Is(err, redis.ErrLockNotAcquired) {
				skipped++
				continue
			}
			s.logger.WithContext(ctx).WithError(err).Warnf("Failed to schedule source %s (%s)",
				src.Name, src.ID)
			continue
		}
		scheduled++
	}

	duration := time.Since(start)
	s.logger.WithContext(ctx).Infof("Scheduling cycle completed: scheduled=%d skipped=%d duration=%s",
		scheduled, skipped, duration)
}

// scheduleSource queues one scoped pipeline run for a due source. The lock is
// released only on failure: leaving it to expire keeps the source from being
// rescheduled every poll while its run is still in flight.
func (s *Scheduler) scheduleSource(ctx context.Context, src models.Source) error {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.scheduleSource")
	defer span.End()

	lock, err := s.locker.Acquire(ctx, LockKeyPrefix+src.ID, s.config.LockTTL)
	if err != nil {
		return err
	}

	ctx = appctx.SetTenantID(ctx, src.TenantID)

	scope := models.RunScope{
		TenantIDs: []string{src.TenantID},
		SourceIDs: []string{src.ID},
	}

	run, err := s.runs.Create(ctx, &src.TenantID, models.RunJobPipeline, scope)
	if err != nil {
		lock.Release(ctx)
		return err
	}

	messageID, err := queue.PublishPipelineRun(ctx, s.streams, s.config.JobQueue, run.ID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Errorf("Failed to publish job for source %s", src.ID)
		lock.Release(ctx)
		return err
	}

	metrics.SchedulerSourcesScheduled.Inc()
	s.logger.WithContext(ctx).Infof("Scheduled refresh for source %s (%s): run_id=%s message_id=%s",
		src.Name, src.ID, run.ID, messageID)

	return nil
}

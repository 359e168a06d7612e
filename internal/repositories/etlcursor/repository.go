package etlcursor

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/sage/pkg/database"
	"github.com/Ramsey-B/sage/pkg/models"
	"github.com/Ramsey-B/sage/pkg/tracing"
)

// CursorRepository defines the interface for job cursor operations
type CursorRepository interface {
	Get(ctx context.Context, jobName string) (*models.CursorState, error)
	Upsert(ctx context.Context, jobName string, lastRawID int64) error
}

// Repository handles cursor persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new cursor repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const tableName = "etl_cursors"

// Get returns the cursor for a job, or nil when the job has never run.
func (r *Repository) Get(ctx context.Context, jobName string) (*models.CursorState, error) {
	ctx, span := tracing.StartSpan(ctx, "etlcursor.Repository.Get")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "job_name", "last_raw_id", "last_run_at")
	sb.From(tableName)
	sb.Where(sb.Equal("job_name", jobName))

	query, args := sb.Build()

	var cursor models.CursorState
	if err := r.db.GetContext(ctx, &cursor, query, args...); err != nil {
		if err.Error() == "sql: no rows in result set" {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_name": jobName}).Error("Failed to get cursor")
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &cursor, nil
}

// Upsert moves the job's high-water-mark. Callers write it only after the
// batch it covers has landed, so a crash re-processes rather than skips.
func (r *Repository) Upsert(ctx context.Context, jobName string, lastRawID int64) error {
	ctx, span := tracing.StartSpan(ctx, "etlcursor.Repository.Upsert")
	defer span.End()

	now := time.Now().UTC()

	ib := database.NewInsertBuilder()
	ib.InsertInto(tableName)
	ib.Cols("job_name", "last_raw_id", "last_run_at")
	ib.Values(jobName, lastRawID, now)

	ub := ib.OnConflict("job_name")
	ub.Set(
		ub.Assign("last_raw_id", database.Excluded("last_raw_id")),
		ub.Assign("last_run_at", database.Excluded("last_run_at")),
	)

	query, args := ib.Build()

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_name": jobName, "last_raw_id": lastRawID}).Error("Failed to upsert cursor")
		return fmt.Errorf("failed to upsert cursor: %w", err)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"job_name":    jobName,
		"last_raw_id": lastRawID,
	}).Debug("Advanced cursor")

	return nil
}

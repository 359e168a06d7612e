package models

import "time"

// CursorState is the incremental progress of one named job: the raw-record
// id high-water-mark and when the job last ran. Monotonically non-decreasing
// unless a forced rebuild explicitly rewinds it.
type CursorState struct {
	ID        int64     `json:"id" db:"id"`
	JobName   string    `json:"job_name" db:"job_name"`
	LastRawID int64     `json:"last_raw_id" db:"last_raw_id"`
	LastRunAt time.Time `json:"last_run_at" db:"last_run_at"`
}

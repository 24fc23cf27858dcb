package models

import "time"

// ImportJobStatus tracks the state of a bulk lead import.
type ImportJobStatus string

const (
	ImportPending   ImportJobStatus = "PENDING"
	ImportRunning   ImportJobStatus = "RUNNING"
	ImportCompleted ImportJobStatus = "COMPLETED"
	ImportFailed    ImportJobStatus = "FAILED"
)

// Finished reports whether the job reached a final state.
func (s ImportJobStatus) Finished() bool {
	return s == ImportCompleted || s == ImportFailed
}

// ImportJob is the bookkeeping record of a bulk import.
type ImportJob struct {
	ID           int             `json:"id"`
	Source       string          `json:"source"`
	Status       ImportJobStatus `json:"status"`
	RowsTotal    int             `json:"rows_total"`
	RowsImported int             `json:"rows_imported"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	TTLExpiresAt *time.Time      `json:"ttl_expires_at,omitempty"`
}

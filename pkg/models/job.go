package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// JobTerminal reports whether a job status is terminal. Terminal jobs never
// transition again.
func JobTerminal(status string) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job tracks one asynchronous clustering request. The API returns a job id on
// POST /api/v1/clustering/run; the client polls GET /api/v1/tasks/{id} until
// the status is terminal. The parameter snapshot is copied at submission and
// never changes; RunID is set only on success.
type Job struct {
	ID           uuid.UUID            `db:"id"            json:"id"`
	UserID       uuid.UUID            `db:"user_id"       json:"user_id"`
	Status       string               `db:"status"        json:"status"`
	Params       ClusteringParameters `db:"params"        json:"params"`
	RunID        *uuid.UUID           `db:"run_id"        json:"run_id,omitempty"`
	ErrorMessage *string              `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time           `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time           `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time            `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time            `db:"updated_at"    json:"updated_at"`
}

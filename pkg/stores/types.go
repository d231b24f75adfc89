package stores

import (
	"time"
)

// RunStatus represents the status of a provisioning run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run represents one provisioning run recorded in the journal
type Run struct {
	ID          string     `json:"id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TaskCount   int        `json:"task_count"`
	Succeeded   int        `json:"succeeded"`
	Cached      int        `json:"cached"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"`
	CreatedAt   time.Time  `json:"created_at"`
}

// RunTask represents one completed task within a run
type RunTask struct {
	ID          int64     `json:"id"`
	RunID       string    `json:"run_id"`
	IdentityKey string    `json:"identity_key"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Error       *string   `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	DurationMS  int64     `json:"duration_ms"`
	CompletedAt time.Time `json:"completed_at"`
}

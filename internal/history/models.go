// Package history persists ingestion run records and small pieces of
// agent state (device id, API auth token) in sqlite. The archival
// pipeline only writes run records; all of its own state lives on the
// filesystem.
package history

import "time"

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is one recorded ingestion invocation.
type Run struct {
	ID         string     `json:"id"`
	Mode       string     `json:"mode"`
	Selector   string     `json:"selector"`
	Since      string     `json:"since"`
	Status     string     `json:"status"`
	NewClips   int        `json:"new_clips"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

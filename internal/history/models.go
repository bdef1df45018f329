package history

import "time"

// OperationRecord is one completed (or rejected) operation on a deployment.
type OperationRecord struct {
	ID              int64      `json:"id"`
	DeploymentID    string     `json:"deployment_id"`
	Operation       string     `json:"operation"`
	Status          string     `json:"status"` // success, failed, deleted
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	FinalState      *string    `json:"final_state,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
}

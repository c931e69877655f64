package models

import "time"

// Job is one unit of analytics work in the persistent queue.
// Snapshot jobs are keyed by (account, as-of date); roll-up jobs by (user, as-of date).
type Job struct {
	ID          string    `json:"id"`
	JobType     string    `json:"job_type"`
	AccountID   string    `json:"account_id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	AsOfDate    string    `json:"as_of_date"`
	Priority    int       `json:"priority"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed", "cancelled"
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Error       string    `json:"error,omitempty"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	DurationMS  int64     `json:"duration_ms"`
}

// Subject returns the entity the job serializes on.
func (j *Job) Subject() string {
	if j.AccountID != "" {
		return j.AccountID
	}
	return "user:" + j.UserID
}

// Job type constants
const (
	JobTypeComputeSnapshot = "compute_snapshot"
	JobTypeComputeUserView = "compute_user_view"
)

// Job status constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Default priorities (higher = processed first)
const (
	PriorityLatestSnapshot = 10
	PriorityUserView       = 8
	PriorityBackfill       = 5
)

// DefaultPriority returns the default priority for a job type.
func DefaultPriority(jobType string) int {
	switch jobType {
	case JobTypeComputeSnapshot:
		return PriorityBackfill
	case JobTypeComputeUserView:
		return PriorityUserView
	default:
		return 0
	}
}

// JobEvent is broadcast via WebSocket when job state changes.
type JobEvent struct {
	Type      string    `json:"type"` // "job_queued", "job_started", "job_completed", "job_failed"
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"` // Current pending count
}

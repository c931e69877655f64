package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// jobSelectFields lists the fields to select from job_queue, aliasing job_id to id for struct mapping.
const jobSelectFields = "job_id as id, job_type, account_id, user_id, as_of_date, priority, status, created_at, started_at, completed_at, error, attempts, max_attempts, duration_ms"

// jobOrder is the processing order: latest snapshots first, then oldest dates first.
const jobOrder = " ORDER BY priority DESC, as_of_date ASC, created_at ASC"

// JobQueueStore implements interfaces.JobQueueStore using SurrealDB.
type JobQueueStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewJobQueueStore creates a new JobQueueStore.
func NewJobQueueStore(db *surrealdb.DB, logger *common.Logger) *JobQueueStore {
	return &JobQueueStore{db: db, logger: logger}
}

func jobRID(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("job_queue", id)
}

func (s *JobQueueStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()[:8]
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}

	sql := `UPSERT $rid SET
		job_id = $job_id, job_type = $job_type, account_id = $account_id, user_id = $user_id,
		as_of_date = $as_of_date, priority = $priority, status = $status, created_at = $created_at,
		started_at = $started_at, completed_at = $completed_at, error = $error, attempts = $attempts,
		max_attempts = $max_attempts, duration_ms = $duration_ms`
	vars := map[string]any{
		"rid":          jobRID(job.ID),
		"job_id":       job.ID,
		"job_type":     job.JobType,
		"account_id":   job.AccountID,
		"user_id":      job.UserID,
		"as_of_date":   job.AsOfDate,
		"priority":     job.Priority,
		"status":       job.Status,
		"created_at":   job.CreatedAt,
		"started_at":   job.StartedAt,
		"completed_at": job.CompletedAt,
		"error":        job.Error,
		"attempts":     job.Attempts,
		"max_attempts": job.MaxAttempts,
		"duration_ms":  job.DurationMS,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Claim moves a pending job to running. The conditional UPDATE returns no rows
// when another worker claimed it first.
func (s *JobQueueStore) Claim(ctx context.Context, id string) (bool, error) {
	sql := "UPDATE $rid SET status = $running, started_at = $now, attempts = attempts + 1 WHERE status = $pending RETURN AFTER"
	vars := map[string]any{
		"rid":     jobRID(id),
		"running": models.JobStatusRunning,
		"pending": models.JobStatusPending,
		"now":     time.Now(),
	}
	rows, err := queryRows[map[string]any](ctx, s.db, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	return len(rows) > 0, nil
}

func (s *JobQueueStore) Complete(ctx context.Context, id string, jobErr error, durationMS int64) error {
	status := models.JobStatusCompleted
	errStr := ""
	if jobErr != nil {
		status = models.JobStatusFailed
		errStr = jobErr.Error()
	}

	sql := "UPDATE $rid SET status = $status, completed_at = $now, error = $error, duration_ms = $dur"
	vars := map[string]any{
		"rid":    jobRID(id),
		"status": status,
		"now":    time.Now(),
		"error":  errStr,
		"dur":    durationMS,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

func (s *JobQueueStore) Requeue(ctx context.Context, job *models.Job) error {
	sql := "UPDATE $rid SET status = $pending, started_at = NONE, error = $error"
	vars := map[string]any{
		"rid":     jobRID(job.ID),
		"pending": models.JobStatusPending,
		"error":   job.Error,
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to requeue job: %w", err)
	}
	job.Status = models.JobStatusPending
	job.StartedAt = time.Time{}
	return nil
}

func (s *JobQueueStore) Cancel(ctx context.Context, id string) error {
	sql := "UPDATE $rid SET status = $status, completed_at = $now WHERE status = $pending"
	vars := map[string]any{
		"rid":     jobRID(id),
		"status":  models.JobStatusCancelled,
		"pending": models.JobStatusPending,
		"now":     time.Now(),
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	return nil
}

func (s *JobQueueStore) ListPending(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 100
	}
	sql := "SELECT " + jobSelectFields + " FROM job_queue WHERE status = $pending" + jobOrder + " LIMIT $limit"
	vars := map[string]any{"pending": models.JobStatusPending, "limit": limit}
	return s.queryJobs(ctx, sql, vars)
}

// ListBySubject returns every job for a subject, newest first.
func (s *JobQueueStore) ListBySubject(ctx context.Context, subjectID string) ([]*models.Job, error) {
	field, value := "account_id", subjectID
	if userID, ok := strings.CutPrefix(subjectID, "user:"); ok {
		field, value = "user_id", userID
	}
	sql := "SELECT " + jobSelectFields + " FROM job_queue WHERE " + field + " = $subject ORDER BY created_at DESC"
	return s.queryJobs(ctx, sql, map[string]any{"subject": value})
}

type countResult struct {
	Cnt int `json:"cnt"`
}

func (s *JobQueueStore) count(ctx context.Context, sql string, vars map[string]any) (int, error) {
	rows, err := queryRows[countResult](ctx, s.db, sql, vars)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Cnt, nil
}

func (s *JobQueueStore) CountPending(ctx context.Context) (int, error) {
	sql := "SELECT count() AS cnt FROM job_queue WHERE status = $pending GROUP ALL"
	n, err := s.count(ctx, sql, map[string]any{"pending": models.JobStatusPending})
	if err != nil {
		return 0, fmt.Errorf("failed to count pending: %w", err)
	}
	return n, nil
}

// HasPendingJob reports whether a pending or running job exists for the subject and date.
// subjectID is an account id, or "user:<id>" for roll-up jobs.
func (s *JobQueueStore) HasPendingJob(ctx context.Context, jobType, subjectID, asOfDate string) (bool, error) {
	field, value := "account_id", subjectID
	if userID, ok := strings.CutPrefix(subjectID, "user:"); ok {
		field, value = "user_id", userID
	}
	sql := "SELECT count() AS cnt FROM job_queue WHERE job_type = $type AND " + field + " = $subject AND as_of_date = $date AND status IN [$pending, $running] GROUP ALL"
	vars := map[string]any{
		"type":    jobType,
		"subject": value,
		"date":    asOfDate,
		"pending": models.JobStatusPending,
		"running": models.JobStatusRunning,
	}
	n, err := s.count(ctx, sql, vars)
	if err != nil {
		return false, fmt.Errorf("failed to check pending job: %w", err)
	}
	return n > 0, nil
}

func (s *JobQueueStore) CancelByAccount(ctx context.Context, accountID string) (int, error) {
	sql := "UPDATE job_queue SET status = $cancelled, completed_at = $now WHERE account_id = $account_id AND status = $pending RETURN AFTER"
	vars := map[string]any{
		"cancelled":  models.JobStatusCancelled,
		"account_id": accountID,
		"pending":    models.JobStatusPending,
		"now":        time.Now(),
	}
	rows, err := queryRows[map[string]any](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs by account: %w", err)
	}
	return len(rows), nil
}

func (s *JobQueueStore) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	sql := "DELETE FROM job_queue WHERE status IN [$completed, $failed, $cancelled] AND completed_at < $cutoff RETURN BEFORE"
	vars := map[string]any{
		"completed": models.JobStatusCompleted,
		"failed":    models.JobStatusFailed,
		"cancelled": models.JobStatusCancelled,
		"cutoff":    olderThan,
	}
	rows, err := queryRows[map[string]any](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	return len(rows), nil
}

// queryJobs is a helper that runs a query and returns a slice of Job pointers.
func (s *JobQueueStore) queryJobs(ctx context.Context, sql string, vars map[string]any) ([]*models.Job, error) {
	rows, err := queryRows[models.Job](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	jobs := make([]*models.Job, len(rows))
	for i := range rows {
		jobs[i] = &rows[i]
	}
	return jobs, nil
}

// ResetRunningJobs resets all jobs with status "running" back to "pending".
// Called on startup to recover jobs that were in-flight when the process crashed.
func (s *JobQueueStore) ResetRunningJobs(ctx context.Context) (int, error) {
	sql := `UPDATE job_queue SET status = $pending, started_at = NONE WHERE status = $running RETURN AFTER`
	rows, err := queryRows[map[string]any](ctx, s.db, sql, map[string]any{
		"pending": models.JobStatusPending,
		"running": models.JobStatusRunning,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	return len(rows), nil
}

// Compile-time check
var _ interfaces.JobQueueStore = (*JobQueueStore)(nil)

package userdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

func (s *Store) Enqueue(_ context.Context, job *models.Job) error {
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
	if err := s.db.Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

func (s *Store) getJob(id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Get(id, &job); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("job '%s': %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job '%s': %w", id, err)
	}
	return &job, nil
}

// Claim moves a pending job to running. The write lock makes the check-and-set atomic
// within this process; badger holds an exclusive directory lock across processes.
func (s *Store) Claim(_ context.Context, id string) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	job, err := s.getJob(id)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusPending {
		return false, nil
	}
	job.Status = models.JobStatusRunning
	job.StartedAt = time.Now()
	job.Attempts++
	if err := s.db.Update(id, job); err != nil {
		return false, fmt.Errorf("failed to claim job '%s': %w", id, err)
	}
	return true, nil
}

func (s *Store) Complete(_ context.Context, id string, jobErr error, durationMS int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	job, err := s.getJob(id)
	if err != nil {
		return err
	}
	job.Status = models.JobStatusCompleted
	job.Error = ""
	if jobErr != nil {
		job.Status = models.JobStatusFailed
		job.Error = jobErr.Error()
	}
	job.CompletedAt = time.Now()
	job.DurationMS = durationMS
	if err := s.db.Update(id, job); err != nil {
		return fmt.Errorf("failed to complete job '%s': %w", id, err)
	}
	return nil
}

func (s *Store) Requeue(_ context.Context, job *models.Job) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	job.Status = models.JobStatusPending
	job.StartedAt = time.Time{}
	if err := s.db.Upsert(job.ID, job); err != nil {
		return fmt.Errorf("failed to requeue job '%s': %w", job.ID, err)
	}
	return nil
}

func (s *Store) Cancel(_ context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	job, err := s.getJob(id)
	if err != nil {
		return err
	}
	if job.Status != models.JobStatusPending {
		return nil
	}
	job.Status = models.JobStatusCancelled
	job.CompletedAt = time.Now()
	if err := s.db.Update(id, job); err != nil {
		return fmt.Errorf("failed to cancel job '%s': %w", id, err)
	}
	return nil
}

// sortPending orders jobs by priority desc, as-of date asc, then creation time.
func sortPending(jobs []models.Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		a, b := jobs[i], jobs[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.AsOfDate != b.AsOfDate {
			return a.AsOfDate < b.AsOfDate
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *Store) ListPending(_ context.Context, limit int) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusPending)); err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	sortPending(jobs)
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return toPointers(jobs), nil
}

// ListBySubject returns every job for a subject, newest first.
// subjectID is an account id, or "user:<id>" for roll-up jobs.
func (s *Store) ListBySubject(_ context.Context, subjectID string) ([]*models.Job, error) {
	query := badgerhold.Where("AccountID").Eq(subjectID)
	if userID, ok := strings.CutPrefix(subjectID, "user:"); ok {
		query = badgerhold.Where("UserID").Eq(userID).And("AccountID").Eq("")
	}
	var jobs []models.Job
	if err := s.db.Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list jobs for '%s': %w", subjectID, err)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return toPointers(jobs), nil
}

func (s *Store) CountPending(_ context.Context) (int, error) {
	n, err := s.db.Count(&models.Job{}, badgerhold.Where("Status").Eq(models.JobStatusPending))
	if err != nil {
		return 0, fmt.Errorf("failed to count pending jobs: %w", err)
	}
	return int(n), nil
}

// HasPendingJob reports whether a pending or running job exists for the same
// type, subject and as-of date.
func (s *Store) HasPendingJob(_ context.Context, jobType, subjectID, asOfDate string) (bool, error) {
	var jobs []models.Job
	query := badgerhold.Where("JobType").Eq(jobType).
		And("AsOfDate").Eq(asOfDate).
		And("Status").In(models.JobStatusPending, models.JobStatusRunning)
	if err := s.db.Find(&jobs, query); err != nil {
		return false, fmt.Errorf("failed to check pending jobs: %w", err)
	}
	for i := range jobs {
		if jobs[i].Subject() == subjectID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CancelByAccount(_ context.Context, accountID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var jobs []models.Job
	query := badgerhold.Where("AccountID").Eq(accountID).And("Status").Eq(models.JobStatusPending)
	if err := s.db.Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to list jobs for '%s': %w", accountID, err)
	}
	now := time.Now()
	for i := range jobs {
		jobs[i].Status = models.JobStatusCancelled
		jobs[i].CompletedAt = now
		if err := s.db.Update(jobs[i].ID, &jobs[i]); err != nil {
			return i, fmt.Errorf("failed to cancel job '%s': %w", jobs[i].ID, err)
		}
	}
	return len(jobs), nil
}

// PurgeCompleted deletes finished jobs (completed, failed, cancelled) older than the cutoff.
func (s *Store) PurgeCompleted(_ context.Context, olderThan time.Time) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var jobs []models.Job
	query := badgerhold.Where("Status").In(models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled)
	if err := s.db.Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to list finished jobs: %w", err)
	}
	purged := 0
	for _, job := range jobs {
		if !job.CompletedAt.Before(olderThan) {
			continue
		}
		if err := s.db.Delete(job.ID, &models.Job{}); err != nil {
			return purged, fmt.Errorf("failed to purge job '%s': %w", job.ID, err)
		}
		purged++
	}
	return purged, nil
}

// ResetRunningJobs returns jobs left running by a previous process to pending.
func (s *Store) ResetRunningJobs(_ context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var jobs []models.Job
	if err := s.db.Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return 0, fmt.Errorf("failed to list running jobs: %w", err)
	}
	for i := range jobs {
		jobs[i].Status = models.JobStatusPending
		jobs[i].StartedAt = time.Time{}
		if err := s.db.Update(jobs[i].ID, &jobs[i]); err != nil {
			return i, fmt.Errorf("failed to reset job '%s': %w", jobs[i].ID, err)
		}
	}
	return len(jobs), nil
}

func toPointers(jobs []models.Job) []*models.Job {
	out := make([]*models.Job, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out
}

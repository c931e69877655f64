package jobmanager

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// candidateWindow bounds how many pending jobs a processor inspects per dequeue.
const candidateWindow = 500

// enqueue adds a job to the queue and broadcasts a "job_queued" event.
func (jm *JobManager) enqueue(ctx context.Context, job *models.Job) error {
	if err := jm.storage.JobQueueStore().Enqueue(ctx, job); err != nil {
		return err
	}
	jm.broadcast(ctx, "job_queued", job)
	return nil
}

// dequeue claims the next runnable job. Subjects with a job already in flight are
// skipped, and for each subject only its oldest pending as-of date is eligible, so
// an account's dates always run in ascending order. A roll-up waits until none of
// the user's accounts has a snapshot job pending or running on or before its date.
func (jm *JobManager) dequeue(ctx context.Context) (*models.Job, error) {
	pending, err := jm.storage.JobQueueStore().ListPending(ctx, candidateWindow)
	if err != nil {
		return nil, err
	}
	queueDepth.Set(float64(len(pending)))

	oldest := make(map[string]string, len(pending))
	for _, job := range pending {
		s := job.Subject()
		if d, ok := oldest[s]; !ok || job.AsOfDate < d {
			oldest[s] = job.AsOfDate
		}
	}

	for _, job := range pending {
		if job.AsOfDate != oldest[job.Subject()] {
			continue
		}
		if job.JobType == models.JobTypeComputeUserView {
			waiting, err := jm.viewWaiting(ctx, job)
			if err != nil {
				return nil, err
			}
			if waiting {
				continue
			}
		}
		if !jm.reserve(job) {
			continue
		}

		if err := jm.limiter.Wait(ctx); err != nil {
			jm.release(job)
			return nil, err
		}

		ok, err := jm.storage.JobQueueStore().Claim(ctx, job.ID)
		if err != nil || !ok {
			jm.release(job)
			if err != nil {
				return nil, err
			}
			continue
		}

		job.Status = models.JobStatusRunning
		job.StartedAt = jm.now()
		job.Attempts++
		jm.broadcast(ctx, "job_started", job)
		return job, nil
	}
	return nil, nil
}

// viewWaiting reports whether a roll-up job still has account snapshots to wait for:
// a pending or running snapshot job for one of the user's accounts dated on or before
// the view date.
func (jm *JobManager) viewWaiting(ctx context.Context, view *models.Job) (bool, error) {
	accounts, err := jm.storage.LedgerStore().ListAccounts(ctx, view.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to list accounts for user '%s': %w", view.UserID, err)
	}
	for _, a := range accounts {
		jobs, err := jm.storage.JobQueueStore().ListBySubject(ctx, a.ID)
		if err != nil {
			return false, err
		}
		for _, job := range jobs {
			if job.JobType != models.JobTypeComputeSnapshot || job.AsOfDate > view.AsOfDate {
				continue
			}
			if job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning {
				return true, nil
			}
		}
	}
	return false, nil
}

// reserve marks the job's subject as in flight. Returns false if it already is.
func (jm *JobManager) reserve(job *models.Job) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	s := job.Subject()
	if jm.active[s] {
		return false
	}
	jm.active[s] = true
	return true
}

func (jm *JobManager) release(job *models.Job) {
	jm.mu.Lock()
	delete(jm.active, job.Subject())
	jm.mu.Unlock()
}

// complete marks a job as completed/failed and broadcasts the corresponding event.
func (jm *JobManager) complete(ctx context.Context, job *models.Job, execErr error, durationMS int64) {
	if err := jm.storage.JobQueueStore().Complete(ctx, job.ID, execErr, durationMS); err != nil {
		jm.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to complete job in queue")
	}

	eventType := "job_completed"
	job.Status = models.JobStatusCompleted
	job.DurationMS = durationMS
	if execErr != nil {
		eventType = "job_failed"
		job.Status = models.JobStatusFailed
		job.Error = execErr.Error()
	}
	jobsProcessed.WithLabelValues(job.JobType, job.Status).Inc()
	jm.broadcast(ctx, eventType, job)
}

func (jm *JobManager) broadcast(ctx context.Context, eventType string, job *models.Job) {
	if jm.hub == nil {
		return
	}
	pending, err := jm.storage.JobQueueStore().CountPending(ctx)
	if err != nil {
		jm.logger.Debug().Str("job_id", job.ID).Err(err).Msg("Failed to count pending jobs for broadcast")
	}
	jm.hub.Broadcast(models.JobEvent{
		Type:      eventType,
		Job:       job,
		Timestamp: jm.now(),
		QueueSize: pending,
	})
}

// enqueueIfNeeded skips the job when one with the same type, subject and as-of
// date is already pending or running.
func (jm *JobManager) enqueueIfNeeded(ctx context.Context, job *models.Job) (bool, error) {
	exists, err := jm.storage.JobQueueStore().HasPendingJob(ctx, job.JobType, job.Subject(), job.AsOfDate)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	job.Status = models.JobStatusPending
	job.CreatedAt = jm.now()
	job.MaxAttempts = jm.config.GetMaxRetries()
	if err := jm.enqueue(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

// EnqueueSnapshot queues a snapshot computation for one account and date.
func (jm *JobManager) EnqueueSnapshot(ctx context.Context, accountID string, asOf time.Time, priority int) error {
	_, err := jm.enqueueIfNeeded(ctx, &models.Job{
		JobType:   models.JobTypeComputeSnapshot,
		AccountID: accountID,
		AsOfDate:  common.FormatDate(asOf),
		Priority:  priority,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue snapshot for '%s': %w", accountID, err)
	}
	return nil
}

// EnqueueBackfill queues one snapshot job per trading day in [from, to] and returns
// how many were newly queued.
func (jm *JobManager) EnqueueBackfill(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	if to.Before(from) {
		return 0, fmt.Errorf("backfill range is inverted: %s after %s", common.FormatDate(from), common.FormatDate(to))
	}
	if _, err := jm.storage.LedgerStore().GetAccount(ctx, accountID); err != nil {
		return 0, err
	}

	queued := 0
	for _, d := range common.TradingDaysBetween(from, to) {
		ok, err := jm.enqueueIfNeeded(ctx, &models.Job{
			JobType:   models.JobTypeComputeSnapshot,
			AccountID: accountID,
			AsOfDate:  common.FormatDate(d),
			Priority:  models.PriorityBackfill,
		})
		if err != nil {
			return queued, fmt.Errorf("failed to enqueue backfill for '%s' on %s: %w", accountID, common.FormatDate(d), err)
		}
		if ok {
			queued++
		}
	}

	jm.logger.Info().
		Str("account_id", accountID).
		Str("from", common.FormatDate(from)).
		Str("to", common.FormatDate(to)).
		Int("queued", queued).
		Msg("Backfill enqueued")
	return queued, nil
}

// EnqueueUserView queues a materialized roll-up for a user and date.
func (jm *JobManager) EnqueueUserView(ctx context.Context, userID string, asOf time.Time) error {
	_, err := jm.enqueueIfNeeded(ctx, &models.Job{
		JobType:  models.JobTypeComputeUserView,
		UserID:   userID,
		AsOfDate: common.FormatDate(asOf),
		Priority: models.PriorityUserView,
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue user view for '%s': %w", userID, err)
	}
	return nil
}

// CancelAccount cancels every pending job for the account. A job already running
// finishes its current date.
func (jm *JobManager) CancelAccount(ctx context.Context, accountID string) (int, error) {
	n, err := jm.storage.JobQueueStore().CancelByAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	jm.logger.Info().Str("account_id", accountID).Int("cancelled", n).Msg("Account jobs cancelled")
	return n, nil
}

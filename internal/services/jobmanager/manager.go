// Package jobmanager runs queued analytics work: per-(account, date) snapshot jobs
// and per-(user, date) roll-up jobs, with a watcher that keeps the latest date current.
package jobmanager

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
)

// JobManager runs the watcher and processor loops.
// Processors claim jobs from the persistent queue; at most one job per subject
// (account, or user for roll-ups) runs at a time, oldest as-of date first.
type JobManager struct {
	analytics interfaces.AnalyticsService
	storage   interfaces.StorageManager
	logger    *common.Logger
	hub       *JobWSHub
	config    common.JobsConfig
	limiter   *rate.Limiter

	mu     sync.Mutex
	active map[string]bool // subjects with a job in flight

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewJobManager creates a new job manager.
func NewJobManager(
	analytics interfaces.AnalyticsService,
	storage interfaces.StorageManager,
	logger *common.Logger,
	config common.JobsConfig,
) *JobManager {
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	return &JobManager{
		analytics: analytics,
		storage:   storage,
		logger:    logger,
		hub:       NewJobWSHub(logger),
		config:    config,
		limiter:   rate.NewLimiter(limit, 1),
		active:    make(map[string]bool),
		now:       time.Now,
	}
}

// safeGo launches a goroutine with panic recovery and logging.
func (jm *JobManager) safeGo(name string, fn func()) {
	jm.wg.Add(1)
	go func() {
		defer jm.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				jm.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job manager goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the watcher loop and processor pool.
// Safe to call multiple times: stops any existing loops before starting.
func (jm *JobManager) Start() {
	if jm.cancel != nil {
		jm.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	jm.cancel = cancel

	// Reset orphaned jobs from previous crash
	if count, err := jm.storage.JobQueueStore().ResetRunningJobs(ctx); err != nil {
		jm.logger.Warn().Err(err).Msg("Failed to reset orphaned running jobs")
	} else if count > 0 {
		jm.logger.Info().Int("count", count).Msg("Reset orphaned running jobs to pending")
	}

	jm.safeGo("watcher", func() { jm.watchLoop(ctx) })

	maxConc := jm.config.MaxConcurrent
	if maxConc <= 0 {
		maxConc = 4
	}
	for i := 0; i < maxConc; i++ {
		name := fmt.Sprintf("processor-%d", i)
		jm.safeGo(name, func() { jm.processLoop(ctx) })
	}

	jm.logger.Info().
		Str("watcher_interval", jm.config.GetWatcherInterval().String()).
		Int("max_concurrent", maxConc).
		Float64("rate_limit", jm.config.RateLimit).
		Msg("Job manager started")
}

// Stop cancels all loops, disconnects event subscribers and waits for completion.
func (jm *JobManager) Stop() {
	if jm.cancel != nil {
		jm.cancel()
		jm.cancel = nil
	}
	jm.hub.Stop()
	jm.wg.Wait()
	jm.logger.Info().Msg("Job manager stopped")
}

// Hub returns the WebSocket hub for external handler registration.
func (jm *JobManager) Hub() *JobWSHub {
	return jm.hub
}

// processLoop continuously claims and executes jobs.
func (jm *JobManager) processLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !jm.processNext(ctx) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(1 * time.Second):
			}
		}
	}
}

// processNext runs one job if any is ready. It returns false when the queue had
// nothing claimable so the caller can back off.
func (jm *JobManager) processNext(ctx context.Context) bool {
	job, err := jm.dequeue(ctx)
	if err != nil {
		jm.logger.Warn().Err(err).Msg("Processor: dequeue error")
		return false
	}
	if job == nil {
		return false
	}
	defer jm.release(job)

	start := time.Now()
	execErr := jm.executeJob(ctx, job)
	durationMS := time.Since(start).Milliseconds()
	jobDuration.WithLabelValues(job.JobType).Observe(time.Since(start).Seconds())

	if execErr != nil {
		jm.logger.Warn().
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Str("subject", job.Subject()).
			Str("as_of_date", job.AsOfDate).
			Int64("duration_ms", durationMS).
			Err(execErr).
			Msg("Job failed")

		// Re-queue if under max attempts, unless we are shutting down
		if job.Attempts < job.MaxAttempts && ctx.Err() == nil {
			jm.logger.Info().
				Str("job_id", job.ID).
				Int("attempt", job.Attempts).
				Int("max", job.MaxAttempts).
				Msg("Re-queuing failed job")

			job.Error = execErr.Error()
			if err := jm.storage.JobQueueStore().Requeue(ctx, job); err != nil {
				jm.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to re-queue job")
			} else {
				jobsProcessed.WithLabelValues(job.JobType, "retried").Inc()
				return true
			}
		}
	} else {
		jm.logger.Debug().
			Str("job_id", job.ID).
			Str("job_type", job.JobType).
			Str("subject", job.Subject()).
			Str("as_of_date", job.AsOfDate).
			Int64("duration_ms", durationMS).
			Msg("Job completed")
	}

	jm.complete(ctx, job, execErr, durationMS)
	return true
}

// Compile-time check
var _ interfaces.JobService = (*JobManager)(nil)

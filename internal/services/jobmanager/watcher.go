package jobmanager

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// watchLoop periodically enqueues the latest trading date for every active account.
func (jm *JobManager) watchLoop(ctx context.Context) {
	interval := jm.config.GetWatcherInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run an initial scan immediately
	jm.scanAccounts(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jm.scanAccounts(ctx)
		}
	}
}

// scanAccounts enqueues a latest-date snapshot for each active, analysable account
// and a roll-up for each user that has one.
func (jm *JobManager) scanAccounts(ctx context.Context) {
	asOf := common.LastTradingDay(jm.now())
	ledger := jm.storage.LedgerStore()

	users, err := ledger.ListUsers(ctx)
	if err != nil {
		jm.logger.Warn().Err(err).Msg("Watcher: failed to list users")
		return
	}

	enqueued, accounts := 0, 0
	for _, user := range users {
		accs, err := ledger.ListAccounts(ctx, user.ID)
		if err != nil {
			jm.logger.Warn().Str("user_id", user.ID).Err(err).Msg("Watcher: failed to list accounts")
			continue
		}

		userHasAccounts := false
		for _, acc := range accs {
			if !acc.Active || !acc.Type.Analysable() {
				continue
			}
			accounts++
			userHasAccounts = true
			ok, err := jm.enqueueIfNeeded(ctx, &models.Job{
				JobType:   models.JobTypeComputeSnapshot,
				AccountID: acc.ID,
				AsOfDate:  common.FormatDate(asOf),
				Priority:  models.PriorityLatestSnapshot,
			})
			if err != nil {
				jm.logger.Warn().Str("account_id", acc.ID).Err(err).Msg("Watcher: failed to enqueue snapshot")
			} else if ok {
				enqueued++
			}
		}

		if userHasAccounts {
			ok, err := jm.enqueueIfNeeded(ctx, &models.Job{
				JobType:  models.JobTypeComputeUserView,
				UserID:   user.ID,
				AsOfDate: common.FormatDate(asOf),
				Priority: models.PriorityUserView,
			})
			if err != nil {
				jm.logger.Warn().Str("user_id", user.ID).Err(err).Msg("Watcher: failed to enqueue user view")
			} else if ok {
				enqueued++
			}
		}
	}

	if enqueued > 0 {
		jm.logger.Info().Int("enqueued", enqueued).Int("accounts", accounts).Str("as_of_date", common.FormatDate(asOf)).Msg("Watcher: scan complete")
	} else {
		jm.logger.Debug().Int("accounts", accounts).Msg("Watcher: scan complete, nothing to enqueue")
	}

	jm.purgeOldJobs(ctx)
}

// purgeOldJobs removes finished jobs older than the configured purge duration.
func (jm *JobManager) purgeOldJobs(ctx context.Context) {
	cutoff := jm.now().Add(-jm.config.GetPurgeAfter())
	if n, err := jm.storage.JobQueueStore().PurgeCompleted(ctx, cutoff); err != nil {
		jm.logger.Warn().Err(err).Msg("Watcher: failed to purge old jobs")
	} else if n > 0 {
		jm.logger.Debug().Int("purged", n).Msg("Watcher: purged old jobs")
	}
}

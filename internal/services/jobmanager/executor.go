package jobmanager

import (
	"context"
	"fmt"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// executeJob dispatches a job to the analytics service based on job type.
func (jm *JobManager) executeJob(ctx context.Context, job *models.Job) error {
	asOf, err := common.ParseDate(job.AsOfDate)
	if err != nil {
		return err
	}

	switch job.JobType {
	case models.JobTypeComputeSnapshot:
		_, err := jm.analytics.ComputeSnapshot(ctx, job.AccountID, asOf)
		return err
	case models.JobTypeComputeUserView:
		_, err := jm.analytics.ComputeUserView(ctx, job.UserID, asOf, models.UserViewOptions{Persist: true})
		return err
	default:
		return fmt.Errorf("unknown job type: %s", job.JobType)
	}
}

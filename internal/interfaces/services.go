package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

// AnalyticsService computes, persists and rolls up analytics snapshots.
type AnalyticsService interface {
	// ComputeSnapshot computes and upserts the snapshot for one account and date.
	ComputeSnapshot(ctx context.Context, accountID string, asOf time.Time) (*models.AnalyticsSnapshot, error)

	// Backfill computes snapshots for every trading day in [from, to] in ascending order.
	// A failed date is recorded and skipped; cancelling ctx stops before the next date.
	Backfill(ctx context.Context, accountID string, from, to time.Time) (*models.BackfillReport, error)

	// ComputeUserView rolls up the user's active accounts for a date.
	ComputeUserView(ctx context.Context, userID string, asOf time.Time, opts models.UserViewOptions) (*models.UserPortfolioView, error)
}

// JobService manages queued analytics work.
type JobService interface {
	EnqueueSnapshot(ctx context.Context, accountID string, asOf time.Time, priority int) error
	EnqueueBackfill(ctx context.Context, accountID string, from, to time.Time) (int, error)
	EnqueueUserView(ctx context.Context, userID string, asOf time.Time) error
	CancelAccount(ctx context.Context, accountID string) (int, error)
}

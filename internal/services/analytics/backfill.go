package analytics

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// Backfill computes snapshots for every trading day in [from, to] in ascending order.
// A date that errors is recorded in the report and the run moves on. Cancelling ctx
// stops before the next date; snapshots already written are kept.
func (s *Service) Backfill(ctx context.Context, accountID string, from, to time.Time) (*models.BackfillReport, error) {
	from, to = common.DateOnly(from), common.DateOnly(to)
	if to.Before(from) {
		return nil, fmt.Errorf("backfill range %s..%s is inverted", common.FormatDate(from), common.FormatDate(to))
	}

	account, err := s.storage.LedgerStore().GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	report := &models.BackfillReport{
		AccountID: account.ID,
		From:      common.FormatDate(from),
		To:        common.FormatDate(to),
	}
	dates := common.TradingDaysBetween(from, to)

	s.logger.Info().
		Str("account_id", account.ID).
		Str("from", report.From).
		Str("to", report.To).
		Int("dates", len(dates)).
		Msg("Backfill started")

	for _, d := range dates {
		if ctx.Err() != nil {
			report.Cancelled = true
			break
		}

		entry := models.BackfillEntry{AsOfDate: common.FormatDate(d)}
		snap, write, err := s.upsert(ctx, account.ID, d)
		if err != nil {
			if ctx.Err() != nil {
				report.Cancelled = true
				break
			}
			entry.Error = err.Error()
			s.logger.Warn().Err(err).Str("account_id", account.ID).Str("as_of", entry.AsOfDate).Msg("Backfill date failed")
		} else {
			entry.Status = snap.Status
			entry.Changed = write.Changed
		}
		report.Results = append(report.Results, entry)
		backfillDates.Inc()
	}

	s.logger.Info().
		Str("account_id", account.ID).
		Int("computed", len(report.Results)).
		Int("failed", report.Failed()).
		Bool("cancelled", report.Cancelled).
		Msg("Backfill finished")
	return report, nil
}

// BackfillUser backfills every active analysable account of a user. Accounts run
// in parallel up to the backfill concurrency; each account still runs its dates in
// ascending order. An account that cannot be backfilled gets a report carrying the
// error and the others carry on. Reports are returned in account id order.
func (s *Service) BackfillUser(ctx context.Context, userID string, from, to time.Time) ([]*models.BackfillReport, error) {
	from, to = common.DateOnly(from), common.DateOnly(to)
	if to.Before(from) {
		return nil, fmt.Errorf("backfill range %s..%s is inverted", common.FormatDate(from), common.FormatDate(to))
	}

	accounts, err := s.storage.LedgerStore().ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for %s: %w", userID, err)
	}

	var active []*models.Account
	for _, a := range accounts {
		if a.Active && a.Type.Analysable() {
			active = append(active, a)
		}
	}

	reports := make([]*models.BackfillReport, len(active))
	var g errgroup.Group
	limit := s.config.Analytics.BackfillConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for i, a := range active {
		g.Go(func() error {
			report, err := s.Backfill(ctx, a.ID, from, to)
			if err != nil {
				s.logger.Warn().Err(err).Str("user_id", userID).Str("account_id", a.ID).Msg("Account backfill failed")
				report = &models.BackfillReport{
					AccountID: a.ID,
					From:      common.FormatDate(from),
					To:        common.FormatDate(to),
					Error:     err.Error(),
				}
			}
			reports[i] = report
			return nil
		})
	}
	g.Wait()
	return reports, nil
}

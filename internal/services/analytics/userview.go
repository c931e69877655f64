package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/rollup"
)

// ComputeUserView rolls up the user's active, analysable accounts for asOf into the user's
// base currency. Account snapshots are loaded (or recomputed) concurrently; the roll-up
// starts only once every account has been gathered.
func (s *Service) ComputeUserView(ctx context.Context, userID string, asOf time.Time, opts models.UserViewOptions) (*models.UserPortfolioView, error) {
	start := time.Now()
	asOf = common.DateOnly(asOf)
	ledger := s.storage.LedgerStore()

	user, err := ledger.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	accounts, err := ledger.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for %s: %w", userID, err)
	}

	var active []*models.Account
	for _, a := range accounts {
		if a.Active && a.Type.Analysable() {
			active = append(active, a)
		}
	}

	inputs := make([]rollup.Input, len(active))
	g, gctx := errgroup.WithContext(ctx)
	limit := s.config.Analytics.BackfillConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)

	for i, a := range active {
		inputs[i].Account = a
		g.Go(func() error {
			snap, err := s.accountSnapshot(gctx, a, asOf, opts.Recompute)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// a missing snapshot becomes a gap in the view
				s.logger.Warn().Err(err).Str("user_id", userID).Str("account_id", a.ID).Msg("Account snapshot unavailable for roll-up")
				return nil
			}
			inputs[i].Snapshot = snap
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	currency := user.BaseCurrency
	if currency == "" {
		currency = s.config.BaseCurrency
	}
	view, err := s.roller.Roll(ctx, user.ID, asOf, currency, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to roll up user %s: %w", userID, err)
	}

	if opts.Persist {
		write, err := s.storage.SnapshotStore().SaveUserView(ctx, view)
		if err != nil {
			return nil, fmt.Errorf("failed to save user view %s: %w", userID, err)
		}
		s.logger.Debug().Str("user_id", userID).Int("version", write.Version).Bool("changed", write.Changed).Msg("User view saved")
	}

	userViews.WithLabelValues(string(view.Status)).Inc()
	s.logger.Info().
		Str("user_id", userID).
		Str("as_of", view.AsOfDate).
		Str("currency", view.Currency).
		Str("status", string(view.Status)).
		Int("accounts", len(view.Accounts)).
		Int("gaps", len(view.Gaps)).
		Dur("elapsed", time.Since(start)).
		Msg("User view computed")
	return view, nil
}

func (s *Service) accountSnapshot(ctx context.Context, account *models.Account, asOf time.Time, recompute bool) (*models.AnalyticsSnapshot, error) {
	if recompute {
		return s.ComputeSnapshot(ctx, account.ID, asOf)
	}
	snap, err := s.storage.SnapshotStore().GetSnapshot(ctx, account.ID, asOf)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("no snapshot stored for %s on %s", account.ID, common.FormatDate(asOf))
	}
	return snap, err
}

// Package analytics computes, persists and rolls up account analytics snapshots.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/exposure"
	"github.com/bobmcallan/vire-analytics/internal/services/performance"
	"github.com/bobmcallan/vire-analytics/internal/services/pricing"
	"github.com/bobmcallan/vire-analytics/internal/services/returns"
	"github.com/bobmcallan/vire-analytics/internal/services/risk"
	"github.com/bobmcallan/vire-analytics/internal/services/rollup"
	"github.com/bobmcallan/vire-analytics/internal/services/valuation"
)

// Service implements AnalyticsService
type Service struct {
	storage   interfaces.StorageManager
	config    *common.Config
	resolver  *pricing.Resolver
	valuer    *valuation.Engine
	twr       *returns.Calculator
	perf      *performance.Calculator
	risk      *risk.Calculator
	exposure  *exposure.Aggregator
	roller    *rollup.Roller
	frequency models.Frequency
	logger    *common.Logger
}

// NewService creates a new analytics service
func NewService(storage interfaces.StorageManager, config *common.Config, logger *common.Logger) *Service {
	market := storage.MarketStore()
	ac := config.Analytics

	resolver := pricing.NewResolver(market, market, ac.StalenessTradingDays, logger)
	agg := exposure.NewAggregator(ac.TopHoldings)

	freq, err := models.ParseFrequency(ac.Frequency)
	if err != nil {
		freq = models.FrequencyDaily
	}

	return &Service{
		storage:   storage,
		config:    config,
		resolver:  resolver,
		valuer:    valuation.NewEngine(resolver, market, logger),
		twr:       returns.NewCalculator(logger),
		perf:      performance.NewCalculator(ac.TradingDaysPerYear, logger),
		risk:      risk.NewCalculator(ac, logger),
		exposure:  agg,
		roller:    rollup.NewRoller(resolver, agg, logger),
		frequency: freq,
		logger:    logger,
	}
}

// ComputeSnapshot computes and upserts the snapshot for one account and date.
func (s *Service) ComputeSnapshot(ctx context.Context, accountID string, asOf time.Time) (*models.AnalyticsSnapshot, error) {
	snap, _, err := s.upsert(ctx, accountID, asOf)
	return snap, err
}

func (s *Service) upsert(ctx context.Context, accountID string, asOf time.Time) (*models.AnalyticsSnapshot, *interfaces.SnapshotWrite, error) {
	start := time.Now()
	asOf = common.DateOnly(asOf)

	account, err := s.storage.LedgerStore().GetAccount(ctx, accountID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	snap, err := s.Compute(ctx, account, asOf)
	if err != nil {
		computeErrors.Inc()
		return nil, nil, err
	}

	write, err := s.storage.SnapshotStore().SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save snapshot %s: %w", snap.Key(), err)
	}

	snapshotsComputed.WithLabelValues(string(snap.Status)).Inc()
	snapshotWrites.WithLabelValues(fmt.Sprintf("%t", write.Changed)).Inc()
	computeDuration.Observe(time.Since(start).Seconds())

	s.logger.Info().
		Str("account_id", accountID).
		Str("as_of", snap.AsOfDate).
		Str("status", string(snap.Status)).
		Str("reason", snap.Reason).
		Int("version", write.Version).
		Bool("changed", write.Changed).
		Dur("elapsed", time.Since(start)).
		Msg("Snapshot computed")

	if s.config.Charts.Enabled && write.Changed {
		s.writeChart(account, snap)
	}
	return snap, write, nil
}

// Compute builds the snapshot for account on asOf without persisting it. It reads only from
// the stores and produces identical output for identical inputs.
func (s *Service) Compute(ctx context.Context, account *models.Account, asOf time.Time) (*models.AnalyticsSnapshot, error) {
	asOf = common.DateOnly(asOf)
	snap := &models.AnalyticsSnapshot{
		AccountID: account.ID,
		AsOfDate:  common.FormatDate(asOf),
		Currency:  account.Currency,
		Status:    models.StatusOK,
	}

	hist, err := s.history(ctx, account, asOf)
	if err != nil {
		return nil, err
	}
	if hist.current == nil {
		snap.Status = models.StatusFailed
		snap.Reason = hist.failure
		s.logger.Warn().Str("account_id", account.ID).Str("as_of", snap.AsOfDate).Str("reason", snap.Reason).Msg("Snapshot failed")
		return snap, nil
	}

	from := hist.from
	txs, err := s.storage.LedgerStore().GetTransactions(ctx, account.ID, from, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for %s: %w", account.ID, err)
	}

	series := s.twr.Calculate(hist.nav, txs, s.frequency)
	bench, err := s.benchmark(ctx, s.config.Analytics.BenchmarkSymbol, from, asOf)
	if err != nil {
		return nil, err
	}
	riskFree, err := s.benchmark(ctx, s.config.Analytics.RiskFreeSymbol, from, asOf)
	if err != nil {
		return nil, err
	}

	snap.Summary = summarize(hist.current, series, txs, from, asOf)
	snap.Performance = s.perf.Calculate(performance.Inputs{
		Series:          series,
		Transactions:    txs,
		BenchmarkSymbol: s.config.Analytics.BenchmarkSymbol,
		Benchmark:       bench,
		RiskFree:        riskFree,
	})

	positions := make([]decimal.Decimal, len(hist.current.Positions))
	for i, p := range hist.current.Positions {
		positions[i] = p.Value
	}
	snap.Risk = s.risk.Calculate(risk.Inputs{
		Series:        series,
		Positions:     positions,
		ExpectedDates: hist.expected,
		CompleteDates: len(hist.nav),
	})
	snap.Exposure = s.exposure.Aggregate(hist.current)

	snap.Status, snap.Reason = assignStatus(hist, series)
	return snap, nil
}

// valuationHistory is the account valued on every holdings date in the lookback window.
type valuationHistory struct {
	from     time.Time
	current  *valuation.Result // valuation on the as-of date; nil when failed
	failure  string
	nav      []returns.NAVPoint // fully valued dates only
	expected int
	skipped  []string // dates left out of the NAV series
}

// history values the account on each holdings date in (asOf − lookback, asOf] and on asOf
// itself, using the latest holdings set recorded on or before each date.
func (s *Service) history(ctx context.Context, account *models.Account, asOf time.Time) (*valuationHistory, error) {
	ledger := s.storage.LedgerStore()
	lookback := s.config.Analytics.LookbackDays
	if lookback <= 0 {
		lookback = 730
	}
	h := &valuationHistory{from: asOf.AddDate(0, 0, -lookback)}

	allDates, err := ledger.HoldingDates(ctx, account.ID, time.Time{}, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings dates for %s: %w", account.ID, err)
	}
	if len(allDates) == 0 {
		h.failure = "no holdings recorded on or before " + common.FormatDate(asOf)
		return h, nil
	}

	// the series opens on the last set at or before the window start
	start := 0
	for i, d := range allDates {
		if !common.DateOnly(d).After(h.from) {
			start = i
		}
	}
	type observation struct{ date, set time.Time }
	var obs []observation
	for _, d := range allDates[start:] {
		d = common.DateOnly(d)
		if d.Before(asOf) {
			obs = append(obs, observation{d, d})
		}
	}
	obs = append(obs, observation{asOf, common.DateOnly(allDates[len(allDates)-1])})
	if obs[0].date.Before(h.from) {
		h.from = obs[0].date
	}
	h.expected = len(obs)

	for _, o := range obs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d := o.date
		key := common.FormatDate(d)
		holdings, err := ledger.GetHoldings(ctx, account.ID, o.set)
		if err != nil {
			return nil, fmt.Errorf("failed to load holdings for %s on %s: %w", account.ID, key, err)
		}

		res, err := s.valuer.Value(ctx, account, holdings, d, account.Currency)
		isAsOf := d.Equal(asOf)
		switch {
		case errors.Is(err, models.ErrNoValidPrices):
			if isAsOf {
				h.failure = err.Error()
				return h, nil
			}
			h.skipped = append(h.skipped, key)
			continue
		case err != nil:
			return nil, err
		}

		if isAsOf {
			h.current = res
		}
		if !res.Complete() {
			h.skipped = append(h.skipped, key)
			continue
		}
		h.nav = append(h.nav, returns.NAVPoint{Date: d, Value: res.MarketValue})
	}
	return h, nil
}

func (s *Service) benchmark(ctx context.Context, symbol string, from, to time.Time) ([]models.BenchmarkReturn, error) {
	if symbol == "" {
		return nil, nil
	}
	out, err := s.storage.MarketStore().GetReturns(ctx, symbol, from, to)
	if errors.Is(err, models.ErrNoData) || errors.Is(err, models.ErrNotFound) {
		s.logger.Debug().Str("symbol", symbol).Msg("No benchmark series stored")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load benchmark %s: %w", symbol, err)
	}
	return out, nil
}

func summarize(res *valuation.Result, series *returns.Series, txs []models.Transaction, from, asOf time.Time) models.SummaryFacet {
	f := models.SummaryFacet{
		MarketValue:     models.AmountOf(res.MarketValue),
		CostBasis:       models.AmountOf(res.CostBasis),
		CashBalance:     models.AmountOf(res.CashBalance),
		UnrealizedGain:  models.AmountOf(res.UnrealizedGain),
		NetFlows:        models.AmountOf(returns.NetFlows(txs, from, asOf)),
		ByAssetClass:    res.ByAssetClass,
		ByGeography:     res.ByGeography,
		HoldingCount:    res.HoldingCount,
		PricedCount:     len(res.Positions),
		StalePriceCount: res.StaleCount,
		Unresolved:      res.Unresolved,
	}
	if !res.LastPriceDate.IsZero() {
		f.LastPriceDate = common.FormatDate(res.LastPriceDate)
	}

	if res.CostBasis.IsZero() {
		f.UnrealizedGainPct = models.Null(models.NullZeroDenominator)
	} else {
		f.UnrealizedGainPct = models.Value(res.UnrealizedGain.Div(res.CostBasis.Abs()).InexactFloat64())
	}

	f.DailyReturn = models.Null(models.NullInsufficientHistory)
	if n := len(series.Periods); n > 0 && series.Periods[n-1].End.Equal(asOf) {
		f.DailyReturn = models.Value(series.Periods[n-1].Return)
	}

	f.Nulls = models.NullReasons(f.WeightedFields())
	return f
}

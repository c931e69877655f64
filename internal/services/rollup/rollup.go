// Package rollup aggregates per-account snapshots into a user-level view.
package rollup

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/exposure"
	"github.com/bobmcallan/vire-analytics/internal/services/pricing"
	"github.com/bobmcallan/vire-analytics/internal/services/valuation"
)

// Input is one active account and its snapshot for the date. Snapshot is nil when missing.
type Input struct {
	Account  *models.Account
	Snapshot *models.AnalyticsSnapshot
}

// Roller builds user views. It only reads the snapshots it is given.
type Roller struct {
	resolver   *pricing.Resolver
	aggregator *exposure.Aggregator
	logger     *common.Logger
}

// NewRoller creates a Roller converting through resolver.
func NewRoller(resolver *pricing.Resolver, aggregator *exposure.Aggregator, logger *common.Logger) *Roller {
	return &Roller{resolver: resolver, aggregator: aggregator, logger: logger}
}

// contribution is an account snapshot converted into the view currency.
type contribution struct {
	snap   *models.AnalyticsSnapshot
	rate   *pricing.RatePoint
	value  decimal.Decimal // converted market value
	weight float64         // converted market value as float, for weighted fields
}

// Roll builds the user view for asOf in currency. Accounts without a usable snapshot or FX
// rate become gaps; they never contribute zeros.
func (r *Roller) Roll(ctx context.Context, userID string, asOf time.Time, currency string, inputs []Input) (*models.UserPortfolioView, error) {
	currency = strings.ToUpper(currency)
	asOf = common.DateOnly(asOf)
	view := &models.UserPortfolioView{
		UserID:   userID,
		AsOfDate: common.FormatDate(asOf),
		Currency: currency,
		Status:   models.StatusOK,
		Exposure: models.ExposureFacet{Allocations: make(map[models.Dimension]models.Allocation)},
	}

	sorted := make([]Input, len(inputs))
	copy(sorted, inputs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Account.ID < sorted[j].Account.ID })

	var contribs []contribution
	for _, in := range sorted {
		c, gap, err := r.contribute(ctx, in, asOf, currency)
		if err != nil {
			return nil, err
		}
		if gap != "" {
			r.logger.Warn().
				Str("user_id", userID).
				Str("account_id", in.Account.ID).
				Str("reason", gap).
				Msg("Account left out of user view")
			view.Gaps = append(view.Gaps, models.Gap{AccountID: in.Account.ID, Reason: gap})
			continue
		}
		contribs = append(contribs, *c)
	}

	if len(contribs) == 0 {
		view.Status = models.StatusFailed
		view.Reason = "no account snapshots available"
		return view, nil
	}

	r.sumAdditive(view, contribs)
	r.weightFields(view, contribs)
	r.mergeExposure(view, contribs)

	total := view.Summary.MarketValue.Decimal
	for _, c := range contribs {
		w := 0.0
		if !total.IsZero() {
			w = c.value.Div(total).InexactFloat64()
		}
		view.Accounts = append(view.Accounts, models.AccountContribution{
			AccountID:   c.snap.AccountID,
			Currency:    c.snap.Currency,
			Status:      c.snap.Status,
			MarketValue: models.AmountOf(c.value),
			FxRate:      c.rate.Rate,
			FxStale:     c.rate.Stale,
			Weight:      w,
		})
		view.Status = view.Status.Worse(c.snap.Status)
	}
	if len(view.Gaps) > 0 {
		view.Status = view.Status.Worse(models.StatusPartial)
		view.Reason = fmt.Sprintf("%d of %d accounts missing", len(view.Gaps), len(sorted))
	}
	return view, nil
}

func (r *Roller) contribute(ctx context.Context, in Input, asOf time.Time, currency string) (*contribution, string, error) {
	snap := in.Snapshot
	switch {
	case snap == nil:
		return nil, "no snapshot for date", nil
	case snap.Status == models.StatusFailed:
		reason := "snapshot failed"
		if snap.Reason != "" {
			reason += ": " + snap.Reason
		}
		return nil, reason, nil
	}

	rate, err := r.resolver.ResolveRate(ctx, snap.Currency, currency, asOf)
	if err != nil {
		var re *models.ResolutionError
		if errors.As(err, &re) {
			return nil, re.Error(), nil
		}
		return nil, "", fmt.Errorf("convert account %s: %w", snap.AccountID, err)
	}

	value := common.RoundMoney(snap.Summary.MarketValue.Mul(rate.Rate), currency)
	return &contribution{snap: snap, rate: rate, value: value, weight: value.InexactFloat64()}, "", nil
}

// sumAdditive converts and sums the money fields. Breakdowns are re-allocated against each
// account's converted total so they keep summing exactly to the view total.
func (r *Roller) sumAdditive(view *models.UserPortfolioView, contribs []contribution) {
	ccy := view.Currency
	sum := &view.Summary

	for _, c := range contribs {
		s := c.snap.Summary
		rate := c.rate.Rate
		cost := common.RoundMoney(s.CostBasis.Mul(rate), ccy)

		sum.MarketValue = add(sum.MarketValue, c.value)
		sum.CostBasis = add(sum.CostBasis, cost)
		sum.CashBalance = add(sum.CashBalance, common.RoundMoney(s.CashBalance.Mul(rate), ccy))
		sum.UnrealizedGain = add(sum.UnrealizedGain, c.value.Sub(cost))
		sum.NetFlows = add(sum.NetFlows, common.RoundMoney(s.NetFlows.Mul(rate), ccy))

		byClass := make(map[models.AssetClass]decimal.Decimal)
		for _, ac := range models.AssetClasses {
			byClass[ac] = s.ByAssetClass.Bucket(ac).Mul(rate)
		}
		for ac, v := range valuation.Allocate(c.value, byClass, models.AssetClasses, ccy) {
			b := sum.ByAssetClass.Bucket(ac)
			*b = add(*b, v)
		}

		byGeo := make(map[models.Geography]decimal.Decimal)
		for _, g := range models.Geographies {
			byGeo[g] = s.ByGeography.Bucket(g).Mul(rate)
		}
		for g, v := range valuation.Allocate(c.value, byGeo, models.Geographies, ccy) {
			b := sum.ByGeography.Bucket(g)
			*b = add(*b, v)
		}

		sum.HoldingCount += s.HoldingCount
		sum.PricedCount += s.PricedCount
		sum.StalePriceCount += s.StalePriceCount
		if s.LastPriceDate > sum.LastPriceDate {
			sum.LastPriceDate = s.LastPriceDate
		}
		for _, u := range s.Unresolved {
			sum.Unresolved = append(sum.Unresolved, models.UnresolvedHolding{
				SecurityID: u.SecurityID,
				Reason:     c.snap.AccountID + ": " + u.Reason,
			})
		}
	}
}

// weightFields sets every weighted field to Σ(m·v)/Σv over accounts where m is defined.
func (r *Roller) weightFields(view *models.UserPortfolioView, contribs []contribution) {
	first := contribs[0].snap
	view.Performance.Frequency = first.Performance.Frequency
	view.Performance.BenchmarkSymbol = first.Performance.BenchmarkSymbol
	for _, t := range first.Risk.TailRisk {
		view.Risk.TailRisk = append(view.Risk.TailRisk, models.TailRisk{Confidence: t.Confidence})
	}

	type facet struct {
		target  []models.NamedWeighted
		sources func(*models.AnalyticsSnapshot) []models.NamedWeighted
	}
	facets := []facet{
		{view.Summary.WeightedFields(), func(s *models.AnalyticsSnapshot) []models.NamedWeighted { return s.Summary.WeightedFields() }},
		{view.Performance.WeightedFields(), func(s *models.AnalyticsSnapshot) []models.NamedWeighted { return s.Performance.WeightedFields() }},
		{view.Risk.WeightedFields(), func(s *models.AnalyticsSnapshot) []models.NamedWeighted { return s.Risk.WeightedFields() }},
	}

	for _, fc := range facets {
		bySnap := make([]map[string]models.Weighted, len(contribs))
		for i, c := range contribs {
			m := make(map[string]models.Weighted)
			for _, f := range fc.sources(c.snap) {
				m[f.Name] = *f.Field
			}
			bySnap[i] = m
		}
		for _, target := range fc.target {
			values := make([]models.Weighted, len(contribs))
			for i := range contribs {
				w, ok := bySnap[i][target.Name]
				if !ok {
					w = models.Null(models.NullUndefined)
				}
				values[i] = w
			}
			*target.Field = WeightedMean(values, weights(contribs))
		}
	}

	obs, benchObs := -1, -1
	for _, c := range contribs {
		p := c.snap.Performance
		if obs < 0 || p.Observations < obs {
			obs = p.Observations
		}
		if benchObs < 0 || p.BenchmarkObservations < benchObs {
			benchObs = p.BenchmarkObservations
		}
		if c.snap.Risk.Observations > view.Risk.Observations {
			view.Risk.Observations = c.snap.Risk.Observations
		}
		if p.LongestDrawdownDays > view.Performance.LongestDrawdownDays {
			view.Performance.LongestDrawdownDays = p.LongestDrawdownDays
		}
	}
	view.Performance.Observations = obs
	view.Performance.BenchmarkObservations = benchObs

	view.Summary.Nulls = models.NullReasons(view.Summary.WeightedFields())
	view.Performance.Nulls = models.NullReasons(view.Performance.WeightedFields())
	view.Risk.Nulls = models.NullReasons(view.Risk.WeightedFields())
}

func weights(contribs []contribution) []float64 {
	out := make([]float64, len(contribs))
	for i, c := range contribs {
		out[i] = c.weight
	}
	return out
}

// WeightedMean returns Σ(m·v)/Σv over the defined metrics. With no defined metric the first
// null reason is kept; a zero weight sum is a zero denominator.
func WeightedMean(metrics []models.Weighted, values []float64) models.Weighted {
	num, den := 0.0, 0.0
	defined := false
	reason := models.NullReason("")
	for i, m := range metrics {
		if !m.Valid {
			if reason == "" {
				reason = m.Reason
			}
			continue
		}
		defined = true
		num += m.Value * values[i]
		den += values[i]
	}
	if !defined {
		if reason == "" {
			reason = models.NullUndefined
		}
		return models.Null(reason)
	}
	if den == 0 {
		return models.Null(models.NullZeroDenominator)
	}
	return models.Value(num / den)
}

// mergeExposure sums converted group values and positions, then recomputes weights.
func (r *Roller) mergeExposure(view *models.UserPortfolioView, contribs []contribution) {
	ccy := view.Currency
	ex := &view.Exposure
	ex.TotalValue = view.Summary.MarketValue
	positions := make(map[string]*models.HoldingWeight)

	for _, c := range contribs {
		src := c.snap.Exposure
		for _, dim := range models.Dimensions {
			alloc := src.Allocations[dim]
			labels := make([]string, 0, len(alloc))
			exact := make(map[string]decimal.Decimal, len(alloc))
			for l, e := range alloc {
				labels = append(labels, l)
				exact[l] = e.Value.Mul(c.rate.Rate)
			}
			sort.Strings(labels)

			dst := ex.Allocations[dim]
			if dst == nil {
				dst = make(models.Allocation)
				ex.Allocations[dim] = dst
			}
			if len(labels) == 0 {
				continue
			}
			for l, v := range valuation.Allocate(c.value, exact, labels, ccy) {
				e := dst[l]
				e.Value = add(e.Value, v)
				dst[l] = e
			}
		}

		for _, p := range src.Positions {
			v := common.RoundMoney(p.Value.Mul(c.rate.Rate), ccy)
			if cur, ok := positions[p.SecurityID]; ok {
				cur.Value = add(cur.Value, v)
				continue
			}
			hw := p
			hw.Value = models.AmountOf(v)
			positions[p.SecurityID] = &hw
		}
	}

	ids := make([]string, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		ex.Positions = append(ex.Positions, *positions[id])
	}
	r.aggregator.Reweight(ex)
}

func add(a models.Amount, v decimal.Decimal) models.Amount {
	return models.AmountOf(a.Add(v))
}

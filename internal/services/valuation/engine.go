// Package valuation converts a holdings set at a date into market value and breakdowns.
package valuation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/pricing"
)

// Position is a valued holding. Value and CostBasis are exact (unrounded) in the target currency.
type Position struct {
	Holding    models.Holding
	Security   *models.Security
	Quote      *pricing.Quote
	Value      decimal.Decimal
	CostBasis  decimal.Decimal
	AssetClass models.AssetClass
	Geography  models.Geography
}

// Result is the valuation of one account on one date.
// Totals cover resolved positions only and are rounded to the currency's minor unit.
type Result struct {
	AccountID      string
	Date           time.Time
	Currency       string
	MarketValue    decimal.Decimal
	CostBasis      decimal.Decimal
	CashBalance    decimal.Decimal
	UnrealizedGain decimal.Decimal
	ByAssetClass   models.AssetClassBreakdown
	ByGeography    models.GeographyBreakdown
	Positions      []Position
	Unresolved     []models.UnresolvedHolding
	HoldingCount   int
	StaleCount     int
	LastPriceDate  time.Time
}

// Complete reports whether every holding was valued.
func (r *Result) Complete() bool {
	return len(r.Unresolved) == 0
}

// Engine values holdings using the price/rate resolver.
type Engine struct {
	resolver   *pricing.Resolver
	securities interfaces.SecurityMaster
	logger     *common.Logger
}

// NewEngine creates a valuation engine.
func NewEngine(resolver *pricing.Resolver, securities interfaces.SecurityMaster, logger *common.Logger) *Engine {
	return &Engine{resolver: resolver, securities: securities, logger: logger}
}

// Value values holdings for account on date in the target currency.
// Holdings whose price or rate cannot be resolved are listed in Unresolved and left out of totals.
// If holdings is non-empty and none resolve, the result is returned with an error wrapping
// models.ErrNoValidPrices.
func (e *Engine) Value(ctx context.Context, account *models.Account, holdings []models.Holding, date time.Time, target string) (*Result, error) {
	date = common.DateOnly(date)
	target = strings.ToUpper(target)
	res := &Result{
		AccountID:    account.ID,
		Date:         date,
		Currency:     target,
		HoldingCount: len(holdings),
	}

	for _, h := range holdings {
		pos, reason, err := e.valueHolding(ctx, account, h, date, target)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			e.logger.Warn().
				Str("account_id", account.ID).
				Str("security_id", h.SecurityID).
				Str("date", common.FormatDate(date)).
				Str("reason", reason).
				Msg("Holding left unresolved")
			res.Unresolved = append(res.Unresolved, models.UnresolvedHolding{SecurityID: h.SecurityID, Reason: reason})
			continue
		}
		if pos.Quote.Stale() {
			res.StaleCount++
		}
		if !pos.Security.IsCash() && pos.Quote.Price.PriceDate.After(res.LastPriceDate) {
			res.LastPriceDate = pos.Quote.Price.PriceDate
		}
		res.Positions = append(res.Positions, *pos)
	}

	sort.Slice(res.Positions, func(i, j int) bool {
		return res.Positions[i].Holding.SecurityID < res.Positions[j].Holding.SecurityID
	})
	sort.Slice(res.Unresolved, func(i, j int) bool {
		return res.Unresolved[i].SecurityID < res.Unresolved[j].SecurityID
	})

	e.summarize(res)

	if len(holdings) > 0 && len(res.Positions) == 0 {
		return res, fmt.Errorf("%w: account %s on %s (%d holdings)",
			models.ErrNoValidPrices, account.ID, common.FormatDate(date), len(holdings))
	}
	return res, nil
}

// valueHolding returns a position, or an unresolved reason, or a hard error.
func (e *Engine) valueHolding(ctx context.Context, account *models.Account, h models.Holding, date time.Time, target string) (*Position, string, error) {
	sec, err := e.securities.GetSecurity(ctx, h.SecurityID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrNoData) {
			return nil, "unknown security", nil
		}
		return nil, "", fmt.Errorf("security lookup %s: %w", h.SecurityID, err)
	}

	q, err := e.resolver.Quote(ctx, sec, date, target)
	if err != nil {
		var re *models.ResolutionError
		if errors.As(err, &re) {
			return nil, re.Error(), nil
		}
		return nil, "", err
	}

	return &Position{
		Holding:    h,
		Security:   sec,
		Quote:      q,
		Value:      h.Quantity.Mul(q.UnitValue()),
		CostBasis:  h.CostBasis.Mul(q.Rate.Rate),
		AssetClass: sec.Type.AssetClass(),
		Geography:  geographyOf(sec, account),
	}, "", nil
}

// summarize computes rounded totals and breakdowns that sum exactly to the total.
func (e *Engine) summarize(res *Result) {
	ccy := res.Currency
	exactTotal, exactCost, exactCash := decimal.Zero, decimal.Zero, decimal.Zero
	byClass := make(map[models.AssetClass]decimal.Decimal)
	byGeo := make(map[models.Geography]decimal.Decimal)

	for _, p := range res.Positions {
		exactTotal = exactTotal.Add(p.Value)
		exactCost = exactCost.Add(p.CostBasis)
		if p.AssetClass == models.AssetClassCash {
			exactCash = exactCash.Add(p.Value)
		}
		byClass[p.AssetClass] = byClass[p.AssetClass].Add(p.Value)
		byGeo[p.Geography] = byGeo[p.Geography].Add(p.Value)
	}

	res.MarketValue = common.RoundMoney(exactTotal, ccy)
	res.CostBasis = common.RoundMoney(exactCost, ccy)
	res.CashBalance = common.RoundMoney(exactCash, ccy)
	res.UnrealizedGain = res.MarketValue.Sub(res.CostBasis)

	for c, v := range Allocate(res.MarketValue, byClass, models.AssetClasses, ccy) {
		*res.ByAssetClass.Bucket(c) = models.AmountOf(v)
	}
	for g, v := range Allocate(res.MarketValue, byGeo, models.Geographies, ccy) {
		*res.ByGeography.Bucket(g) = models.AmountOf(v)
	}
}

// Allocate rounds each bucket to the currency's minor unit and adds the residual against
// total to the largest bucket by absolute value (first in order on ties), so the buckets
// sum exactly to total.
func Allocate[K comparable](total decimal.Decimal, exact map[K]decimal.Decimal, order []K, ccy string) map[K]decimal.Decimal {
	out := make(map[K]decimal.Decimal, len(order))
	sum := decimal.Zero
	for _, k := range order {
		v := common.RoundMoney(exact[k], ccy)
		out[k] = v
		sum = sum.Add(v)
	}

	residual := total.Sub(sum)
	if residual.IsZero() || len(order) == 0 {
		return out
	}

	largest := order[0]
	for _, k := range order[1:] {
		if out[k].Abs().GreaterThan(out[largest].Abs()) {
			largest = k
		}
	}
	out[largest] = out[largest].Add(residual)
	return out
}

// geographyOf classifies a security relative to the account's base country.
// Without a country the security's currency decides.
func geographyOf(sec *models.Security, account *models.Account) models.Geography {
	if sec.Country == "" {
		if strings.EqualFold(sec.Currency, account.Currency) {
			return models.GeographyDomestic
		}
		return models.GeographyInternational
	}
	if strings.EqualFold(sec.Country, account.BaseCountry) {
		return models.GeographyDomestic
	}
	return models.GeographyInternational
}

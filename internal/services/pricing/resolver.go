// Package pricing resolves close prices and FX rates with bounded carry-forward.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// DefaultStalenessWindow is the carry-forward bound in trading days.
const DefaultStalenessWindow = 5

// PricePoint is a resolved close price.
type PricePoint struct {
	SecurityID string
	Date       time.Time // requested date
	PriceDate  time.Time // date of the record used
	Price      decimal.Decimal
	Currency   string
	Stale      bool
}

// RatePoint is a resolved FX rate converting one unit of From into Rate units of To.
type RatePoint struct {
	From     string
	To       string
	Date     time.Time
	RateDate time.Time
	Rate     decimal.Decimal
	Stale    bool
	Inverted bool // derived as 1/(To->From)
}

// Quote is a price converted into a target currency.
type Quote struct {
	Price PricePoint
	Rate  RatePoint
}

// UnitValue is the value of one unit of the security in the target currency.
func (q *Quote) UnitValue() decimal.Decimal {
	return q.Price.Price.Mul(q.Rate.Rate)
}

// Stale reports whether either leg was carried forward.
func (q *Quote) Stale() bool {
	return q.Price.Stale || q.Rate.Stale
}

// Resolver looks up prices and rates, walking back over prior trading days up to the window.
// It holds no mutable state and is safe for concurrent use.
type Resolver struct {
	prices interfaces.PriceProvider
	rates  interfaces.FxProvider
	window int
	logger *common.Logger
}

// NewResolver creates a Resolver. A negative window falls back to the default.
func NewResolver(prices interfaces.PriceProvider, rates interfaces.FxProvider, window int, logger *common.Logger) *Resolver {
	if window < 0 {
		window = DefaultStalenessWindow
	}
	return &Resolver{prices: prices, rates: rates, window: window, logger: logger}
}

// Window returns the staleness window in trading days.
func (r *Resolver) Window() int {
	return r.window
}

// ResolvePrice returns the exact close for date, else the most recent prior close within the window.
func (r *Resolver) ResolvePrice(ctx context.Context, securityID string, date time.Time) (*PricePoint, error) {
	date = common.DateOnly(date)
	for _, d := range common.LookbackDates(date, r.window) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := r.prices.GetPrice(ctx, securityID, d)
		if errors.Is(err, models.ErrNoData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("price lookup %s on %s: %w", securityID, common.FormatDate(d), err)
		}
		return &PricePoint{
			SecurityID: securityID,
			Date:       date,
			PriceDate:  d,
			Price:      p.Close,
			Currency:   strings.ToUpper(p.Currency),
			Stale:      !d.Equal(date),
		}, nil
	}
	return nil, &models.ResolutionError{
		Kind:    models.ErrPriceUnavailable,
		Subject: securityID,
		Date:    date,
		Window:  r.window,
	}
}

// ResolveRate returns the from->to rate for date under the same carry-forward policy.
// On each candidate date the direct pair is tried first, then the inverse pair.
func (r *Resolver) ResolveRate(ctx context.Context, from, to string, date time.Time) (*RatePoint, error) {
	date = common.DateOnly(date)
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return &RatePoint{From: from, To: to, Date: date, RateDate: date, Rate: decimal.NewFromInt(1)}, nil
	}

	for _, d := range common.LookbackDates(date, r.window) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rate, inverted, err := r.lookupRate(ctx, from, to, d)
		if errors.Is(err, models.ErrNoData) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rate lookup %s/%s on %s: %w", from, to, common.FormatDate(d), err)
		}
		return &RatePoint{
			From:     from,
			To:       to,
			Date:     date,
			RateDate: d,
			Rate:     rate,
			Stale:    !d.Equal(date),
			Inverted: inverted,
		}, nil
	}
	return nil, &models.ResolutionError{
		Kind:    models.ErrRateUnavailable,
		Subject: from + "/" + to,
		Date:    date,
		Window:  r.window,
	}
}

func (r *Resolver) lookupRate(ctx context.Context, from, to string, d time.Time) (decimal.Decimal, bool, error) {
	fx, err := r.rates.GetRate(ctx, from, to, d)
	if err == nil && fx.Rate.IsPositive() {
		return fx.Rate, false, nil
	}
	if err != nil && !errors.Is(err, models.ErrNoData) {
		return decimal.Zero, false, err
	}

	inv, err := r.rates.GetRate(ctx, to, from, d)
	if err == nil && inv.Rate.IsPositive() {
		return decimal.NewFromInt(1).Div(inv.Rate), true, nil
	}
	if err != nil && !errors.Is(err, models.ErrNoData) {
		return decimal.Zero, false, err
	}
	return decimal.Zero, false, models.ErrNoData
}

// Quote resolves a security's price on date converted into target.
// Cash positions are priced at 1 unit of their own currency.
func (r *Resolver) Quote(ctx context.Context, sec *models.Security, date time.Time, target string) (*Quote, error) {
	date = common.DateOnly(date)

	var price *PricePoint
	if sec.IsCash() {
		price = &PricePoint{
			SecurityID: sec.ID,
			Date:       date,
			PriceDate:  date,
			Price:      decimal.NewFromInt(1),
			Currency:   strings.ToUpper(sec.Currency),
		}
	} else {
		p, err := r.ResolvePrice(ctx, sec.ID, date)
		if err != nil {
			return nil, err
		}
		if p.Currency == "" {
			p.Currency = strings.ToUpper(sec.Currency)
		}
		price = p
	}

	rate, err := r.ResolveRate(ctx, price.Currency, target, date)
	if err != nil {
		return nil, err
	}

	if price.Stale || rate.Stale {
		r.logger.Debug().
			Str("security_id", sec.ID).
			Str("date", common.FormatDate(date)).
			Str("price_date", common.FormatDate(price.PriceDate)).
			Str("rate_date", common.FormatDate(rate.RateDate)).
			Msg("Using carried-forward market data")
	}

	return &Quote{Price: *price, Rate: *rate}, nil
}

package returns

import (
	"math"
	"sort"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

// cashFlow is an investor-side flow: negative = money in to the account, positive = money out.
type cashFlow struct {
	date   time.Time
	amount float64
}

// MoneyWeighted computes the annualised money-weighted return (XIRR) of the series window.
// The opening NAV is treated as an investment, external flows as further investments or
// withdrawals, and the closing NAV as the terminal value.
func MoneyWeighted(s *Series, txs []models.Transaction) (float64, error) {
	if len(s.NAV) < 2 {
		return 0, models.ErrInsufficientHistory
	}
	first, last := s.NAV[0], s.NAV[len(s.NAV)-1]

	flows := []cashFlow{{date: first.Date, amount: -first.Value.InexactFloat64()}}
	for _, f := range externalFlows(txs) {
		if f.date.After(first.Date) && !f.date.After(last.Date) {
			flows = append(flows, cashFlow{date: f.date, amount: -f.amount.InexactFloat64()})
		}
	}
	flows = append(flows, cashFlow{date: last.Date, amount: last.Value.InexactFloat64()})

	sort.SliceStable(flows, func(i, j int) bool { return flows[i].date.Before(flows[j].date) })

	hasNeg, hasPos := false, false
	for _, f := range flows {
		if f.amount < 0 {
			hasNeg = true
		}
		if f.amount > 0 {
			hasPos = true
		}
	}
	if !hasNeg || !hasPos {
		return 0, models.ErrZeroDenominator
	}

	rate := solveXIRR(flows)
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, models.ErrZeroDenominator
	}
	return rate, nil
}

// solveXIRR finds r with NPV(r) = 0 by Newton-Raphson, falling back to bisection.
// NPV(r) = Σ amount_i / (1 + r)^(years_i), years measured from the first flow over 365.25 days.
func solveXIRR(flows []cashFlow) float64 {
	const (
		maxIter = 100
		tol     = 1e-7
		minRate = -0.999
	)

	baseDate := flows[0].date
	years := make([]float64, len(flows))
	for i, f := range flows {
		years[i] = f.date.Sub(baseDate).Hours() / 24 / 365.25
	}

	invested, received := 0.0, 0.0
	for _, f := range flows {
		if f.amount < 0 {
			invested -= f.amount
		} else {
			received += f.amount
		}
	}

	rate := 0.1
	if invested > 0 {
		if simple := received/invested - 1; simple > -0.9 && simple < 10 {
			rate = simple
		}
	}

	for iter := 0; iter < maxIter; iter++ {
		npv, dnpv := 0.0, 0.0
		for i, f := range flows {
			base := 1 + rate
			if base <= 0 {
				rate = minRate
				base = 1 + rate
			}
			discount := math.Pow(base, years[i])
			if discount == 0 {
				continue
			}
			npv += f.amount / discount
			if years[i] != 0 {
				dnpv -= years[i] * f.amount / (discount * base)
			}
		}

		if math.Abs(npv) < tol {
			return rate
		}
		if dnpv == 0 {
			break
		}

		next := rate - npv/dnpv
		if next < minRate {
			next = minRate
		}
		if next > 100 {
			next = 100
		}
		rate = next
	}

	return bisectXIRR(flows, years)
}

// bisectXIRR brackets the root in [-0.99, 10].
func bisectXIRR(flows []cashFlow, years []float64) float64 {
	const (
		maxIter = 200
		tol     = 1e-6
	)

	npvAt := func(rate float64) float64 {
		sum := 0.0
		for i, f := range flows {
			base := 1 + rate
			if base <= 0 {
				return math.NaN()
			}
			sum += f.amount / math.Pow(base, years[i])
		}
		return sum
	}

	lo, hi := -0.99, 10.0
	npvLo, npvHi := npvAt(lo), npvAt(hi)
	if math.IsNaN(npvLo) || math.IsNaN(npvHi) || npvLo*npvHi > 0 {
		return math.NaN()
	}

	for iter := 0; iter < maxIter; iter++ {
		mid := (lo + hi) / 2
		npvMid := npvAt(mid)
		if math.IsNaN(npvMid) {
			return math.NaN()
		}
		if math.Abs(npvMid) < tol {
			return mid
		}
		if npvMid*npvLo < 0 {
			hi = mid
		} else {
			lo = mid
			npvLo = npvMid
		}
	}
	return (lo + hi) / 2
}

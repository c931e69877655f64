// Package returns builds cash-flow-adjusted (time-weighted) return series from NAV observations.
package returns

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// NAVPoint is the account value at the end of a date, after that date's flows.
type NAVPoint struct {
	Date  time.Time
	Value decimal.Decimal
}

// Period is one chained sub-period (begin, end].
type Period struct {
	Start      time.Time
	End        time.Time
	BeginValue decimal.Decimal
	EndValue   decimal.Decimal
	Flow       decimal.Decimal // external flows dated in (Start, End]
	Return     float64
}

// Exclusion is a sub-period left out of chaining.
type Exclusion struct {
	Start  time.Time
	End    time.Time
	Reason string
}

// Series is a time-weighted return series.
type Series struct {
	Frequency  models.Frequency
	NAV        []NAVPoint // the (resampled) observations the periods were built from
	Periods    []Period
	Exclusions []Exclusion
	Cumulative float64 // ∏(1+r) − 1 over Periods
}

// Returns lists the period returns in date order.
func (s *Series) Returns() []float64 {
	out := make([]float64, len(s.Periods))
	for i, p := range s.Periods {
		out[i] = p.Return
	}
	return out
}

// Dates lists the period end dates in order.
func (s *Series) Dates() []time.Time {
	out := make([]time.Time, len(s.Periods))
	for i, p := range s.Periods {
		out[i] = p.End
	}
	return out
}

// Observations is the number of chained periods.
func (s *Series) Observations() int {
	return len(s.Periods)
}

// Annualized returns (1+R)^(periodsPerYear/n) − 1.
func (s *Series) Annualized(periodsPerYear float64) (float64, error) {
	n := len(s.Periods)
	if n == 0 {
		return 0, models.ErrInsufficientHistory
	}
	base := 1 + s.Cumulative
	if base <= 0 {
		return 0, fmt.Errorf("cumulative return %.4f has no real annualization", s.Cumulative)
	}
	return math.Pow(base, periodsPerYear/float64(n)) - 1, nil
}

// Volatility is the population standard deviation of period returns × √periodsPerYear.
func (s *Series) Volatility(periodsPerYear float64) (float64, error) {
	if len(s.Periods) < 2 {
		return 0, models.ErrInsufficientHistory
	}
	_, std := stat.PopMeanStdDev(s.Returns(), nil)
	return std * math.Sqrt(periodsPerYear), nil
}

// Calculator builds TWR series.
type Calculator struct {
	logger *common.Logger
}

// NewCalculator creates a Calculator.
func NewCalculator(logger *common.Logger) *Calculator {
	return &Calculator{logger: logger}
}

// Calculate chains sub-period returns between consecutive NAV observations.
// For each sub-period r = (end − flow) / begin − 1 where flow is the sum of external flows
// dated after the previous observation and up to this one. Trades never split a sub-period.
// A sub-period whose begin value is not positive is excluded and logged.
func (c *Calculator) Calculate(nav []NAVPoint, txs []models.Transaction, freq models.Frequency) *Series {
	points := make([]NAVPoint, len(nav))
	copy(points, nav)
	sort.SliceStable(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	points = Resample(points, freq)

	flows := externalFlows(txs)
	s := &Series{Frequency: freq, NAV: points}
	growth := 1.0

	for i := 1; i < len(points); i++ {
		prev, cur := points[i-1], points[i]
		flow := sumFlows(flows, prev.Date, cur.Date)

		if !prev.Value.IsPositive() {
			reason := fmt.Sprintf("%s: begin value %s", models.ErrInconsistentCashFlow, prev.Value.String())
			c.logger.Warn().
				Str("start", common.FormatDate(prev.Date)).
				Str("end", common.FormatDate(cur.Date)).
				Str("begin_value", prev.Value.String()).
				Str("flow", flow.String()).
				Msg("Sub-period excluded from return chaining")
			s.Exclusions = append(s.Exclusions, Exclusion{Start: prev.Date, End: cur.Date, Reason: reason})
			continue
		}

		r := cur.Value.Sub(flow).Div(prev.Value).Sub(decimal.NewFromInt(1)).InexactFloat64()
		s.Periods = append(s.Periods, Period{
			Start:      prev.Date,
			End:        cur.Date,
			BeginValue: prev.Value,
			EndValue:   cur.Value,
			Flow:       flow,
			Return:     r,
		})
		growth *= 1 + r
	}

	s.Cumulative = growth - 1
	return s
}

type flowPoint struct {
	date   time.Time
	amount decimal.Decimal
}

func externalFlows(txs []models.Transaction) []flowPoint {
	var out []flowPoint
	for _, tx := range txs {
		if !tx.IsExternalFlow() {
			continue
		}
		out = append(out, flowPoint{date: common.DateOnly(tx.TradeDate), amount: tx.Amount})
	}
	return out
}

// sumFlows adds flows dated in (after, upTo].
func sumFlows(flows []flowPoint, after, upTo time.Time) decimal.Decimal {
	total := decimal.Zero
	for _, f := range flows {
		if f.date.After(after) && !f.date.After(upTo) {
			total = total.Add(f.amount)
		}
	}
	return total
}

// NetFlows sums external flows dated in (after, upTo].
func NetFlows(txs []models.Transaction, after, upTo time.Time) decimal.Decimal {
	return sumFlows(externalFlows(txs), after, upTo)
}

// Resample keeps the first observation and the last observation of each week or month.
// Daily series are returned unchanged.
func Resample(points []NAVPoint, freq models.Frequency) []NAVPoint {
	if freq == models.FrequencyDaily || freq == "" || len(points) < 2 {
		return points
	}
	out := []NAVPoint{points[0]}
	for i := 1; i < len(points); i++ {
		last := i == len(points)-1
		if last || bucketOf(points[i].Date, freq) != bucketOf(points[i+1].Date, freq) {
			out = append(out, points[i])
		}
	}
	return out
}

func bucketOf(t time.Time, freq models.Frequency) string {
	switch freq {
	case models.FrequencyWeekly:
		y, w := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", y, w)
	case models.FrequencyMonthly:
		return t.Format("2006-01")
	default:
		return common.FormatDate(t)
	}
}

// PeriodReturn is a compounded return over a calendar bucket.
type PeriodReturn struct {
	Label  string
	Return float64
}

// Compound chains period returns within each calendar bucket (by period end date).
func (s *Series) Compound(freq models.Frequency) []PeriodReturn {
	var out []PeriodReturn
	for _, p := range s.Periods {
		label := bucketOf(p.End, freq)
		if len(out) == 0 || out[len(out)-1].Label != label {
			out = append(out, PeriodReturn{Label: label, Return: 0})
		}
		last := &out[len(out)-1]
		last.Return = (1+last.Return)*(1+p.Return) - 1
	}
	return out
}

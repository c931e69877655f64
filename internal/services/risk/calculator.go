// Package risk computes tail, distribution and concentration statistics.
package risk

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/performance"
	"github.com/bobmcallan/vire-analytics/internal/services/returns"
)

// Inputs bundles what the risk facet is computed from.
type Inputs struct {
	Series *returns.Series
	// Position values on the as-of date in the account currency. Shorts are negative.
	Positions []decimal.Decimal
	// NAV dates in the lookback window and how many of them valued every holding.
	ExpectedDates int
	CompleteDates int
}

// Calculator computes the risk facet.
type Calculator struct {
	minObservations int
	levels          []float64
	tradingDays     int
	logger          *common.Logger
}

// NewCalculator creates a Calculator from the analytics settings.
func NewCalculator(cfg common.AnalyticsConfig, logger *common.Logger) *Calculator {
	levels := cfg.ConfidenceLevels
	if len(levels) == 0 {
		levels = []float64{0.95}
	}
	minObs := cfg.MinVaRObservations
	if minObs <= 0 {
		minObs = 30
	}
	return &Calculator{
		minObservations: minObs,
		levels:          levels,
		tradingDays:     cfg.TradingDaysPerYear,
		logger:          logger,
	}
}

// Calculate fills a RiskFacet. Undefined metrics are null with a reason.
func (c *Calculator) Calculate(in Inputs) models.RiskFacet {
	r := in.Series.Returns()
	n := len(r)
	sorted := make([]float64, n)
	copy(sorted, r)
	sort.Float64s(sorted)

	f := models.RiskFacet{Observations: n}

	for _, level := range c.levels {
		f.TailRisk = append(f.TailRisk, c.tail(sorted, level))
	}

	c.distribution(&f, r, sorted, in.Series.Frequency)
	c.pain(&f, in.Series)
	concentration(&f, in.Positions)

	if in.ExpectedDates > 0 {
		f.DataCoverage = models.Value(float64(in.CompleteDates) / float64(in.ExpectedDates))
	} else {
		f.DataCoverage = models.Null(models.NullZeroDenominator)
	}

	f.Nulls = models.NullReasons(f.WeightedFields())
	return f
}

// tail computes historical VaR at the (1−level) quantile and CVaR as the mean of returns at or below it.
func (c *Calculator) tail(sorted []float64, level float64) models.TailRisk {
	t := models.TailRisk{Confidence: level}
	if len(sorted) < c.minObservations {
		t.VaR = models.Null(models.NullInsufficientHistory)
		t.CVaR = models.Null(models.NullInsufficientHistory)
		return t
	}
	p := math.Round((1-level)*1e9) / 1e9
	v := quantile(p, sorted)

	sum, count := 0.0, 0
	for _, x := range sorted {
		if x > v {
			break
		}
		sum += x
		count++
	}
	t.VaR = models.Value(v)
	t.CVaR = models.Value(sum / float64(count))
	return t
}

func (c *Calculator) distribution(f *models.RiskFacet, r, sorted []float64, freq models.Frequency) {
	n := len(r)
	var std float64
	if n > 1 {
		_, std = stat.PopMeanStdDev(r, nil)
	}

	switch {
	case n < 3:
		f.Skewness = models.Null(models.NullInsufficientHistory)
	case std == 0:
		f.Skewness = models.Null(models.NullZeroDenominator)
	default:
		f.Skewness = models.Value(stat.Skew(r, nil))
	}
	switch {
	case n < 4:
		f.Kurtosis = models.Null(models.NullInsufficientHistory)
	case std == 0:
		f.Kurtosis = models.Null(models.NullZeroDenominator)
	default:
		f.Kurtosis = models.Value(stat.ExKurtosis(r, nil))
	}

	if n < 2 {
		f.DownsideDeviation = models.Null(models.NullInsufficientHistory)
	} else {
		ppy := freq.PeriodsPerYear(c.tradingDays)
		f.DownsideDeviation = models.Value(performance.DownsideDeviation(r) * math.Sqrt(ppy))
	}

	if n < c.minObservations {
		f.TailRatio = models.Null(models.NullInsufficientHistory)
		return
	}
	hi, lo := quantile(0.95, sorted), quantile(0.05, sorted)
	if lo == 0 {
		f.TailRatio = models.Null(models.NullZeroDenominator)
		return
	}
	f.TailRatio = models.Value(math.Abs(hi) / math.Abs(lo))
}

// pain fills the drawdown-depth indices over the growth path.
func (c *Calculator) pain(f *models.RiskFacet, s *returns.Series) {
	path := s.DrawdownPath()
	if len(s.Periods) == 0 {
		f.UlcerIndex = models.Null(models.NullInsufficientHistory)
		f.PainIndex = models.Null(models.NullInsufficientHistory)
		return
	}
	sq, abs := 0.0, 0.0
	for _, p := range path {
		sq += p.Drawdown * p.Drawdown
		abs += math.Abs(p.Drawdown)
	}
	k := float64(len(path))
	f.UlcerIndex = models.Value(math.Sqrt(sq / k))
	f.PainIndex = models.Value(abs / k)
}

// concentration uses gross weights |v|/Σ|v| so shorts add to concentration.
func concentration(f *models.RiskFacet, positions []decimal.Decimal) {
	gross := decimal.Zero
	for _, v := range positions {
		gross = gross.Add(v.Abs())
	}
	if gross.IsZero() {
		for _, w := range []*models.Weighted{&f.HHI, &f.EffectivePositions, &f.LargestWeight, &f.Top5Weight, &f.Top10Weight} {
			*w = models.Null(models.NullZeroDenominator)
		}
		return
	}

	weights := make([]float64, len(positions))
	for i, v := range positions {
		weights[i] = v.Abs().Div(gross).InexactFloat64()
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(weights)))

	hhi := 0.0
	for _, w := range weights {
		hhi += w * w
	}
	f.HHI = models.Value(hhi)
	f.EffectivePositions = models.Value(1 / hhi)
	f.LargestWeight = models.Value(weights[0])
	f.Top5Weight = models.Value(topSum(weights, 5))
	f.Top10Weight = models.Value(topSum(weights, 10))
}

func topSum(desc []float64, k int) float64 {
	if k > len(desc) {
		k = len(desc)
	}
	sum := 0.0
	for _, w := range desc[:k] {
		sum += w
	}
	return math.Min(sum, 1)
}

// quantile is the empirical quantile of sorted data: the smallest observation with at
// least a fraction p of the sample at or below it.
func quantile(p float64, sorted []float64) float64 {
	return stat.Quantile(p, stat.Empirical, sorted, nil)
}

// Package performance derives return statistics from a time-weighted return series.
package performance

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/returns"
)

// Inputs bundles the series and reference data for one calculation.
type Inputs struct {
	Series          *returns.Series
	Transactions    []models.Transaction
	BenchmarkSymbol string
	Benchmark       []models.BenchmarkReturn
	RiskFree        []models.BenchmarkReturn
}

// Calculator computes the performance facet.
type Calculator struct {
	tradingDays int
	logger      *common.Logger
}

// NewCalculator creates a Calculator annualizing daily series over tradingDays.
func NewCalculator(tradingDays int, logger *common.Logger) *Calculator {
	if tradingDays <= 0 {
		tradingDays = 252
	}
	return &Calculator{tradingDays: tradingDays, logger: logger}
}

// Calculate fills a PerformanceFacet. Undefined metrics are null with a reason, never zero.
func (c *Calculator) Calculate(in Inputs) models.PerformanceFacet {
	s := in.Series
	ppy := s.Frequency.PeriodsPerYear(c.tradingDays)
	r := s.Returns()
	n := len(r)

	f := models.PerformanceFacet{
		Frequency:       s.Frequency,
		Observations:    n,
		BenchmarkSymbol: in.BenchmarkSymbol,
	}

	in.Benchmark = SortBenchmark(in.Benchmark)
	in.RiskFree = SortBenchmark(in.RiskFree)
	rf := riskFreeByPeriod(s.Periods, in.RiskFree)
	excess := make([]float64, n)
	for i := range r {
		excess[i] = r[i] - rf[i]
	}
	if n > 0 {
		f.RiskFreeRate = models.Value(stat.Mean(rf, nil) * ppy)
	} else {
		f.RiskFreeRate = models.Null(models.NullInsufficientHistory)
	}

	// returns
	if n == 0 {
		f.TotalReturn = models.Null(models.NullInsufficientHistory)
	} else {
		f.TotalReturn = models.Value(s.Cumulative)
	}
	annualized := fromResult(s.Annualized(ppy))
	f.AnnualizedReturn = annualized
	f.Volatility = fromResult(s.Volatility(ppy))
	f.MoneyWeightedReturn = fromResult(returns.MoneyWeighted(s, in.Transactions))

	// drawdowns
	c.drawdowns(&f, s)

	// risk-adjusted ratios
	f.SharpeRatio = sharpe(r, excess, ppy)
	f.SortinoRatio = sortino(r, excess, ppy)
	f.CalmarRatio = ratio(annualized, f.MaxDrawdown, math.Abs)
	f.OmegaRatio = omega(r)

	// benchmark-relative
	c.relative(&f, s, in, rf, ppy)

	// period distribution
	if n == 0 {
		f.BestPeriod = models.Null(models.NullInsufficientHistory)
		f.WorstPeriod = models.Null(models.NullInsufficientHistory)
		f.WinRate = models.Null(models.NullInsufficientHistory)
		f.BestMonth = models.Null(models.NullInsufficientHistory)
		f.WorstMonth = models.Null(models.NullInsufficientHistory)
		f.MonthsOutperformed = models.Null(models.NullInsufficientHistory)
	} else {
		f.BestPeriod = models.Value(floats.Max(r))
		f.WorstPeriod = models.Value(floats.Min(r))
		for _, v := range r {
			switch {
			case v > 0:
				f.PositivePeriods++
			case v < 0:
				f.NegativePeriods++
			}
		}
		f.WinRate = models.Value(float64(f.PositivePeriods) / float64(n))

		months := s.Compound(models.FrequencyMonthly)
		mr := make([]float64, len(months))
		for i, m := range months {
			mr[i] = m.Return
		}
		f.BestMonth = models.Value(floats.Max(mr))
		f.WorstMonth = models.Value(floats.Min(mr))
		f.MonthlyReturns, f.MonthsOutperformed = monthlyTable(months, s, in.Benchmark)
	}

	if n < 2 {
		for _, field := range f.RatioFields() {
			*field.Field = models.Null(models.NullInsufficientHistory)
		}
	}

	f.Series = seriesPoints(s)
	for _, e := range s.Exclusions {
		f.Exclusions = append(f.Exclusions, models.Exclusion{Date: common.FormatDate(e.End), Reason: e.Reason})
	}
	f.Nulls = models.NullReasons(f.WeightedFields())
	return f
}

func (c *Calculator) drawdowns(f *models.PerformanceFacet, s *returns.Series) {
	path := s.DrawdownPath()
	if len(s.Periods) == 0 {
		f.MaxDrawdown = models.Null(models.NullInsufficientHistory)
		f.CurrentDrawdown = models.Null(models.NullInsufficientHistory)
		f.AverageDrawdown = models.Null(models.NullInsufficientHistory)
		return
	}

	dd := make([]float64, len(path))
	for i, p := range path {
		dd[i] = p.Drawdown
	}
	f.MaxDrawdown = models.Value(floats.Min(dd))
	f.CurrentDrawdown = models.Value(dd[len(dd)-1])
	f.AverageDrawdown = models.Value(stat.Mean(dd, nil))

	asOf := path[len(path)-1].Date
	episodes := returns.Episodes(path)
	var deepest *returns.DrawdownEpisode
	for i := range episodes {
		e := &episodes[i]
		if deepest == nil || e.Depth < deepest.Depth {
			deepest = e
		}
		if d := e.Duration(asOf); d > f.LongestDrawdownDays {
			f.LongestDrawdownDays = d
		}
	}
	if deepest == nil {
		return
	}
	f.Drawdowns = drawdownTable(episodes, asOf, drawdownTableSize)
	f.MaxDrawdownStart = common.FormatDate(deepest.Peak)
	f.MaxDrawdownEnd = common.FormatDate(deepest.Trough)
	if deepest.Recovered {
		days := deepest.RecoveryDays()
		f.RecoveryDate = common.FormatDate(deepest.Recovery)
		f.RecoveryDays = &days
	}
}

// relative fills the benchmark-relative metrics over periods aligned with the benchmark.
func (c *Calculator) relative(f *models.PerformanceFacet, s *returns.Series, in Inputs, rf []float64, ppy float64) {
	var r, b, rfa []float64
	for i, p := range s.Periods {
		br, ok := compoundWindow(in.Benchmark, p.Start, p.End)
		if !ok {
			continue
		}
		r = append(r, p.Return)
		b = append(b, br)
		rfa = append(rfa, rf[i])
	}
	f.BenchmarkObservations = len(r)
	f.BenchmarkTotalReturn, f.BenchmarkAnnualizedReturn = benchmarkReturns(in.Benchmark, b, ppy)

	fields := []*models.Weighted{
		&f.Alpha, &f.Beta, &f.Correlation, &f.TrackingError,
		&f.InformationRatio, &f.TreynorRatio, &f.UpCapture, &f.DownCapture,
	}
	switch {
	case len(in.Benchmark) == 0 || len(r) == 0:
		for _, fld := range fields {
			*fld = models.Null(models.NullNoBenchmark)
		}
		if len(s.Periods) > 0 {
			c.logger.Debug().Str("benchmark", in.BenchmarkSymbol).Msg("No benchmark returns aligned with series")
		}
		return
	case len(r) < 2:
		for _, fld := range fields {
			*fld = models.Null(models.NullInsufficientHistory)
		}
		return
	}

	rx := make([]float64, len(r))
	bx := make([]float64, len(r))
	diff := make([]float64, len(r))
	for i := range r {
		rx[i] = r[i] - rfa[i]
		bx[i] = b[i] - rfa[i]
		diff[i] = r[i] - b[i]
	}

	_, bStd := stat.PopMeanStdDev(bx, nil)
	_, rStd := stat.PopMeanStdDev(rx, nil)
	if bStd == 0 {
		f.Alpha = models.Null(models.NullZeroDenominator)
		f.Beta = models.Null(models.NullZeroDenominator)
		f.TreynorRatio = models.Null(models.NullZeroDenominator)
	} else {
		alpha, beta := stat.LinearRegression(bx, rx, nil, false)
		f.Alpha = models.Value(alpha * ppy)
		f.Beta = models.Value(beta)
		if beta == 0 {
			f.TreynorRatio = models.Null(models.NullZeroDenominator)
		} else {
			f.TreynorRatio = models.Value(stat.Mean(rx, nil) * ppy / beta)
		}
	}
	if bStd == 0 || rStd == 0 {
		f.Correlation = models.Null(models.NullZeroDenominator)
	} else {
		f.Correlation = models.Value(stat.Correlation(rx, bx, nil))
	}

	meanDiff, diffStd := stat.PopMeanStdDev(diff, nil)
	f.TrackingError = models.Value(diffStd * math.Sqrt(ppy))
	if diffStd == 0 {
		f.InformationRatio = models.Null(models.NullZeroDenominator)
	} else {
		f.InformationRatio = models.Value(meanDiff * ppy / (diffStd * math.Sqrt(ppy)))
	}

	f.UpCapture = capture(r, b, func(v float64) bool { return v > 0 })
	f.DownCapture = capture(r, b, func(v float64) bool { return v < 0 })
}

// benchmarkReturns chains the aligned benchmark returns and annualizes them like the account.
func benchmarkReturns(series []models.BenchmarkReturn, b []float64, ppy float64) (models.Weighted, models.Weighted) {
	if len(series) == 0 || len(b) == 0 {
		return models.Null(models.NullNoBenchmark), models.Null(models.NullNoBenchmark)
	}
	growth := 1.0
	for _, v := range b {
		growth *= 1 + v
	}
	total := models.Value(growth - 1)
	if growth <= 0 {
		return total, models.Null(models.NullUndefined)
	}
	return total, models.Value(math.Pow(growth, ppy/float64(len(b))) - 1)
}

// monthlyTable pairs each month's chained account return with the benchmark chained over
// the same periods. The outperformed share counts only months that have a benchmark return.
func monthlyTable(months []returns.PeriodReturn, s *returns.Series, bench []models.BenchmarkReturn) ([]models.MonthlyReturn, models.Weighted) {
	byMonth := make(map[string]float64)
	for _, p := range s.Periods {
		br, ok := compoundWindow(bench, p.Start, p.End)
		if !ok {
			continue
		}
		label := p.End.Format("2006-01")
		byMonth[label] = (1+byMonth[label])*(1+br) - 1
	}

	out := make([]models.MonthlyReturn, len(months))
	compared, beat := 0, 0
	for i, m := range months {
		out[i] = models.MonthlyReturn{Month: m.Label, Return: m.Return, Benchmark: models.Null(models.NullNoBenchmark)}
		br, ok := byMonth[m.Label]
		if !ok {
			continue
		}
		out[i].Benchmark = models.Value(br)
		compared++
		if m.Return > br {
			beat++
		}
	}
	if compared == 0 {
		return out, models.Null(models.NullNoBenchmark)
	}
	return out, models.Value(float64(beat) / float64(compared))
}

// drawdownTableSize is how many episodes the drawdown table lists.
const drawdownTableSize = 5

// drawdownTable lists the deepest episodes, deepest first, ties by peak date.
func drawdownTable(episodes []returns.DrawdownEpisode, asOf time.Time, top int) []models.DrawdownPeriod {
	sorted := make([]returns.DrawdownEpisode, len(episodes))
	copy(sorted, episodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Depth != sorted[j].Depth {
			return sorted[i].Depth < sorted[j].Depth
		}
		return sorted[i].Peak.Before(sorted[j].Peak)
	})
	if len(sorted) > top {
		sorted = sorted[:top]
	}

	out := make([]models.DrawdownPeriod, len(sorted))
	for i, e := range sorted {
		out[i] = models.DrawdownPeriod{
			Peak:         common.FormatDate(e.Peak),
			Trough:       common.FormatDate(e.Trough),
			Depth:        e.Depth,
			DurationDays: e.Duration(asOf),
		}
		if e.Recovered {
			days := e.RecoveryDays()
			out[i].Recovery = common.FormatDate(e.Recovery)
			out[i].RecoveryDays = &days
		}
	}
	return out
}

// omega is the sum of gains over the sum of losses against a zero threshold.
func omega(r []float64) models.Weighted {
	if len(r) < 2 {
		return models.Null(models.NullInsufficientHistory)
	}
	var gains, losses float64
	for _, v := range r {
		if v > 0 {
			gains += v
		} else {
			losses -= v
		}
	}
	if losses == 0 {
		return models.Null(models.NullZeroDenominator)
	}
	return models.Value(gains / losses)
}

// capture is mean account return over mean benchmark return for periods the filter selects.
func capture(r, b []float64, keep func(float64) bool) models.Weighted {
	var rs, bs []float64
	for i := range b {
		if keep(b[i]) {
			rs = append(rs, r[i])
			bs = append(bs, b[i])
		}
	}
	if len(bs) == 0 {
		return models.Null(models.NullInsufficientHistory)
	}
	mb := stat.Mean(bs, nil)
	if mb == 0 {
		return models.Null(models.NullZeroDenominator)
	}
	return models.Value(stat.Mean(rs, nil) / mb)
}

func sharpe(r, excess []float64, ppy float64) models.Weighted {
	if len(r) < 2 {
		return models.Null(models.NullInsufficientHistory)
	}
	_, std := stat.PopMeanStdDev(r, nil)
	if std == 0 {
		return models.Null(models.NullZeroDenominator)
	}
	return models.Value(stat.Mean(excess, nil) / std * math.Sqrt(ppy))
}

func sortino(r, excess []float64, ppy float64) models.Weighted {
	if len(r) < 2 {
		return models.Null(models.NullInsufficientHistory)
	}
	dd := DownsideDeviation(r)
	if dd == 0 {
		return models.Null(models.NullZeroDenominator)
	}
	return models.Value(stat.Mean(excess, nil) / dd * math.Sqrt(ppy))
}

// DownsideDeviation is the population standard deviation of the returns below zero.
// With no negative return it is 0.
func DownsideDeviation(r []float64) float64 {
	var neg []float64
	for _, v := range r {
		if v < 0 {
			neg = append(neg, v)
		}
	}
	if len(neg) == 0 {
		return 0
	}
	_, std := stat.PopMeanStdDev(neg, nil)
	return std
}

// ratio divides two nullable metrics, propagating the numerator's or denominator's null reason.
func ratio(num, den models.Weighted, transform func(float64) float64) models.Weighted {
	if !num.Valid {
		return models.Null(num.Reason)
	}
	if !den.Valid {
		return models.Null(den.Reason)
	}
	d := transform(den.Value)
	if d == 0 {
		return models.Null(models.NullZeroDenominator)
	}
	return models.Value(num.Value / d)
}

func fromResult(v float64, err error) models.Weighted {
	if err != nil {
		return models.Null(models.NullReasonFor(err))
	}
	return models.Value(v)
}

// riskFreeByPeriod compounds the risk-free returns dated in each period. A period with no
// observation carries the latest earlier value forward; before the first observation it is 0.
func riskFreeByPeriod(periods []returns.Period, series []models.BenchmarkReturn) []float64 {
	out := make([]float64, len(periods))
	for i, p := range periods {
		if v, ok := compoundWindow(series, p.Start, p.End); ok {
			out[i] = v
			continue
		}
		out[i] = latestOnOrBefore(series, p.End)
	}
	return out
}

// compoundWindow chains the returns dated in (after, upTo]. series must be sorted by date.
func compoundWindow(series []models.BenchmarkReturn, after, upTo time.Time) (float64, bool) {
	i := sort.Search(len(series), func(i int) bool { return series[i].Date.After(after) })
	var out float64
	found := false
	for ; i < len(series) && !series[i].Date.After(upTo); i++ {
		if found {
			out = (1+out)*(1+series[i].Return) - 1
		} else {
			out = series[i].Return
		}
		found = true
	}
	return out, found
}

func latestOnOrBefore(series []models.BenchmarkReturn, date time.Time) float64 {
	i := sort.Search(len(series), func(i int) bool { return series[i].Date.After(date) })
	if i == 0 {
		return 0
	}
	return series[i-1].Return
}

// seriesPoints renders the NAV observations with their period returns and drawdown path.
func seriesPoints(s *returns.Series) []models.SeriesPoint {
	if len(s.NAV) == 0 {
		return nil
	}
	byEnd := make(map[string]returns.Period, len(s.Periods))
	for _, p := range s.Periods {
		byEnd[common.FormatDate(p.End)] = p
	}
	path := s.DrawdownPath()
	cumAt := make(map[string]returns.DrawdownPoint, len(path))
	for _, p := range path {
		cumAt[common.FormatDate(p.Date)] = p
	}

	out := make([]models.SeriesPoint, 0, len(s.NAV))
	last := path[0]
	for _, pt := range s.NAV {
		key := common.FormatDate(pt.Date)
		sp := models.SeriesPoint{
			Date:   key,
			NAV:    models.AmountOf(pt.Value),
			Flow:   models.ZeroAmount,
			Return: models.Null(models.NullUndefined),
		}
		if p, ok := byEnd[key]; ok {
			sp.Flow = models.AmountOf(p.Flow)
			sp.Return = models.Value(p.Return)
		}
		if dp, ok := cumAt[key]; ok {
			last = dp
		}
		sp.Cumulative = last.Cumulative - 1
		sp.Drawdown = last.Drawdown
		out = append(out, sp)
	}
	return out
}

// SortBenchmark orders returns by date and drops duplicate dates, keeping the last.
func SortBenchmark(series []models.BenchmarkReturn) []models.BenchmarkReturn {
	out := make([]models.BenchmarkReturn, len(series))
	copy(out, series)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	dedup := out[:0]
	for _, r := range out {
		if len(dedup) > 0 && dedup[len(dedup)-1].Date.Equal(r.Date) {
			dedup[len(dedup)-1] = r
			continue
		}
		dedup = append(dedup, r)
	}
	return dedup
}

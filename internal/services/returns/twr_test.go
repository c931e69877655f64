package returns

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// approxEqual checks float equality within epsilon
func approxEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func nav(dayOffset int, v float64) NAVPoint {
	return NAVPoint{Date: day0.AddDate(0, 0, dayOffset), Value: decimal.NewFromFloat(v)}
}

func tx(dayOffset int, typ models.TransactionType, amount float64) models.Transaction {
	return models.Transaction{
		AccountID: "acc-1",
		Type:      typ,
		Amount:    decimal.NewFromFloat(amount),
		TradeDate: day0.AddDate(0, 0, dayOffset),
	}
}

func newCalc() *Calculator {
	return NewCalculator(common.NewSilentLogger())
}

func TestCalculate_DepositScenarioIsolatesMarketGain(t *testing.T) {
	// NAV 100,000 on day 0; 10,000 deposit on day 5 lifts NAV to 115,000
	// (10,000 deposit + 5,000 gain); NAV 120,000 on day 10.
	// Sub-period 1: (115,000 − 10,000) / 100,000 − 1 = 5%
	// Sub-period 2: 120,000 / 115,000 − 1 = 4.3478%
	// Chained: 1.05 × 1.043478 − 1 = 9.5652%, not the naive 10%
	points := []NAVPoint{nav(0, 100000), nav(5, 115000), nav(10, 120000)}
	txs := []models.Transaction{tx(5, models.TxDeposit, 10000)}

	s := newCalc().Calculate(points, txs, models.FrequencyDaily)

	require.Len(t, s.Periods, 2)
	if !approxEqual(s.Periods[0].Return, 0.05, 1e-12) {
		t.Errorf("first sub-period return = %.6f, want 0.05", s.Periods[0].Return)
	}
	want := 1.05*(120000.0/115000.0) - 1
	if !approxEqual(s.Cumulative, want, 1e-12) {
		t.Errorf("cumulative = %.6f, want %.6f", s.Cumulative, want)
	}
	naive := (120000.0 - 100000.0 - 10000.0) / 100000.0
	assert.False(t, approxEqual(s.Cumulative, naive, 1e-4), "TWR must not equal the naive flow-adjusted return")
}

func TestCalculate_BuysAndSellsDoNotSplitPeriods(t *testing.T) {
	points := []NAVPoint{nav(0, 1000), nav(1, 1100)}
	txs := []models.Transaction{
		tx(1, models.TxBuy, -500),
		tx(1, models.TxSell, 300),
		tx(1, models.TxDividend, 10),
	}
	s := newCalc().Calculate(points, txs, models.FrequencyDaily)
	require.Len(t, s.Periods, 1)
	assert.True(t, s.Periods[0].Flow.IsZero())
	assert.InDelta(t, 0.10, s.Periods[0].Return, 1e-12)
}

func TestCalculate_WithdrawalAddsBack(t *testing.T) {
	points := []NAVPoint{nav(0, 1000), nav(1, 600)}
	txs := []models.Transaction{tx(1, models.TxWithdrawal, -500)}
	s := newCalc().Calculate(points, txs, models.FrequencyDaily)
	require.Len(t, s.Periods, 1)
	// (600 − (−500)) / 1000 − 1 = 10%
	assert.InDelta(t, 0.10, s.Periods[0].Return, 1e-12)
}

func TestCalculate_ZeroBeginValueExcluded(t *testing.T) {
	// Account funded from zero on day 1
	points := []NAVPoint{nav(0, 0), nav(1, 5000), nav(2, 5100)}
	txs := []models.Transaction{tx(1, models.TxDeposit, 5000)}

	s := newCalc().Calculate(points, txs, models.FrequencyDaily)

	require.Len(t, s.Exclusions, 1)
	assert.Contains(t, s.Exclusions[0].Reason, models.ErrInconsistentCashFlow.Error())
	require.Len(t, s.Periods, 1)
	assert.InDelta(t, 0.02, s.Cumulative, 1e-12)
	for _, r := range s.Returns() {
		assert.False(t, math.IsInf(r, 0) || math.IsNaN(r))
	}
}

func TestCalculate_UnsortedInput(t *testing.T) {
	points := []NAVPoint{nav(2, 121), nav(0, 100), nav(1, 110)}
	s := newCalc().Calculate(points, nil, models.FrequencyDaily)
	require.Len(t, s.Periods, 2)
	assert.InDelta(t, 0.21, s.Cumulative, 1e-12)
	assert.Equal(t, day0.AddDate(0, 0, 2), s.Dates()[1])
}

func TestCalculate_RoundTripLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 50; trial++ {
		n := 5 + rng.Intn(60)
		value := 10000.0
		var points []NAVPoint
		var txs []models.Transaction
		points = append(points, nav(0, value))
		for i := 1; i < n; i++ {
			var flow float64
			if rng.Float64() < 0.2 {
				flow = math.Round((rng.Float64()-0.3)*2000*100) / 100
				typ := models.TxDeposit
				if flow < 0 {
					typ = models.TxWithdrawal
				}
				txs = append(txs, tx(i, typ, flow))
			}
			value = math.Round((value*(1+(rng.Float64()-0.5)*0.04)+flow)*100) / 100
			points = append(points, nav(i, value))
		}

		s := newCalc().Calculate(points, txs, models.FrequencyDaily)

		// Independent chain from start/end NAV adjusted for flows
		independent := 1.0
		for i := 1; i < len(points); i++ {
			flow := 0.0
			for _, t := range txs {
				if t.TradeDate.Equal(points[i].Date) {
					flow += t.Amount.InexactFloat64()
				}
			}
			begin := points[i-1].Value.InexactFloat64()
			end := points[i].Value.InexactFloat64()
			independent *= (end - flow) / begin
		}
		if !approxEqual(s.Cumulative, independent-1, 1e-9) {
			t.Fatalf("trial %d: chained %.10f != independent %.10f", trial, s.Cumulative, independent-1)
		}
	}
}

func TestAnnualized(t *testing.T) {
	s := &Series{Periods: make([]Period, 126), Cumulative: 0.10}
	got, err := s.Annualized(252)
	require.NoError(t, err)
	assert.InDelta(t, math.Pow(1.10, 2)-1, got, 1e-12)

	empty := &Series{}
	_, err = empty.Annualized(252)
	assert.True(t, errors.Is(err, models.ErrInsufficientHistory))

	wiped := &Series{Periods: make([]Period, 3), Cumulative: -1}
	_, err = wiped.Annualized(252)
	assert.Error(t, err)
}

func TestVolatility(t *testing.T) {
	s := &Series{Periods: []Period{{Return: 0.01}, {Return: -0.01}}}
	vol, err := s.Volatility(252)
	require.NoError(t, err)
	// population std of {0.01, −0.01} is 0.01
	assert.InDelta(t, 0.01*math.Sqrt(252), vol, 1e-12)

	short := &Series{Periods: []Period{{Return: 0.01}}}
	_, err = short.Volatility(252)
	assert.ErrorIs(t, err, models.ErrInsufficientHistory)
}

func TestResample_Monthly(t *testing.T) {
	var points []NAVPoint
	for i := 0; i < 70; i++ {
		points = append(points, nav(i, 100+float64(i)))
	}
	out := Resample(points, models.FrequencyMonthly)
	// first point, then month ends for Jan and Feb, then the last point in March
	require.Len(t, out, 4)
	assert.Equal(t, "2024-01-01", common.FormatDate(out[0].Date))
	assert.Equal(t, "2024-01-31", common.FormatDate(out[1].Date))
	assert.Equal(t, "2024-02-29", common.FormatDate(out[2].Date))
	assert.Equal(t, "2024-03-10", common.FormatDate(out[3].Date))
}

func TestCalculate_WeeklyKeepsFlowsInPeriod(t *testing.T) {
	var points []NAVPoint
	for i := 0; i < 14; i++ {
		v := 1000.0
		if i >= 3 {
			v = 1500
		}
		points = append(points, nav(i, v))
	}
	txs := []models.Transaction{tx(3, models.TxDeposit, 500)}
	s := newCalc().Calculate(points, txs, models.FrequencyWeekly)
	for _, p := range s.Periods {
		assert.InDelta(t, 0, p.Return, 1e-12)
	}
	assert.InDelta(t, 0, s.Cumulative, 1e-12)
}

func TestCompound_Monthly(t *testing.T) {
	s := &Series{Periods: []Period{
		{End: time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC), Return: 0.10},
		{End: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), Return: 0.10},
		{End: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Return: -0.05},
	}}
	months := s.Compound(models.FrequencyMonthly)
	require.Len(t, months, 2)
	assert.Equal(t, "2024-01", months[0].Label)
	assert.InDelta(t, 0.21, months[0].Return, 1e-12)
	assert.InDelta(t, -0.05, months[1].Return, 1e-12)
}

func TestNetFlows(t *testing.T) {
	txs := []models.Transaction{
		tx(1, models.TxDeposit, 100),
		tx(2, models.TxWithdrawal, -30),
		tx(2, models.TxBuy, -1000),
		tx(9, models.TxDeposit, 7),
	}
	assert.Equal(t, "70", NetFlows(txs, day0, day0.AddDate(0, 0, 5)).String())
}

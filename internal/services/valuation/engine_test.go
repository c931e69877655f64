package valuation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
	"github.com/bobmcallan/vire-analytics/internal/services/pricing"
)

type fakeMarket struct {
	securities map[string]*models.Security
	prices     map[string]decimal.Decimal // id|date
	rates      map[string]decimal.Decimal // from|to|date
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{
		securities: map[string]*models.Security{},
		prices:     map[string]decimal.Decimal{},
		rates:      map[string]decimal.Decimal{},
	}
}

func (f *fakeMarket) GetSecurity(_ context.Context, id string) (*models.Security, error) {
	s, ok := f.securities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s, nil
}

func (f *fakeMarket) GetPrice(_ context.Context, id string, date time.Time) (*models.SecurityPrice, error) {
	p, ok := f.prices[id+"|"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNoData
	}
	return &models.SecurityPrice{SecurityID: id, Date: date, Close: p, Currency: f.securities[id].Currency}, nil
}

func (f *fakeMarket) GetRate(_ context.Context, from, to string, date time.Time) (*models.FxRate, error) {
	r, ok := f.rates[from+"|"+to+"|"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNoData
	}
	return &models.FxRate{From: from, To: to, Date: date, Rate: r}, nil
}

func (f *fakeMarket) security(id string, typ models.SecurityType, ccy, country string) {
	f.securities[id] = &models.Security{ID: id, Symbol: id, Type: typ, Currency: ccy, Country: country}
}

func (f *fakeMarket) price(id, date, v string) {
	f.prices[id+"|"+date] = decimal.RequireFromString(v)
}

const asOf = "2024-03-08"

func holding(id, qty, cost string) models.Holding {
	return models.Holding{
		AccountID:  "acc-1",
		SecurityID: id,
		Quantity:   decimal.RequireFromString(qty),
		CostBasis:  decimal.RequireFromString(cost),
	}
}

func account() *models.Account {
	return &models.Account{ID: "acc-1", Currency: "USD", BaseCountry: "US", Type: models.AccountInvestment}
}

func newEngine(m *fakeMarket) *Engine {
	logger := common.NewSilentLogger()
	return NewEngine(pricing.NewResolver(m, m, 5, logger), m, logger)
}

func date(s string) time.Time {
	t, _ := common.ParseDate(s)
	return t
}

func breakdownSum(b models.AssetClassBreakdown) decimal.Decimal {
	sum := decimal.Zero
	for _, c := range models.AssetClasses {
		sum = sum.Add(b.Bucket(c).Decimal)
	}
	return sum
}

func TestValue_OneOfFiveMissing(t *testing.T) {
	m := newFakeMarket()
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		m.security(id, models.SecurityTypeEquity, "USD", "US")
	}
	m.price("A", asOf, "10")
	m.price("B", asOf, "20")
	m.price("C", asOf, "30")
	m.price("D", asOf, "40")

	holdings := []models.Holding{
		holding("A", "1", "5"), holding("B", "1", "5"), holding("C", "1", "5"),
		holding("D", "1", "5"), holding("E", "1", "5"),
	}
	res, err := newEngine(m).Value(context.Background(), account(), holdings, date(asOf), "USD")
	require.NoError(t, err)

	assert.False(t, res.Complete())
	require.Len(t, res.Unresolved, 1)
	assert.Equal(t, "E", res.Unresolved[0].SecurityID)
	assert.Len(t, res.Positions, 4)
	assert.Equal(t, "100", res.MarketValue.String())
	assert.Equal(t, "20", res.CostBasis.String())
	assert.Equal(t, "80", res.UnrealizedGain.String())
}

func TestValue_AllMissingIsNoValidPrices(t *testing.T) {
	m := newFakeMarket()
	m.security("A", models.SecurityTypeEquity, "USD", "US")

	res, err := newEngine(m).Value(context.Background(), account(), []models.Holding{holding("A", "1", "1")}, date(asOf), "USD")
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrNoValidPrices))
	require.NotNil(t, res)
	assert.Len(t, res.Unresolved, 1)
}

func TestValue_EmptyHoldings(t *testing.T) {
	res, err := newEngine(newFakeMarket()).Value(context.Background(), account(), nil, date(asOf), "USD")
	require.NoError(t, err)
	assert.True(t, res.MarketValue.IsZero())
	assert.True(t, breakdownSum(res.ByAssetClass).IsZero())
}

func TestValue_BreakdownSumsExactlyToTotal(t *testing.T) {
	m := newFakeMarket()
	m.security("EQ", models.SecurityTypeEquity, "USD", "US")
	m.security("FD", models.SecurityTypeFund, "USD", "GB")
	m.price("EQ", asOf, "0.005")
	m.price("FD", asOf, "0.005")

	holdings := []models.Holding{holding("EQ", "1", "0"), holding("FD", "1", "0")}
	res, err := newEngine(m).Value(context.Background(), account(), holdings, date(asOf), "USD")
	require.NoError(t, err)

	// each bucket rounds up to 0.01 while the total rounds to 0.01
	assert.Equal(t, "0.01", res.MarketValue.String())
	assert.True(t, breakdownSum(res.ByAssetClass).Equal(res.MarketValue))
	assert.Equal(t, "0", res.ByAssetClass.Equity.String())
	assert.Equal(t, "0.01", res.ByAssetClass.Fund.String())

	geo := res.ByGeography.Domestic.Add(res.ByGeography.International.Decimal)
	assert.True(t, geo.Equal(res.MarketValue))
}

func TestValue_BreakdownPropertyManyHoldings(t *testing.T) {
	m := newFakeMarket()
	types := []models.SecurityType{models.SecurityTypeEquity, models.SecurityTypeFund, models.SecurityTypeDebt, models.SecurityTypeOption}
	var holdings []models.Holding
	for i := 0; i < 40; i++ {
		id := string(rune('A'+i%26)) + string(rune('a'+i/26))
		m.security(id, types[i%len(types)], "USD", []string{"US", "JP"}[i%2])
		m.price(id, asOf, decimal.NewFromFloat(1.001+float64(i)*0.337).String())
		holdings = append(holdings, holding(id, decimal.NewFromFloat(0.3+float64(i)*1.7).String(), "1"))
	}
	res, err := newEngine(m).Value(context.Background(), account(), holdings, date(asOf), "USD")
	require.NoError(t, err)

	assert.True(t, breakdownSum(res.ByAssetClass).Equal(res.MarketValue))
	geo := res.ByGeography.Domestic.Add(res.ByGeography.International.Decimal)
	assert.True(t, geo.Equal(res.MarketValue))
}

func TestValue_CashAndFx(t *testing.T) {
	m := newFakeMarket()
	m.security("CASH-EUR", models.SecurityTypeCash, "EUR", "")
	m.security("CASH-USD", models.SecurityTypeCash, "USD", "")
	m.rates["EUR|USD|"+asOf] = decimal.RequireFromString("1.10")

	holdings := []models.Holding{holding("CASH-EUR", "100", "100"), holding("CASH-USD", "50", "50")}
	res, err := newEngine(m).Value(context.Background(), account(), holdings, date(asOf), "USD")
	require.NoError(t, err)

	assert.Equal(t, "160", res.MarketValue.String())
	assert.Equal(t, "160", res.CashBalance.String())
	assert.Equal(t, "160", res.ByAssetClass.Cash.String())
	assert.Equal(t, "50", res.ByGeography.Domestic.String())
	assert.Equal(t, "110", res.ByGeography.International.String())
}

func TestValue_ShortPositionIsNegative(t *testing.T) {
	m := newFakeMarket()
	m.security("L", models.SecurityTypeEquity, "USD", "US")
	m.security("S", models.SecurityTypeEquity, "USD", "US")
	m.price("L", asOf, "100")
	m.price("S", asOf, "10")

	holdings := []models.Holding{holding("L", "10", "900"), holding("S", "-5", "-60")}
	res, err := newEngine(m).Value(context.Background(), account(), holdings, date(asOf), "USD")
	require.NoError(t, err)
	assert.Equal(t, "950", res.MarketValue.String())
	assert.Equal(t, "840", res.CostBasis.String())
}

func TestValue_StaleCounted(t *testing.T) {
	m := newFakeMarket()
	m.security("A", models.SecurityTypeEquity, "USD", "US")
	m.price("A", "2024-03-06", "10")

	res, err := newEngine(m).Value(context.Background(), account(), []models.Holding{holding("A", "2", "10")}, date(asOf), "USD")
	require.NoError(t, err)
	assert.Equal(t, 1, res.StaleCount)
	assert.Equal(t, "2024-03-06", common.FormatDate(res.LastPriceDate))
}

func TestAllocate_TiesGoToFirstInOrder(t *testing.T) {
	exact := map[string]decimal.Decimal{
		"a": decimal.RequireFromString("0.005"),
		"b": decimal.RequireFromString("0.005"),
	}
	out := Allocate(decimal.RequireFromString("0.01"), exact, []string{"a", "b"}, "USD")
	assert.Equal(t, "0", out["a"].String())
	assert.Equal(t, "0.01", out["b"].String())
}

package pricing

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
)

type fakeMarket struct {
	prices map[string]models.SecurityPrice // securityID|date
	rates  map[string]models.FxRate        // from|to|date
	fail   error
}

func newFakeMarket() *fakeMarket {
	return &fakeMarket{prices: map[string]models.SecurityPrice{}, rates: map[string]models.FxRate{}}
}

func (f *fakeMarket) addPrice(id, date, close, ccy string) {
	d, _ := common.ParseDate(date)
	f.prices[id+"|"+date] = models.SecurityPrice{SecurityID: id, Date: d, Close: decimal.RequireFromString(close), Currency: ccy}
}

func (f *fakeMarket) addRate(from, to, date, rate string) {
	d, _ := common.ParseDate(date)
	f.rates[from+"|"+to+"|"+date] = models.FxRate{From: from, To: to, Date: d, Rate: decimal.RequireFromString(rate)}
}

func (f *fakeMarket) GetPrice(_ context.Context, id string, date time.Time) (*models.SecurityPrice, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	p, ok := f.prices[id+"|"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNoData
	}
	return &p, nil
}

func (f *fakeMarket) GetRate(_ context.Context, from, to string, date time.Time) (*models.FxRate, error) {
	r, ok := f.rates[from+"|"+to+"|"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNoData
	}
	return &r, nil
}

func d(s string) time.Time {
	t, err := common.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestResolvePrice_Exact(t *testing.T) {
	m := newFakeMarket()
	m.addPrice("AAPL", "2024-03-08", "170.50", "USD")
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	p, err := r.ResolvePrice(context.Background(), "AAPL", d("2024-03-08"))
	require.NoError(t, err)
	assert.False(t, p.Stale)
	assert.Equal(t, "170.5", p.Price.String())
}

func TestResolvePrice_CarryForwardIsStale(t *testing.T) {
	m := newFakeMarket()
	m.addPrice("AAPL", "2024-03-06", "168", "USD")
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	p, err := r.ResolvePrice(context.Background(), "AAPL", d("2024-03-11"))
	require.NoError(t, err)
	assert.True(t, p.Stale)
	assert.Equal(t, "2024-03-06", common.FormatDate(p.PriceDate))
	assert.Equal(t, "2024-03-11", common.FormatDate(p.Date))
}

func TestResolvePrice_OutsideWindow(t *testing.T) {
	m := newFakeMarket()
	// Monday 2024-03-11 minus 5 trading days is Monday 2024-03-04; 03-01 is out of range.
	m.addPrice("AAPL", "2024-03-01", "160", "USD")
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	_, err := r.ResolvePrice(context.Background(), "AAPL", d("2024-03-11"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrPriceUnavailable))

	var re *models.ResolutionError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "AAPL", re.Subject)

	m.addPrice("AAPL", "2024-03-04", "161", "USD")
	p, err := r.ResolvePrice(context.Background(), "AAPL", d("2024-03-11"))
	require.NoError(t, err)
	assert.Equal(t, "161", p.Price.String())
}

func TestResolvePrice_ZeroWindowRequiresExact(t *testing.T) {
	m := newFakeMarket()
	m.addPrice("AAPL", "2024-03-07", "160", "USD")
	r := NewResolver(m, m, 0, common.NewSilentLogger())

	_, err := r.ResolvePrice(context.Background(), "AAPL", d("2024-03-08"))
	assert.ErrorIs(t, err, models.ErrPriceUnavailable)
}

func TestResolvePrice_ProviderErrorPropagates(t *testing.T) {
	m := newFakeMarket()
	m.fail = errors.New("disk on fire")
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	_, err := r.ResolvePrice(context.Background(), "AAPL", d("2024-03-08"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, models.ErrPriceUnavailable))
}

func TestResolveRate_SameCurrency(t *testing.T) {
	r := NewResolver(newFakeMarket(), newFakeMarket(), 5, common.NewSilentLogger())
	rate, err := r.ResolveRate(context.Background(), "usd", "USD", d("2024-03-08"))
	require.NoError(t, err)
	assert.True(t, rate.Rate.Equal(decimal.NewFromInt(1)))
}

func TestResolveRate_InverseAndStale(t *testing.T) {
	m := newFakeMarket()
	m.addRate("USD", "AUD", "2024-03-07", "1.25")
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	rate, err := r.ResolveRate(context.Background(), "AUD", "USD", d("2024-03-08"))
	require.NoError(t, err)
	assert.True(t, rate.Inverted)
	assert.True(t, rate.Stale)
	assert.Equal(t, "0.8", rate.Rate.String())
}

func TestResolveRate_Unavailable(t *testing.T) {
	m := newFakeMarket()
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	_, err := r.ResolveRate(context.Background(), "EUR", "USD", d("2024-03-08"))
	assert.ErrorIs(t, err, models.ErrRateUnavailable)
}

func TestQuote_CashIsUnitPrice(t *testing.T) {
	m := newFakeMarket()
	m.addRate("EUR", "USD", "2024-03-08", "1.1")
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	sec := &models.Security{ID: "CASH-EUR", Type: models.SecurityTypeCash, Currency: "EUR"}
	q, err := r.Quote(context.Background(), sec, d("2024-03-08"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "1.1", q.UnitValue().String())
	assert.False(t, q.Stale())
}

func TestQuote_ConvertsForeignPrice(t *testing.T) {
	m := newFakeMarket()
	m.addPrice("BHP", "2024-03-08", "45", "AUD")
	m.addRate("AUD", "USD", "2024-03-08", "0.65")
	r := NewResolver(m, m, 5, common.NewSilentLogger())

	sec := &models.Security{ID: "BHP", Type: models.SecurityTypeEquity, Currency: "AUD"}
	q, err := r.Quote(context.Background(), sec, d("2024-03-08"), "USD")
	require.NoError(t, err)
	assert.Equal(t, "29.25", q.UnitValue().String())
}

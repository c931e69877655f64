package analytics

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

func day(s string) time.Time {
	d, err := common.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var week = []string{"2024-03-04", "2024-03-05", "2024-03-06", "2024-03-07", "2024-03-08"}

// fixture: user u1 (USD) with a USD account holding 10 AAPL and 500 cash, held all week.
// AAPL closes 100, 101, 102, 99, 103.
func newFixture(t *testing.T) (*memStorage, *Service) {
	t.Helper()
	ctx := context.Background()
	store := newMemStorage()

	require.NoError(t, store.SaveSecurities(ctx, []models.Security{
		{ID: "AAPL", Symbol: "AAPL", Name: "Apple", Type: models.SecurityTypeEquity, Currency: "USD", Country: "US", Sector: "Technology"},
		{ID: "USD-CASH", Symbol: "USD", Type: models.SecurityTypeCash, Currency: "USD"},
		{ID: "EUR-CASH", Symbol: "EUR", Type: models.SecurityTypeCash, Currency: "EUR"},
		{ID: "GHOST", Symbol: "GHOST", Type: models.SecurityTypeEquity, Currency: "USD"},
	}))
	for i, close := range []string{"100", "101", "102", "99", "103"} {
		require.NoError(t, store.SavePrices(ctx, []models.SecurityPrice{{SecurityID: "AAPL", Date: day(week[i]), Close: dec(close), Currency: "USD"}}))
	}
	require.NoError(t, store.SaveRates(ctx, []models.FxRate{{From: "EUR", To: "USD", Date: day("2024-03-08"), Rate: dec("1.10")}}))

	require.NoError(t, store.SaveUser(ctx, &models.User{ID: "u1", BaseCurrency: "USD"}))
	require.NoError(t, store.SaveAccount(ctx, &models.Account{ID: "acc-us", UserID: "u1", Name: "Brokerage", Type: models.AccountInvestment, Currency: "USD", BaseCountry: "US", Active: true}))
	holdWeek(t, store, "acc-us",
		models.Holding{SecurityID: "AAPL", Quantity: dec("10"), CostBasis: dec("1000")},
		models.Holding{SecurityID: "USD-CASH", Quantity: dec("500"), CostBasis: dec("500")},
	)

	logger := common.NewSilentLogger()
	return store, NewService(store, common.NewDefaultConfig(), logger)
}

func holdWeek(t *testing.T, store *memStorage, accountID string, holdings ...models.Holding) {
	t.Helper()
	for _, d := range week {
		set := make([]models.Holding, len(holdings))
		for i, h := range holdings {
			h.AccountID = accountID
			h.AsOfDate = day(d)
			set[i] = h
		}
		require.NoError(t, store.SaveHoldings(context.Background(), accountID, day(d), set))
	}
}

func TestComputeSnapshot_Valuation(t *testing.T) {
	_, svc := newFixture(t)

	snap, err := svc.ComputeSnapshot(context.Background(), "acc-us", day("2024-03-08"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusOK, snap.Status, snap.Reason)
	assert.Equal(t, "1530", snap.Summary.MarketValue.String())
	assert.Equal(t, "1500", snap.Summary.CostBasis.String())
	assert.Equal(t, "30", snap.Summary.UnrealizedGain.String())
	assert.Equal(t, "500", snap.Summary.CashBalance.String())
	assert.InDelta(t, 0.02, snap.Summary.UnrealizedGainPct.Value, 1e-12)

	sum := decimal.Zero
	for _, c := range models.AssetClasses {
		sum = sum.Add(snap.Summary.ByAssetClass.Bucket(c).Decimal)
	}
	assert.True(t, sum.Equal(snap.Summary.MarketValue.Decimal))
	assert.Equal(t, "1030", snap.Summary.ByAssetClass.Equity.String())

	assert.Equal(t, 2, snap.Summary.HoldingCount)
	assert.Equal(t, 2, snap.Summary.PricedCount)
	assert.Equal(t, 0, snap.Summary.StalePriceCount)
	assert.Equal(t, "2024-03-08", snap.Summary.LastPriceDate)
	assert.InDelta(t, 1530.0/1490.0-1, snap.Summary.DailyReturn.Value, 1e-12)

	assert.Equal(t, 4, snap.Performance.Observations)
	assert.InDelta(t, 0.02, snap.Performance.TotalReturn.Value, 1e-12)
	assert.Len(t, snap.Performance.Series, 5)
	assert.Equal(t, models.NullNoBenchmark, snap.Performance.Nulls["beta"])

	assert.Equal(t, models.NullInsufficientHistory, snap.Risk.Nulls["var_95"])
	assert.InDelta(t, 1, snap.Risk.DataCoverage.Value, 1e-12)

	tech := snap.Exposure.Allocations[models.DimensionSector]["Technology"]
	assert.Equal(t, "1030", tech.Value.String())
	assert.InDelta(t, 1030.0/1530.0, tech.Weight, 1e-12)
}

func TestComputeSnapshot_Idempotent(t *testing.T) {
	store, svc := newFixture(t)
	ctx := context.Background()

	_, first, err := svc.upsert(ctx, "acc-us", day("2024-03-08"))
	require.NoError(t, err)
	raw1, err := store.GetSnapshotRaw(ctx, "acc-us", day("2024-03-08"))
	require.NoError(t, err)

	_, second, err := svc.upsert(ctx, "acc-us", day("2024-03-08"))
	require.NoError(t, err)
	raw2, err := store.GetSnapshotRaw(ctx, "acc-us", day("2024-03-08"))
	require.NoError(t, err)

	assert.True(t, first.Changed)
	assert.False(t, second.Changed)
	assert.Equal(t, 1, second.Version)
	assert.Equal(t, first.Digest, second.Digest)
	assert.True(t, bytes.Equal(raw1, raw2))
	assert.Len(t, store.snapshots, 1)
}

func TestComputeSnapshot_MissingPriceDataValuesTheRest(t *testing.T) {
	store, svc := newFixture(t)
	holdWeek(t, store, "acc-us",
		models.Holding{SecurityID: "AAPL", Quantity: dec("10"), CostBasis: dec("1000")},
		models.Holding{SecurityID: "USD-CASH", Quantity: dec("500"), CostBasis: dec("500")},
		models.Holding{SecurityID: "GHOST", Quantity: dec("5"), CostBasis: dec("50")},
	)

	snap, err := svc.ComputeSnapshot(context.Background(), "acc-us", day("2024-03-08"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusMissingPriceData, snap.Status)
	assert.Contains(t, snap.Reason, "GHOST")
	assert.Equal(t, "1530", snap.Summary.MarketValue.String())
	assert.Equal(t, 3, snap.Summary.HoldingCount)
	assert.Equal(t, 2, snap.Summary.PricedCount)
	require.Len(t, snap.Summary.Unresolved, 1)
	assert.Equal(t, "GHOST", snap.Summary.Unresolved[0].SecurityID)
}

func TestComputeSnapshot_NoValidPricesFails(t *testing.T) {
	store, svc := newFixture(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, &models.Account{ID: "acc-ghost", UserID: "u1", Type: models.AccountInvestment, Currency: "USD", Active: true}))
	holdWeek(t, store, "acc-ghost", models.Holding{SecurityID: "GHOST", Quantity: dec("5")})

	snap, err := svc.ComputeSnapshot(ctx, "acc-ghost", day("2024-03-08"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Contains(t, snap.Reason, models.ErrNoValidPrices.Error())
	assert.True(t, snap.Summary.MarketValue.IsZero())

	_, err = store.GetSnapshot(ctx, "acc-ghost", day("2024-03-08"))
	assert.NoError(t, err, "failed snapshots are persisted")
}

func TestComputeSnapshot_NoHoldingsFails(t *testing.T) {
	store, svc := newFixture(t)
	ctx := context.Background()
	require.NoError(t, store.SaveAccount(ctx, &models.Account{ID: "acc-empty", UserID: "u1", Type: models.AccountInvestment, Currency: "USD", Active: true}))

	snap, err := svc.ComputeSnapshot(ctx, "acc-empty", day("2024-03-08"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, snap.Status)
	assert.Contains(t, snap.Reason, "no holdings")
}

func TestComputeSnapshot_UnknownAccount(t *testing.T) {
	_, svc := newFixture(t)
	_, err := svc.ComputeSnapshot(context.Background(), "nope", day("2024-03-08"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestComputeSnapshot_StalePriceCarriedForward(t *testing.T) {
	_, svc := newFixture(t)

	// Monday 11th has no price; Friday's close is carried forward
	snap, err := svc.ComputeSnapshot(context.Background(), "acc-us", day("2024-03-11"))
	require.NoError(t, err)

	assert.Equal(t, "1530", snap.Summary.MarketValue.String())
	assert.Equal(t, 1, snap.Summary.StalePriceCount)
	assert.Equal(t, "2024-03-08", snap.Summary.LastPriceDate)
}

func TestComputeSnapshot_SingleObservation(t *testing.T) {
	_, svc := newFixture(t)

	snap, err := svc.ComputeSnapshot(context.Background(), "acc-us", day("2024-03-04"))
	require.NoError(t, err)

	assert.Equal(t, models.StatusInsufficientHistory, snap.Status)
	assert.Equal(t, "1500", snap.Summary.MarketValue.String())
	assert.False(t, snap.Performance.SharpeRatio.Valid)
	assert.Equal(t, models.NullInsufficientHistory, snap.Performance.Nulls["sharpe_ratio"])
	assert.False(t, snap.Summary.DailyReturn.Valid)
}

func TestComputeSnapshot_WritesChart(t *testing.T) {
	store, _ := newFixture(t)
	cfg := common.NewDefaultConfig()
	cfg.Charts.Enabled = true
	svc := NewService(store, cfg, common.NewSilentLogger())

	_, err := svc.ComputeSnapshot(context.Background(), "acc-us", day("2024-03-08"))
	require.NoError(t, err)

	png, ok := store.raw["charts/acc-us_2024-03-08.png"]
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))
}

func TestRenderNAVChart_NeedsTwoPoints(t *testing.T) {
	_, err := RenderNAVChart("x", []models.SeriesPoint{{Date: "2024-03-08"}}, 0, 0)
	assert.Error(t, err)
}

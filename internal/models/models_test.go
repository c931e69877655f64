package models

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeighted_NullIsDistinctFromZero(t *testing.T) {
	type row struct {
		A Weighted `json:"a"`
		B Weighted `json:"b"`
	}
	data, err := json.Marshal(row{A: Value(0), B: Null(NullZeroDenominator)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":0,"b":null}`, string(data))

	var back row
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.A.Valid)
	assert.False(t, back.B.Valid)
}

func TestValue_NonFiniteBecomesNull(t *testing.T) {
	assert.False(t, Value(math.NaN()).Valid)
	assert.False(t, Value(math.Inf(1)).Valid)
	assert.Nil(t, Value(math.Inf(-1)).Ptr())
	assert.Equal(t, 1.5, *Value(1.5).Ptr())
}

func TestParseTransactionType(t *testing.T) {
	tt, err := ParseTransactionType("cash-deposit")
	require.NoError(t, err)
	assert.Equal(t, TxDeposit, tt)

	_, err = ParseTransactionType("gift")
	assert.Error(t, err)
}

func TestTransactionType_UnmarshalRejectsUnknown(t *testing.T) {
	var tx Transaction
	err := json.Unmarshal([]byte(`{"type":"teleport","amount":"1"}`), &tx)
	assert.Error(t, err)
}

func TestIsExternalFlow(t *testing.T) {
	external := []TransactionType{TxDeposit, TxWithdrawal, TxTransferIn, TxTransferOut}
	for _, tt := range external {
		assert.True(t, tt.IsExternalFlow(), tt)
	}
	internal := []TransactionType{TxBuy, TxSell, TxDividend, TxFee, TxSplit}
	for _, tt := range internal {
		assert.False(t, tt.IsExternalFlow(), tt)
	}
}

func TestSecurityType_AssetClass(t *testing.T) {
	assert.Equal(t, AssetClassEquity, SecurityTypeEquity.AssetClass())
	assert.Equal(t, AssetClassCash, SecurityTypeCash.AssetClass())
	assert.Equal(t, AssetClassOther, SecurityTypeOption.AssetClass())
	assert.Equal(t, AssetClassOther, SecurityTypeDigital.AssetClass())
}

func TestCalculationStatus_Worse(t *testing.T) {
	assert.Equal(t, StatusMissingPriceData, StatusOK.Worse(StatusMissingPriceData))
	assert.Equal(t, StatusMissingPriceData, StatusMissingPriceData.Worse(StatusInsufficientHistory))
	assert.Equal(t, StatusFailed, StatusPartial.Worse(StatusFailed))
}

func TestTailRisk_Label(t *testing.T) {
	assert.Equal(t, "95", TailRisk{Confidence: 0.95}.Label())
	assert.Equal(t, "97.5", TailRisk{Confidence: 0.975}.Label())
}

func TestSnapshotEncode_Deterministic(t *testing.T) {
	build := func() *AnalyticsSnapshot {
		s := &AnalyticsSnapshot{
			AccountID: "acc-1",
			AsOfDate:  "2024-03-08",
			Currency:  "USD",
			Status:    StatusOK,
		}
		s.Summary.MarketValue = AmountOf(decimal.RequireFromString("1234.56"))
		s.Exposure.Allocations = map[Dimension]Allocation{
			DimensionSector: {
				"Tech":   {Value: AmountOf(decimal.NewFromInt(800)), Weight: 0.8},
				"Energy": {Value: AmountOf(decimal.NewFromInt(200)), Weight: 0.2},
			},
		}
		return s
	}
	a, da, err := build().Encode()
	require.NoError(t, err)
	b, db, err := build().Encode()
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, da, db)
	assert.Contains(t, string(a), `"market_value":"1234.56"`)
}

func TestNullReasons(t *testing.T) {
	f := PerformanceFacet{SharpeRatio: Null(NullInsufficientHistory), Beta: Value(1)}
	reasons := NullReasons(f.WeightedFields())
	assert.Equal(t, NullInsufficientHistory, reasons["sharpe_ratio"])
	_, hasBeta := reasons["beta"]
	assert.False(t, hasBeta)
	// zero-value metrics have no explicit reason
	assert.Equal(t, NullUndefined, reasons["alpha"])
}

func TestSummaryFacet_AdditiveFieldsCoverBreakdowns(t *testing.T) {
	var f SummaryFacet
	names := map[string]bool{}
	for _, a := range f.AdditiveFields() {
		names[a.Name] = true
	}
	assert.True(t, names["market_value"])
	assert.True(t, names["by_asset_class.cash"])
	assert.True(t, names["by_geography.international"])
	assert.Len(t, names, 5+len(AssetClasses)+len(Geographies))
}

func TestDecodeSnapshot_RestoresNullReasons(t *testing.T) {
	s := &AnalyticsSnapshot{AccountID: "a1", AsOfDate: "2024-03-08", Currency: "USD", Status: StatusInsufficientHistory}
	s.Performance.TotalReturn = Value(0)
	s.Performance.SharpeRatio = Null(NullInsufficientHistory)
	s.Performance.Nulls = NullReasons(s.Performance.WeightedFields())

	data, _, err := s.Encode()
	require.NoError(t, err)

	got, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.True(t, got.Performance.TotalReturn.Valid)
	assert.Equal(t, NullInsufficientHistory, got.Performance.SharpeRatio.Reason)

	again, _, err := got.Encode()
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

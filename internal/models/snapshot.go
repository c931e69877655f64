package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// AnalyticsSnapshot is the computed analytics record for one account and as-of date.
// It carries no wall-clock timestamps so recomputation from identical inputs is byte-identical.
type AnalyticsSnapshot struct {
	AccountID   string            `json:"account_id"`
	AsOfDate    string            `json:"as_of_date"`
	Currency    string            `json:"currency"`
	Status      CalculationStatus `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Summary     SummaryFacet      `json:"summary"`
	Performance PerformanceFacet  `json:"performance"`
	Risk        RiskFacet         `json:"risk"`
	Exposure    ExposureFacet     `json:"exposure"`
}

// Key returns the (account_id, as_of_date) identity.
func (s *AnalyticsSnapshot) Key() string {
	return s.AccountID + "/" + s.AsOfDate
}

// Encode returns the canonical JSON encoding and its sha256 digest.
func (s *AnalyticsSnapshot) Encode() ([]byte, string, error) {
	return encodeCanonical(s)
}

// AssetClassBreakdown is the valuation split by security type bucket.
type AssetClassBreakdown struct {
	Equity Amount `json:"equity"`
	Fund   Amount `json:"fund"`
	Debt   Amount `json:"debt"`
	Cash   Amount `json:"cash"`
	Other  Amount `json:"other"`
}

// Bucket returns the field for an asset class.
func (b *AssetClassBreakdown) Bucket(c AssetClass) *Amount {
	switch c {
	case AssetClassEquity:
		return &b.Equity
	case AssetClassFund:
		return &b.Fund
	case AssetClassDebt:
		return &b.Debt
	case AssetClassCash:
		return &b.Cash
	case AssetClassOther:
		return &b.Other
	}
	panic(fmt.Sprintf("unhandled asset class %q", string(c)))
}

// GeographyBreakdown is the valuation split relative to the account's base country.
type GeographyBreakdown struct {
	Domestic      Amount `json:"domestic"`
	International Amount `json:"international"`
}

// Bucket returns the field for a geography.
func (b *GeographyBreakdown) Bucket(g Geography) *Amount {
	switch g {
	case GeographyDomestic:
		return &b.Domestic
	case GeographyInternational:
		return &b.International
	}
	panic(fmt.Sprintf("unhandled geography %q", string(g)))
}

// UnresolvedHolding is a holding left out of valuation.
type UnresolvedHolding struct {
	SecurityID string `json:"security_id"`
	Reason     string `json:"reason"`
}

// SummaryFacet holds valuation totals for the as-of date.
type SummaryFacet struct {
	MarketValue    Amount              `json:"market_value"`
	CostBasis      Amount              `json:"cost_basis"`
	CashBalance    Amount              `json:"cash_balance"`
	UnrealizedGain Amount              `json:"unrealized_gain"`
	NetFlows       Amount              `json:"net_flows"`
	ByAssetClass   AssetClassBreakdown `json:"by_asset_class"`
	ByGeography    GeographyBreakdown  `json:"by_geography"`

	UnrealizedGainPct Weighted `json:"unrealized_gain_pct"`
	DailyReturn       Weighted `json:"daily_return"`

	HoldingCount    int                 `json:"holding_count"`
	PricedCount     int                 `json:"priced_count"`
	StalePriceCount int                 `json:"stale_price_count"`
	Unresolved      []UnresolvedHolding `json:"unresolved,omitempty"`
	LastPriceDate   string              `json:"last_price_date,omitempty"`

	Nulls map[string]NullReason `json:"nulls,omitempty"`
}

// AdditiveFields lists the fields summed on roll-up.
func (f *SummaryFacet) AdditiveFields() []NamedAmount {
	fields := []NamedAmount{
		{"market_value", &f.MarketValue},
		{"cost_basis", &f.CostBasis},
		{"cash_balance", &f.CashBalance},
		{"unrealized_gain", &f.UnrealizedGain},
		{"net_flows", &f.NetFlows},
	}
	for _, c := range AssetClasses {
		fields = append(fields, NamedAmount{"by_asset_class." + string(c), f.ByAssetClass.Bucket(c)})
	}
	for _, g := range Geographies {
		fields = append(fields, NamedAmount{"by_geography." + string(g), f.ByGeography.Bucket(g)})
	}
	return fields
}

// WeightedFields lists the fields value-weighted on roll-up.
func (f *SummaryFacet) WeightedFields() []NamedWeighted {
	return []NamedWeighted{
		{"unrealized_gain_pct", &f.UnrealizedGainPct},
		{"daily_return", &f.DailyReturn},
	}
}

// SeriesPoint is one NAV observation with its period return.
type SeriesPoint struct {
	Date       string   `json:"date"`
	NAV        Amount   `json:"nav"`
	Flow       Amount   `json:"flow"`
	Return     Weighted `json:"return"`
	Cumulative float64  `json:"cumulative"`
	Drawdown   float64  `json:"drawdown"`
}

// Exclusion records a sub-period left out of return chaining.
type Exclusion struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

// MonthlyReturn is the chained return of one calendar month. Benchmark is null when no
// benchmark return falls in the month.
type MonthlyReturn struct {
	Month     string   `json:"month"`
	Return    float64  `json:"return"`
	Benchmark Weighted `json:"benchmark"`
}

// DrawdownPeriod is one of the deepest drawdown episodes. Recovery fields are empty
// while the account is still underwater.
type DrawdownPeriod struct {
	Peak         string  `json:"peak"`
	Trough       string  `json:"trough"`
	Recovery     string  `json:"recovery,omitempty"`
	Depth        float64 `json:"depth"`
	DurationDays int     `json:"duration_days"`
	RecoveryDays *int    `json:"recovery_days"`
}

// PerformanceFacet holds return-series statistics.
type PerformanceFacet struct {
	Frequency             Frequency `json:"frequency"`
	Observations          int       `json:"observations"`
	BenchmarkSymbol       string    `json:"benchmark_symbol,omitempty"`
	BenchmarkObservations int       `json:"benchmark_observations"`

	TotalReturn         Weighted `json:"total_return"`
	AnnualizedReturn    Weighted `json:"annualized_return"`
	Volatility          Weighted `json:"volatility"`
	MoneyWeightedReturn Weighted `json:"money_weighted_return"`

	SharpeRatio      Weighted `json:"sharpe_ratio"`
	SortinoRatio     Weighted `json:"sortino_ratio"`
	CalmarRatio      Weighted `json:"calmar_ratio"`
	TreynorRatio     Weighted `json:"treynor_ratio"`
	InformationRatio Weighted `json:"information_ratio"`
	OmegaRatio       Weighted `json:"omega_ratio"`

	BenchmarkTotalReturn      Weighted `json:"benchmark_total_return"`
	BenchmarkAnnualizedReturn Weighted `json:"benchmark_annualized_return"`
	MonthsOutperformed        Weighted `json:"percent_months_outperformed"`

	Alpha         Weighted `json:"alpha"`
	Beta          Weighted `json:"beta"`
	Correlation   Weighted `json:"correlation"`
	TrackingError Weighted `json:"tracking_error"`
	UpCapture     Weighted `json:"up_capture"`
	DownCapture   Weighted `json:"down_capture"`

	MaxDrawdown         Weighted `json:"max_drawdown"`
	MaxDrawdownStart    string   `json:"max_drawdown_start,omitempty"`
	MaxDrawdownEnd      string   `json:"max_drawdown_end,omitempty"`
	RecoveryDate        string   `json:"recovery_date,omitempty"`
	RecoveryDays        *int     `json:"recovery_days"`
	CurrentDrawdown     Weighted `json:"current_drawdown"`
	AverageDrawdown     Weighted `json:"average_drawdown"`
	LongestDrawdownDays int      `json:"longest_drawdown_days"`

	BestPeriod      Weighted `json:"best_period"`
	WorstPeriod     Weighted `json:"worst_period"`
	BestMonth       Weighted `json:"best_month"`
	WorstMonth      Weighted `json:"worst_month"`
	WinRate         Weighted `json:"win_rate"`
	PositivePeriods int      `json:"positive_periods"`
	NegativePeriods int      `json:"negative_periods"`
	RiskFreeRate    Weighted `json:"risk_free_rate"`

	MonthlyReturns []MonthlyReturn  `json:"monthly_returns,omitempty"`
	Drawdowns      []DrawdownPeriod `json:"drawdowns,omitempty"`

	Series     []SeriesPoint `json:"series,omitempty"`
	Exclusions []Exclusion   `json:"exclusions,omitempty"`

	Nulls map[string]NullReason `json:"nulls,omitempty"`
}

// WeightedFields lists the fields value-weighted on roll-up.
func (f *PerformanceFacet) WeightedFields() []NamedWeighted {
	return []NamedWeighted{
		{"total_return", &f.TotalReturn},
		{"annualized_return", &f.AnnualizedReturn},
		{"volatility", &f.Volatility},
		{"money_weighted_return", &f.MoneyWeightedReturn},
		{"sharpe_ratio", &f.SharpeRatio},
		{"sortino_ratio", &f.SortinoRatio},
		{"calmar_ratio", &f.CalmarRatio},
		{"treynor_ratio", &f.TreynorRatio},
		{"information_ratio", &f.InformationRatio},
		{"omega_ratio", &f.OmegaRatio},
		{"benchmark_total_return", &f.BenchmarkTotalReturn},
		{"benchmark_annualized_return", &f.BenchmarkAnnualizedReturn},
		{"percent_months_outperformed", &f.MonthsOutperformed},
		{"alpha", &f.Alpha},
		{"beta", &f.Beta},
		{"correlation", &f.Correlation},
		{"tracking_error", &f.TrackingError},
		{"up_capture", &f.UpCapture},
		{"down_capture", &f.DownCapture},
		{"max_drawdown", &f.MaxDrawdown},
		{"current_drawdown", &f.CurrentDrawdown},
		{"average_drawdown", &f.AverageDrawdown},
		{"best_period", &f.BestPeriod},
		{"worst_period", &f.WorstPeriod},
		{"best_month", &f.BestMonth},
		{"worst_month", &f.WorstMonth},
		{"win_rate", &f.WinRate},
		{"risk_free_rate", &f.RiskFreeRate},
	}
}

// RatioFields are the performance ratios that must be null for short series.
func (f *PerformanceFacet) RatioFields() []NamedWeighted {
	return []NamedWeighted{
		{"sharpe_ratio", &f.SharpeRatio},
		{"sortino_ratio", &f.SortinoRatio},
		{"calmar_ratio", &f.CalmarRatio},
		{"treynor_ratio", &f.TreynorRatio},
		{"information_ratio", &f.InformationRatio},
		{"omega_ratio", &f.OmegaRatio},
		{"alpha", &f.Alpha},
		{"beta", &f.Beta},
		{"correlation", &f.Correlation},
		{"tracking_error", &f.TrackingError},
		{"up_capture", &f.UpCapture},
		{"down_capture", &f.DownCapture},
		{"volatility", &f.Volatility},
	}
}

// TailRisk holds historical VaR and CVaR at one confidence level.
type TailRisk struct {
	Confidence float64  `json:"confidence"`
	VaR        Weighted `json:"var"`
	CVaR       Weighted `json:"cvar"`
}

// Label returns the confidence as a percentage label, e.g. "95" or "97.5".
func (t TailRisk) Label() string {
	return fmt.Sprintf("%g", math.Round(t.Confidence*1000)/10)
}

// RiskFacet holds distribution and concentration statistics.
type RiskFacet struct {
	Observations int        `json:"observations"`
	TailRisk     []TailRisk `json:"tail_risk"`

	Skewness          Weighted `json:"skewness"`
	Kurtosis          Weighted `json:"kurtosis"`
	DownsideDeviation Weighted `json:"downside_deviation"`
	TailRatio         Weighted `json:"tail_ratio"`
	UlcerIndex        Weighted `json:"ulcer_index"`
	PainIndex         Weighted `json:"pain_index"`

	HHI                Weighted `json:"hhi"`
	EffectivePositions Weighted `json:"effective_positions"`
	LargestWeight      Weighted `json:"largest_weight"`
	Top5Weight         Weighted `json:"top5_weight"`
	Top10Weight        Weighted `json:"top10_weight"`

	DataCoverage Weighted `json:"data_coverage"`

	Nulls map[string]NullReason `json:"nulls,omitempty"`
}

// WeightedFields lists the fields value-weighted on roll-up.
func (f *RiskFacet) WeightedFields() []NamedWeighted {
	var fields []NamedWeighted
	for i := range f.TailRisk {
		label := f.TailRisk[i].Label()
		fields = append(fields,
			NamedWeighted{"var_" + label, &f.TailRisk[i].VaR},
			NamedWeighted{"cvar_" + label, &f.TailRisk[i].CVaR},
		)
	}
	return append(fields,
		NamedWeighted{"skewness", &f.Skewness},
		NamedWeighted{"kurtosis", &f.Kurtosis},
		NamedWeighted{"downside_deviation", &f.DownsideDeviation},
		NamedWeighted{"tail_ratio", &f.TailRatio},
		NamedWeighted{"ulcer_index", &f.UlcerIndex},
		NamedWeighted{"pain_index", &f.PainIndex},
		NamedWeighted{"hhi", &f.HHI},
		NamedWeighted{"effective_positions", &f.EffectivePositions},
		NamedWeighted{"largest_weight", &f.LargestWeight},
		NamedWeighted{"top5_weight", &f.Top5Weight},
		NamedWeighted{"top10_weight", &f.Top10Weight},
		NamedWeighted{"data_coverage", &f.DataCoverage},
	)
}

// AllocationEntry is one group within an allocation dimension.
type AllocationEntry struct {
	Value  Amount  `json:"value"`
	Weight float64 `json:"weight"`
}

// Allocation maps a group label to its value and weight.
type Allocation map[string]AllocationEntry

// HoldingWeight is a position's share of the account.
type HoldingWeight struct {
	SecurityID string  `json:"security_id"`
	Symbol     string  `json:"symbol"`
	Name       string  `json:"name,omitempty"`
	Value      Amount  `json:"value"`
	Weight     float64 `json:"weight"`
}

// ExposureFacet holds allocation breakdowns for the as-of holdings.
// Group values are additive; weights are recomputed from the summed values on roll-up,
// which equals value-weighting the account weights.
type ExposureFacet struct {
	TotalValue  Amount                   `json:"total_value"`
	Allocations map[Dimension]Allocation `json:"allocations"`
	TopHoldings []HoldingWeight          `json:"top_holdings"`
	Positions   []HoldingWeight          `json:"positions"`
}

// UserPortfolioView is the roll-up of a user's active accounts for a date.
type UserPortfolioView struct {
	UserID      string                `json:"user_id"`
	AsOfDate    string                `json:"as_of_date"`
	Currency    string                `json:"currency"`
	Status      CalculationStatus     `json:"status"`
	Reason      string                `json:"reason,omitempty"`
	Accounts    []AccountContribution `json:"accounts"`
	Gaps        []Gap                 `json:"gaps,omitempty"`
	Summary     SummaryFacet          `json:"summary"`
	Performance PerformanceFacet      `json:"performance"`
	Risk        RiskFacet             `json:"risk"`
	Exposure    ExposureFacet         `json:"exposure"`
}

// TotalMarketValue is the sum of the contributing accounts' converted market values.
func (v *UserPortfolioView) TotalMarketValue() Amount {
	return v.Summary.MarketValue
}

// Encode returns the canonical JSON encoding and its sha256 digest.
func (v *UserPortfolioView) Encode() ([]byte, string, error) {
	return encodeCanonical(v)
}

// AccountContribution is one account's share of a user view.
type AccountContribution struct {
	AccountID   string            `json:"account_id"`
	Currency    string            `json:"currency"`
	Status      CalculationStatus `json:"status"`
	MarketValue Amount            `json:"market_value"` // in the view currency
	FxRate      decimal.Decimal   `json:"fx_rate"`
	FxStale     bool              `json:"fx_stale,omitempty"`
	Weight      float64           `json:"weight"`
}

// Gap records an account left out of a user view.
type Gap struct {
	AccountID string `json:"account_id"`
	Reason    string `json:"reason"`
}

func encodeCanonical(v any) ([]byte, string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode: %w", err)
	}
	sum := sha256.Sum256(data)
	return data, hex.EncodeToString(sum[:]), nil
}

// DecodeSnapshot parses a canonical snapshot encoding. Null reasons are restored onto
// undefined fields from each facet's Nulls map.
func DecodeSnapshot(data []byte) (*AnalyticsSnapshot, error) {
	var s AnalyticsSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	restoreReasons(s.Summary.WeightedFields(), s.Summary.Nulls)
	restoreReasons(s.Performance.WeightedFields(), s.Performance.Nulls)
	restoreReasons(s.Risk.WeightedFields(), s.Risk.Nulls)
	return &s, nil
}

// DecodeUserView parses a canonical user view encoding.
func DecodeUserView(data []byte) (*UserPortfolioView, error) {
	var v UserPortfolioView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode user view: %w", err)
	}
	restoreReasons(v.Summary.WeightedFields(), v.Summary.Nulls)
	restoreReasons(v.Performance.WeightedFields(), v.Performance.Nulls)
	restoreReasons(v.Risk.WeightedFields(), v.Risk.Nulls)
	return &v, nil
}

func restoreReasons(fields []NamedWeighted, nulls map[string]NullReason) {
	for _, f := range fields {
		if f.Field.Valid {
			continue
		}
		if r, ok := nulls[f.Name]; ok {
			f.Field.Reason = r
		} else {
			f.Field.Reason = NullUndefined
		}
	}
}

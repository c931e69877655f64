package models

import (
	"fmt"
	"strings"
)

// SecurityType classifies a security. The set is closed; unknown values are rejected on parse.
type SecurityType string

const (
	SecurityTypeEquity  SecurityType = "equity"
	SecurityTypeFund    SecurityType = "fund"
	SecurityTypeDebt    SecurityType = "debt"
	SecurityTypeOption  SecurityType = "option"
	SecurityTypeFuture  SecurityType = "future"
	SecurityTypeForward SecurityType = "forward"
	SecurityTypeSwap    SecurityType = "swap"
	SecurityTypeCash    SecurityType = "cash"
	SecurityTypeDigital SecurityType = "digital"
	SecurityTypeOther   SecurityType = "other"
)

var securityTypes = []SecurityType{
	SecurityTypeEquity, SecurityTypeFund, SecurityTypeDebt, SecurityTypeOption, SecurityTypeFuture,
	SecurityTypeForward, SecurityTypeSwap, SecurityTypeCash, SecurityTypeDigital, SecurityTypeOther,
}

// Valid reports whether t is a member of the closed set.
func (t SecurityType) Valid() bool {
	for _, v := range securityTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseSecurityType parses a security type, case-insensitively.
func ParseSecurityType(s string) (SecurityType, error) {
	t := SecurityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown security type %q", s)
	}
	return t, nil
}

// UnmarshalText rejects values outside the closed set.
func (t *SecurityType) UnmarshalText(b []byte) error {
	v, err := ParseSecurityType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// AssetClass maps a security type onto the valuation breakdown buckets.
func (t SecurityType) AssetClass() AssetClass {
	switch t {
	case SecurityTypeEquity:
		return AssetClassEquity
	case SecurityTypeFund:
		return AssetClassFund
	case SecurityTypeDebt:
		return AssetClassDebt
	case SecurityTypeCash:
		return AssetClassCash
	case SecurityTypeOption, SecurityTypeFuture, SecurityTypeForward, SecurityTypeSwap,
		SecurityTypeDigital, SecurityTypeOther:
		return AssetClassOther
	}
	return AssetClassOther
}

// SecuritySubtype refines a SecurityType.
type SecuritySubtype string

const (
	SubtypeCommonStock    SecuritySubtype = "common_stock"
	SubtypePreferredStock SecuritySubtype = "preferred_stock"
	SubtypeETF            SecuritySubtype = "etf"
	SubtypeMutualFund     SecuritySubtype = "mutual_fund"
	SubtypeBond           SecuritySubtype = "bond"
	SubtypeBill           SecuritySubtype = "bill"
	SubtypeNote           SecuritySubtype = "note"
	SubtypeOption         SecuritySubtype = "option"
	SubtypeWarrant        SecuritySubtype = "warrant"
	SubtypeCash           SecuritySubtype = "cash"
	SubtypeCryptocurrency SecuritySubtype = "cryptocurrency"
	SubtypeOther          SecuritySubtype = "other"
)

var securitySubtypes = []SecuritySubtype{
	SubtypeCommonStock, SubtypePreferredStock, SubtypeETF, SubtypeMutualFund, SubtypeBond, SubtypeBill,
	SubtypeNote, SubtypeOption, SubtypeWarrant, SubtypeCash, SubtypeCryptocurrency, SubtypeOther,
}

// Valid reports whether s is a member of the closed set. Empty is allowed (subtype unknown).
func (s SecuritySubtype) Valid() bool {
	if s == "" {
		return true
	}
	for _, v := range securitySubtypes {
		if v == s {
			return true
		}
	}
	return false
}

// UnmarshalText rejects values outside the closed set.
func (s *SecuritySubtype) UnmarshalText(b []byte) error {
	v := SecuritySubtype(strings.ToLower(strings.TrimSpace(string(b))))
	if !v.Valid() {
		return fmt.Errorf("unknown security subtype %q", string(b))
	}
	*s = v
	return nil
}

// TransactionType is the closed set of ledger entry kinds.
type TransactionType string

const (
	TxBuy             TransactionType = "buy"
	TxSell            TransactionType = "sell"
	TxDeposit         TransactionType = "deposit"
	TxWithdrawal      TransactionType = "withdrawal"
	TxTransferIn      TransactionType = "transfer_in"
	TxTransferOut     TransactionType = "transfer_out"
	TxDividend        TransactionType = "dividend"
	TxInterest        TransactionType = "interest"
	TxFee             TransactionType = "fee"
	TxTax             TransactionType = "tax"
	TxSplit           TransactionType = "split"
	TxMerger          TransactionType = "merger"
	TxSpinoff         TransactionType = "spinoff"
	TxCorporateAction TransactionType = "corporate_action"
	TxAdjustment      TransactionType = "adjustment"
	TxCancel          TransactionType = "cancel"
	TxOther           TransactionType = "other"
)

var transactionTypes = []TransactionType{
	TxBuy, TxSell, TxDeposit, TxWithdrawal, TxTransferIn, TxTransferOut, TxDividend, TxInterest,
	TxFee, TxTax, TxSplit, TxMerger, TxSpinoff, TxCorporateAction, TxAdjustment, TxCancel, TxOther,
}

// Valid reports whether t is a member of the closed set.
func (t TransactionType) Valid() bool {
	for _, v := range transactionTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseTransactionType parses a transaction type. "cash-deposit" style aliases are accepted.
func ParseTransactionType(s string) (TransactionType, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch norm {
	case "cash_deposit":
		norm = string(TxDeposit)
	case "cash_withdrawal":
		norm = string(TxWithdrawal)
	}
	t := TransactionType(norm)
	if !t.Valid() {
		return "", fmt.Errorf("unknown transaction type %q", s)
	}
	return t, nil
}

// UnmarshalText rejects values outside the closed set.
func (t *TransactionType) UnmarshalText(b []byte) error {
	v, err := ParseTransactionType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// IsExternalFlow reports whether the transaction moves money across the account boundary.
// Only external flows split TWR sub-periods; trades and income stay inside the account.
func (t TransactionType) IsExternalFlow() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxTransferIn, TxTransferOut:
		return true
	case TxBuy, TxSell, TxDividend, TxInterest, TxFee, TxTax, TxSplit, TxMerger, TxSpinoff,
		TxCorporateAction, TxAdjustment, TxCancel, TxOther:
		return false
	}
	return false
}

// AccountType is the closed set of account kinds.
type AccountType string

const (
	AccountInvestment AccountType = "investment"
	AccountDepository AccountType = "depository"
	AccountCredit     AccountType = "credit"
	AccountLoan       AccountType = "loan"
	AccountOther      AccountType = "other"
)

// Valid reports whether t is a member of the closed set.
func (t AccountType) Valid() bool {
	switch t {
	case AccountInvestment, AccountDepository, AccountCredit, AccountLoan, AccountOther:
		return true
	}
	return false
}

// UnmarshalText rejects values outside the closed set.
func (t *AccountType) UnmarshalText(b []byte) error {
	v := AccountType(strings.ToLower(strings.TrimSpace(string(b))))
	if !v.Valid() {
		return fmt.Errorf("unknown account type %q", string(b))
	}
	*t = v
	return nil
}

// Analysable reports whether analytics snapshots are produced for this account type.
func (t AccountType) Analysable() bool {
	switch t {
	case AccountInvestment, AccountDepository:
		return true
	case AccountCredit, AccountLoan, AccountOther:
		return false
	}
	return false
}

// AssetClass is a valuation breakdown bucket.
type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassFund   AssetClass = "fund"
	AssetClassDebt   AssetClass = "debt"
	AssetClassCash   AssetClass = "cash"
	AssetClassOther  AssetClass = "other"
)

// AssetClasses lists every bucket in a fixed order.
var AssetClasses = []AssetClass{AssetClassEquity, AssetClassFund, AssetClassDebt, AssetClassCash, AssetClassOther}

// Geography is the domestic/international split relative to an account's base country.
type Geography string

const (
	GeographyDomestic      Geography = "domestic"
	GeographyInternational Geography = "international"
)

// Geographies lists every bucket in a fixed order.
var Geographies = []Geography{GeographyDomestic, GeographyInternational}

// CalculationStatus is the outcome of a snapshot computation.
type CalculationStatus string

const (
	StatusOK                  CalculationStatus = "ok"
	StatusInsufficientHistory CalculationStatus = "insufficient_history"
	StatusMissingPriceData    CalculationStatus = "missing_price_data"
	StatusPartial             CalculationStatus = "partial"
	StatusFailed              CalculationStatus = "failed"
)

// Valid reports whether s is a member of the closed set.
func (s CalculationStatus) Valid() bool {
	switch s {
	case StatusOK, StatusInsufficientHistory, StatusMissingPriceData, StatusPartial, StatusFailed:
		return true
	}
	return false
}

// Severity orders statuses so the worst one wins when several apply.
func (s CalculationStatus) Severity() int {
	switch s {
	case StatusOK:
		return 0
	case StatusInsufficientHistory:
		return 1
	case StatusPartial:
		return 2
	case StatusMissingPriceData:
		return 3
	case StatusFailed:
		return 4
	}
	return 4
}

// Worse returns whichever of s and o is more severe.
func (s CalculationStatus) Worse(o CalculationStatus) CalculationStatus {
	if o.Severity() > s.Severity() {
		return o
	}
	return s
}

// NullReason explains why a weighted metric has no value.
type NullReason string

const (
	NullInsufficientHistory NullReason = "insufficient_history"
	NullZeroDenominator     NullReason = "zero_denominator"
	NullNoBenchmark         NullReason = "no_benchmark"
	NullUndefined           NullReason = "undefined"
)

// Dimension is an exposure allocation axis.
type Dimension string

const (
	DimensionAssetClass Dimension = "asset_class"
	DimensionType       Dimension = "security_type"
	DimensionSubtype    Dimension = "security_subtype"
	DimensionSector     Dimension = "sector"
	DimensionIndustry   Dimension = "industry"
	DimensionCountry    Dimension = "country"
	DimensionRegion     Dimension = "region"
	DimensionCurrency   Dimension = "currency"
)

// Dimensions lists every allocation axis in a fixed order.
var Dimensions = []Dimension{
	DimensionAssetClass, DimensionType, DimensionSubtype, DimensionSector,
	DimensionIndustry, DimensionCountry, DimensionRegion, DimensionCurrency,
}

// UnknownLabel groups holdings whose attribute is not set.
const UnknownLabel = "unknown"

// Frequency is the sampling interval of a return series.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// PeriodsPerYear returns the annualization factor for the frequency.
func (f Frequency) PeriodsPerYear(tradingDays int) float64 {
	switch f {
	case FrequencyDaily:
		return float64(tradingDays)
	case FrequencyWeekly:
		return 52
	case FrequencyMonthly:
		return 12
	}
	return float64(tradingDays)
}

// ParseFrequency parses a frequency name.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Security is the reference data for an instrument.
type Security struct {
	ID       string          `json:"id"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Type     SecurityType    `json:"type"`
	Subtype  SecuritySubtype `json:"subtype,omitempty"`
	Currency string          `json:"currency"`
	Sector   string          `json:"sector,omitempty"`
	Industry string          `json:"industry,omitempty"`
	Country  string          `json:"country,omitempty"` // ISO 3166 alpha-2
	Region   string          `json:"region,omitempty"`
}

// IsCash reports whether the security is a cash position priced at 1 unit of its currency.
func (s *Security) IsCash() bool {
	return s.Type == SecurityTypeCash
}

// SecurityPrice is a close price for a security on a date.
// Corrections are stored as a new Revision; earlier revisions are never rewritten.
type SecurityPrice struct {
	SecurityID string          `json:"security_id"`
	Date       time.Time       `json:"date"`
	Close      decimal.Decimal `json:"close"`
	Currency   string          `json:"currency"`
	Revision   int             `json:"revision"`
}

// FxRate converts one unit of From into Rate units of To.
type FxRate struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Date     time.Time       `json:"date"`
	Rate     decimal.Decimal `json:"rate"`
	Revision int             `json:"revision"`
}

// Pair returns the currency pair key, e.g. "AUD/USD".
func (r FxRate) Pair() string {
	return r.From + "/" + r.To
}

// BenchmarkReturn is one period return of a benchmark or risk-free series.
type BenchmarkReturn struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Return float64   `json:"return"`
}

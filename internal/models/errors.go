package models

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoData is returned by providers when a point lookup has no record.
	// It is distinct from a zero value.
	ErrNoData = errors.New("no data")
	// ErrNotFound is returned by stores for missing keys.
	ErrNotFound = errors.New("not found")

	ErrPriceUnavailable     = errors.New("price unavailable")
	ErrRateUnavailable      = errors.New("rate unavailable")
	ErrInsufficientHistory  = errors.New("insufficient history")
	ErrZeroDenominator      = errors.New("zero denominator")
	ErrInconsistentCashFlow = errors.New("inconsistent cash flow")
	ErrNoValidPrices        = errors.New("no valid price data")
)

// ResolutionError describes a failed price or rate lookup.
type ResolutionError struct {
	Kind    error // ErrPriceUnavailable or ErrRateUnavailable
	Subject string
	Date    time.Time
	Window  int
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s: %s on %s (window %d trading days)",
		e.Kind, e.Subject, e.Date.Format("2006-01-02"), e.Window)
}

func (e *ResolutionError) Unwrap() error {
	return e.Kind
}

// NullReasonFor maps a calculation error to the reason recorded on a null metric.
func NullReasonFor(err error) NullReason {
	switch {
	case errors.Is(err, ErrInsufficientHistory):
		return NullInsufficientHistory
	case errors.Is(err, ErrZeroDenominator):
		return NullZeroDenominator
	default:
		return NullUndefined
	}
}

package common

import (
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// defaultFraction is used for codes go-money does not know.
const defaultFraction = 2

// CurrencyFraction returns the number of minor-unit digits for an ISO currency code.
func CurrencyFraction(code string) int32 {
	c := money.GetCurrency(strings.ToUpper(code))
	if c == nil {
		return defaultFraction
	}
	return int32(c.Fraction)
}

// IsKnownCurrency reports whether code is an ISO currency known to go-money.
func IsKnownCurrency(code string) bool {
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// RoundMoney rounds an amount to the minor unit of its currency (half away from zero).
func RoundMoney(amount decimal.Decimal, code string) decimal.Decimal {
	return amount.Round(CurrencyFraction(code))
}

// MinorUnit returns one unit of the currency's smallest denomination, e.g. 0.01 for USD.
func MinorUnit(code string) decimal.Decimal {
	return decimal.New(1, -CurrencyFraction(code))
}

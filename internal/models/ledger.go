package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User owns one or more accounts and has a base reporting currency.
type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

// Account is an investment account in its own currency.
type Account struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	Name        string      `json:"name"`
	Type        AccountType `json:"type"`
	Currency    string      `json:"currency"`
	BaseCountry string      `json:"base_country"`
	Active      bool        `json:"active"`
}

// Holding is a position at a point in time. Quantity is negative for shorts.
// CostBasis is the total cost in the security's currency.
type Holding struct {
	AccountID  string          `json:"account_id"`
	SecurityID string          `json:"security_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
	AsOfDate   time.Time       `json:"as_of_date"`
}

// Transaction is an append-only ledger entry in the account currency.
// Amount follows the account's point of view: inflows positive, outflows negative.
type Transaction struct {
	ID         string           `json:"id"`
	AccountID  string           `json:"account_id"`
	SecurityID string           `json:"security_id,omitempty"`
	Type       TransactionType  `json:"type"`
	Quantity   *decimal.Decimal `json:"quantity,omitempty"`
	Price      *decimal.Decimal `json:"price,omitempty"`
	Amount     decimal.Decimal  `json:"amount"`
	TradeDate  time.Time        `json:"trade_date"`
}

// IsExternalFlow reports whether this entry is a deposit/withdrawal style flow.
func (t Transaction) IsExternalFlow() bool {
	return t.Type.IsExternalFlow()
}

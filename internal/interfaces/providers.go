package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

// PriceProvider answers point lookups for close prices.
// A missing record returns models.ErrNoData, never a zero price.
type PriceProvider interface {
	GetPrice(ctx context.Context, securityID string, date time.Time) (*models.SecurityPrice, error)
}

// FxProvider answers point lookups for exchange rates.
// A missing record returns models.ErrNoData.
type FxProvider interface {
	GetRate(ctx context.Context, from, to string, date time.Time) (*models.FxRate, error)
}

// BenchmarkProvider returns a benchmark (or risk-free) return series over a date range.
type BenchmarkProvider interface {
	GetReturns(ctx context.Context, symbol string, from, to time.Time) ([]models.BenchmarkReturn, error)
}

// SecurityMaster resolves security reference data.
type SecurityMaster interface {
	GetSecurity(ctx context.Context, securityID string) (*models.Security, error)
}

// HoldingsProvider returns discrete holdings snapshots.
type HoldingsProvider interface {
	// GetHoldings returns the set recorded for exactly this date, or models.ErrNoData.
	GetHoldings(ctx context.Context, accountID string, date time.Time) ([]models.Holding, error)
	// HoldingDates lists the dates in [from, to] that have a holdings set, ascending.
	HoldingDates(ctx context.Context, accountID string, from, to time.Time) ([]time.Time, error)
}

// TransactionLedger is the append-only transaction log.
type TransactionLedger interface {
	GetTransactions(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error)
}

// AccountDirectory resolves users and accounts.
type AccountDirectory interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]*models.Account, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
}

package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/models"
)

// StorageManager coordinates the storage areas
type StorageManager interface {
	MarketStore() MarketStore
	LedgerStore() LedgerStore
	SnapshotStore() SnapshotStore
	JobQueueStore() JobQueueStore

	// DataPath returns the base path for file-backed data (charts).
	DataPath() string

	// WriteRaw writes binary data (charts) under subdir/key.
	WriteRaw(subdir, key string, data []byte) error

	Close() error
}

// MarketStore holds prices, FX rates, benchmark series and security reference data.
type MarketStore interface {
	PriceProvider
	FxProvider
	BenchmarkProvider
	SecurityMaster

	SaveSecurities(ctx context.Context, securities []models.Security) error
	SavePrices(ctx context.Context, prices []models.SecurityPrice) error
	SaveRates(ctx context.Context, rates []models.FxRate) error
	SaveBenchmark(ctx context.Context, symbol string, returns []models.BenchmarkReturn) error
}

// LedgerStore holds users, accounts, holdings snapshots and transactions.
type LedgerStore interface {
	AccountDirectory
	HoldingsProvider
	TransactionLedger

	SaveUser(ctx context.Context, user *models.User) error
	SaveAccount(ctx context.Context, account *models.Account) error
	// SaveHoldings replaces the holdings set for (accountID, date).
	SaveHoldings(ctx context.Context, accountID string, date time.Time, holdings []models.Holding) error
	// AppendTransactions adds ledger entries. Existing ids are rejected.
	AppendTransactions(ctx context.Context, txs []models.Transaction) error
}

// SnapshotWrite reports the outcome of an idempotent snapshot upsert.
type SnapshotWrite struct {
	Version int    // incremented only when content changed
	Digest  string // sha256 of the canonical encoding
	Changed bool
}

// SnapshotStore persists analytics snapshots keyed by (account_id, as_of_date)
// and materialized user views keyed by (user_id, as_of_date).
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snapshot *models.AnalyticsSnapshot) (*SnapshotWrite, error)
	GetSnapshot(ctx context.Context, accountID string, date time.Time) (*models.AnalyticsSnapshot, error)
	// GetSnapshotRaw returns the stored canonical bytes.
	GetSnapshotRaw(ctx context.Context, accountID string, date time.Time) ([]byte, error)
	ListSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.AnalyticsSnapshot, error)
	DeleteSnapshots(ctx context.Context, accountID string) (int, error)

	SaveUserView(ctx context.Context, view *models.UserPortfolioView) (*SnapshotWrite, error)
	GetUserView(ctx context.Context, userID string, date time.Time) (*models.UserPortfolioView, error)
}

// JobQueueStore manages the persistent job queue.
type JobQueueStore interface {
	Enqueue(ctx context.Context, job *models.Job) error
	// Claim atomically moves a pending job to running. Returns false if it was taken.
	Claim(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, jobErr error, durationMS int64) error
	// Requeue puts a running job back to pending after a failed attempt.
	Requeue(ctx context.Context, job *models.Job) error
	Cancel(ctx context.Context, id string) error
	// ListPending returns pending jobs ordered by priority desc, as-of date asc, created asc.
	ListPending(ctx context.Context, limit int) ([]*models.Job, error)
	// ListBySubject lists an account's jobs, or a user's roll-up jobs for "user:<id>", newest first.
	ListBySubject(ctx context.Context, subjectID string) ([]*models.Job, error)
	CountPending(ctx context.Context) (int, error)
	HasPendingJob(ctx context.Context, jobType, subjectID, asOfDate string) (bool, error)
	CancelByAccount(ctx context.Context, accountID string) (int, error)
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)
	ResetRunningJobs(ctx context.Context) (int, error)
}

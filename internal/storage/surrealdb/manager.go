// Package surrealdb implements the ledger, snapshot and job queue stores on SurrealDB.
package surrealdb

import (
	"context"
	"fmt"

	"github.com/surrealdb/surrealdb.go"

	"github.com/bobmcallan/vire-analytics/internal/common"
)

// tables are defined on connect; SurrealDB v3 errors on querying non-existent tables.
var tables = []string{"analytics_user", "account", "holdings", "ledger_tx", "snapshot", "user_view", "job_queue"}

// Backend owns the SurrealDB connection and the stores built on it.
type Backend struct {
	db     *surrealdb.DB
	logger *common.Logger

	ledgerStore   *LedgerStore
	snapshotStore *SnapshotStore
	jobQueueStore *JobQueueStore
}

// NewBackend connects, signs in and selects the configured namespace/database.
func NewBackend(logger *common.Logger, config *common.Config) (*Backend, error) {
	ctx := context.Background()

	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	b := &Backend{
		db:            db,
		logger:        logger,
		ledgerStore:   NewLedgerStore(db, logger),
		snapshotStore: NewSnapshotStore(db, logger),
		jobQueueStore: NewJobQueueStore(db, logger),
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB backend initialized")

	return b, nil
}

func (b *Backend) LedgerStore() *LedgerStore {
	return b.ledgerStore
}

func (b *Backend) SnapshotStore() *SnapshotStore {
	return b.snapshotStore
}

func (b *Backend) JobQueueStore() *JobQueueStore {
	return b.jobQueueStore
}

func (b *Backend) Close() error {
	b.db.Close(context.Background())
	return nil
}

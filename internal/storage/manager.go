// Package storage provides the top-level StorageManager that coordinates
// the market data files and the ledger/snapshot/job backend.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/storage/marketfs"
	"github.com/bobmcallan/vire-analytics/internal/storage/surrealdb"
	"github.com/bobmcallan/vire-analytics/internal/storage/userdb"
)

// Manager implements interfaces.StorageManager. Market data always lives in
// marketfs; the ledger, snapshots and job queue live in the configured backend.
type Manager struct {
	market    *marketfs.Store
	ledger    interfaces.LedgerStore
	snapshots interfaces.SnapshotStore
	jobs      interfaces.JobQueueStore
	backend   io.Closer
	logger    *common.Logger
}

// NewManager opens the market store and the backend selected by config.Storage.Backend.
func NewManager(logger *common.Logger, config *common.Config) (*Manager, error) {
	marketStore, err := marketfs.NewMarketStore(logger, config.Storage.Market.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create market store: %w", err)
	}

	m := &Manager{market: marketStore, logger: logger}

	switch config.Storage.Backend {
	case "", "badger":
		store, err := userdb.NewStore(logger, config.Storage.Path)
		if err != nil {
			marketStore.Close()
			return nil, fmt.Errorf("failed to create user store: %w", err)
		}
		m.ledger, m.snapshots, m.jobs, m.backend = store, store, store, store
	case "surrealdb":
		backend, err := surrealdb.NewBackend(logger, config)
		if err != nil {
			marketStore.Close()
			return nil, fmt.Errorf("failed to create surrealdb backend: %w", err)
		}
		m.ledger, m.snapshots, m.jobs, m.backend = backend.LedgerStore(), backend.SnapshotStore(), backend.JobQueueStore(), backend
	default:
		marketStore.Close()
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage.Backend)
	}

	logger.Info().
		Str("backend", config.Storage.Backend).
		Str("path", config.Storage.Path).
		Str("market", config.Storage.Market.Path).
		Msg("Storage manager initialized")

	return m, nil
}

func (m *Manager) MarketStore() interfaces.MarketStore {
	return m.market
}

func (m *Manager) LedgerStore() interfaces.LedgerStore {
	return m.ledger
}

func (m *Manager) SnapshotStore() interfaces.SnapshotStore {
	return m.snapshots
}

func (m *Manager) JobQueueStore() interfaces.JobQueueStore {
	return m.jobs
}

func (m *Manager) DataPath() string {
	return m.market.DataPath()
}

func (m *Manager) WriteRaw(subdir, key string, data []byte) error {
	return m.market.WriteRaw(subdir, key, data)
}

// PurgeDerivedData removes rendered charts and finished jobs older than purgeAfter.
// Snapshots are kept; they are recomputed by upsert, never by purge.
func (m *Manager) PurgeDerivedData(ctx context.Context, purgeAfter time.Duration) (map[string]int, error) {
	counts := make(map[string]int)

	counts["charts"] = m.market.PurgeCharts()

	jobs, err := m.jobs.PurgeCompleted(ctx, time.Now().Add(-purgeAfter))
	if err != nil {
		return counts, fmt.Errorf("failed to purge jobs: %w", err)
	}
	counts["jobs"] = jobs

	m.logger.Info().
		Int("charts", counts["charts"]).
		Int("jobs", counts["jobs"]).
		Msg("Derived data purged")

	return counts, nil
}

func (m *Manager) Close() error {
	var firstErr error
	if err := m.backend.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.market.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)

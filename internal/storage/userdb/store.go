// Package userdb implements the ledger, snapshot and job queue stores using BadgerHold.
package userdb

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
)

// Store is the embedded BadgerHold database behind the ledger, snapshot and job stores.
type Store struct {
	db     *badgerhold.Store
	logger *common.Logger

	// writeMu serializes read-modify-write upserts (snapshot versions, job claims).
	writeMu sync.Mutex
}

// NewStore opens (or creates) the database at path.
func NewStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create userdb path %s: %w", path, err)
	}
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Logger = nil
	db, err := badgerhold.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open userdb at %s: %w", path, err)
	}
	logger.Info().Str("path", path).Msg("UserDB opened")
	return &Store{db: db, logger: logger}, nil
}

// keySep is the composite key separator. Using a null byte prevents collisions
// when ids contain ":" characters.
const keySep = "\x00"

func compositeKey(parts ...string) string {
	key := ""
	for i, p := range parts {
		if i > 0 {
			key += keySep
		}
		key += p
	}
	return key
}

func isNotFound(err error) bool {
	return errors.Is(err, badgerhold.ErrNotFound)
}

// Close shuts down the BadgerHold database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Compile-time checks
var (
	_ interfaces.LedgerStore   = (*Store)(nil)
	_ interfaces.SnapshotStore = (*Store)(nil)
	_ interfaces.JobQueueStore = (*Store)(nil)
)

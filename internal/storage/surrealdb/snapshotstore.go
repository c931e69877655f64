package surrealdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// documentRow holds a canonical encoding as a string so reads return the exact digested bytes.
// Owner is the account id for snapshots and the user id for views.
type documentRow struct {
	Owner    string `json:"owner"`
	AsOfDate string `json:"as_of_date"`
	Data     string `json:"data"`
	Digest   string `json:"digest"`
	Version  int    `json:"version"`
}

// SnapshotStore implements interfaces.SnapshotStore using SurrealDB.
type SnapshotStore struct {
	db     *surrealdb.DB
	logger *common.Logger

	mu sync.Mutex
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(db *surrealdb.DB, logger *common.Logger) *SnapshotStore {
	return &SnapshotStore{db: db, logger: logger}
}

func documentID(table, owner, date string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, owner+"_"+date)
}

func (s *SnapshotStore) getDocument(ctx context.Context, table, owner, date string) (*documentRow, error) {
	row, err := surrealdb.Select[documentRow](ctx, s.db, documentID(table, owner, date))
	if err != nil && !isNotFoundError(err) {
		return nil, fmt.Errorf("failed to select %s %s/%s: %w", table, owner, date, err)
	}
	if row == nil || row.Digest == "" {
		return nil, fmt.Errorf("%s %s/%s: %w", table, owner, date, models.ErrNotFound)
	}
	return row, nil
}

// upsertDocument writes the encoding only when its digest differs from the stored one.
func (s *SnapshotStore) upsertDocument(ctx context.Context, table, owner, date string, data []byte, digest string) (*interfaces.SnapshotWrite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := 0
	prev, err := s.getDocument(ctx, table, owner, date)
	switch {
	case err == nil && prev.Digest == digest:
		return &interfaces.SnapshotWrite{Version: prev.Version, Digest: digest}, nil
	case err == nil:
		version = prev.Version
	case !errors.Is(err, models.ErrNotFound):
		return nil, err
	}

	row := documentRow{Owner: owner, AsOfDate: date, Data: string(data), Digest: digest, Version: version + 1}
	if err := upsertContent(ctx, s.db, documentID(table, owner, date), row); err != nil {
		return nil, err
	}
	return &interfaces.SnapshotWrite{Version: row.Version, Digest: digest, Changed: true}, nil
}

func (s *SnapshotStore) SaveSnapshot(ctx context.Context, snapshot *models.AnalyticsSnapshot) (*interfaces.SnapshotWrite, error) {
	data, digest, err := snapshot.Encode()
	if err != nil {
		return nil, err
	}
	return s.upsertDocument(ctx, "snapshot", snapshot.AccountID, snapshot.AsOfDate, data, digest)
}

func (s *SnapshotStore) GetSnapshot(ctx context.Context, accountID string, date time.Time) (*models.AnalyticsSnapshot, error) {
	row, err := s.getDocument(ctx, "snapshot", accountID, common.FormatDate(date))
	if err != nil {
		return nil, err
	}
	return models.DecodeSnapshot([]byte(row.Data))
}

func (s *SnapshotStore) GetSnapshotRaw(ctx context.Context, accountID string, date time.Time) ([]byte, error) {
	row, err := s.getDocument(ctx, "snapshot", accountID, common.FormatDate(date))
	if err != nil {
		return nil, err
	}
	return []byte(row.Data), nil
}

func (s *SnapshotStore) ListSnapshots(ctx context.Context, accountID string, from, to time.Time) ([]*models.AnalyticsSnapshot, error) {
	sql := "SELECT * FROM snapshot WHERE owner = $owner AND as_of_date >= $from AND as_of_date <= $to ORDER BY as_of_date ASC"
	vars := map[string]any{"owner": accountID, "from": dateBound(from, ""), "to": dateBound(to, "9999-12-31")}
	rows, err := queryRows[documentRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for '%s': %w", accountID, err)
	}
	out := make([]*models.AnalyticsSnapshot, 0, len(rows))
	for _, r := range rows {
		snap, err := models.DecodeSnapshot([]byte(r.Data))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *SnapshotStore) DeleteSnapshots(ctx context.Context, accountID string) (int, error) {
	sql := "DELETE snapshot WHERE owner = $owner RETURN BEFORE"
	rows, err := queryRows[documentRow](ctx, s.db, sql, map[string]any{"owner": accountID})
	if err != nil {
		return 0, fmt.Errorf("failed to delete snapshots for '%s': %w", accountID, err)
	}
	return len(rows), nil
}

func (s *SnapshotStore) SaveUserView(ctx context.Context, view *models.UserPortfolioView) (*interfaces.SnapshotWrite, error) {
	data, digest, err := view.Encode()
	if err != nil {
		return nil, err
	}
	return s.upsertDocument(ctx, "user_view", view.UserID, view.AsOfDate, data, digest)
}

func (s *SnapshotStore) GetUserView(ctx context.Context, userID string, date time.Time) (*models.UserPortfolioView, error) {
	row, err := s.getDocument(ctx, "user_view", userID, common.FormatDate(date))
	if err != nil {
		return nil, err
	}
	return models.DecodeUserView([]byte(row.Data))
}

// Compile-time check
var _ interfaces.SnapshotStore = (*SnapshotStore)(nil)

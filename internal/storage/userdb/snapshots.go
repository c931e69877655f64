package userdb

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// snapshotRecord stores the canonical encoding of a snapshot so reads return
// exactly the bytes that were digested.
type snapshotRecord struct {
	AccountID string
	AsOfDate  string
	Data      []byte
	Digest    string
	Version   int
}

// viewRecord is the user view equivalent of snapshotRecord.
type viewRecord struct {
	UserID   string
	AsOfDate string
	Data     []byte
	Digest   string
	Version  int
}

// SaveSnapshot upserts by (account_id, as_of_date). Identical content leaves the
// stored record and its version untouched.
func (s *Store) SaveSnapshot(_ context.Context, snapshot *models.AnalyticsSnapshot) (*interfaces.SnapshotWrite, error) {
	data, digest, err := snapshot.Encode()
	if err != nil {
		return nil, err
	}
	key := compositeKey(snapshot.AccountID, snapshot.AsOfDate)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var prev snapshotRecord
	err = s.db.Get(key, &prev)
	switch {
	case err == nil && prev.Digest == digest:
		return &interfaces.SnapshotWrite{Version: prev.Version, Digest: digest}, nil
	case err != nil && !isNotFound(err):
		return nil, fmt.Errorf("failed to read snapshot %s: %w", snapshot.Key(), err)
	}

	rec := snapshotRecord{
		AccountID: snapshot.AccountID,
		AsOfDate:  snapshot.AsOfDate,
		Data:      data,
		Digest:    digest,
		Version:   prev.Version + 1,
	}
	if err := s.db.Upsert(key, &rec); err != nil {
		return nil, fmt.Errorf("failed to save snapshot %s: %w", snapshot.Key(), err)
	}
	return &interfaces.SnapshotWrite{Version: rec.Version, Digest: digest, Changed: true}, nil
}

func (s *Store) getSnapshotRecord(accountID string, date time.Time) (*snapshotRecord, error) {
	var rec snapshotRecord
	if err := s.db.Get(compositeKey(accountID, common.FormatDate(date)), &rec); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("snapshot %s/%s: %w", accountID, common.FormatDate(date), models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get snapshot %s/%s: %w", accountID, common.FormatDate(date), err)
	}
	return &rec, nil
}

func (s *Store) GetSnapshot(_ context.Context, accountID string, date time.Time) (*models.AnalyticsSnapshot, error) {
	rec, err := s.getSnapshotRecord(accountID, date)
	if err != nil {
		return nil, err
	}
	return models.DecodeSnapshot(rec.Data)
}

func (s *Store) GetSnapshotRaw(_ context.Context, accountID string, date time.Time) ([]byte, error) {
	rec, err := s.getSnapshotRecord(accountID, date)
	if err != nil {
		return nil, err
	}
	return rec.Data, nil
}

// ListSnapshots returns the account's snapshots in [from, to] by ascending date.
// A zero bound is open.
func (s *Store) ListSnapshots(_ context.Context, accountID string, from, to time.Time) ([]*models.AnalyticsSnapshot, error) {
	var recs []snapshotRecord
	if err := s.db.Find(&recs, badgerhold.Where("AccountID").Eq(accountID)); err != nil {
		return nil, fmt.Errorf("failed to list snapshots for '%s': %w", accountID, err)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].AsOfDate < recs[j].AsOfDate })

	lo, hi := dateBound(from, ""), dateBound(to, "9999-12-31")
	var out []*models.AnalyticsSnapshot
	for _, rec := range recs {
		if rec.AsOfDate < lo || rec.AsOfDate > hi {
			continue
		}
		snap, err := models.DecodeSnapshot(rec.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *Store) DeleteSnapshots(_ context.Context, accountID string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var recs []snapshotRecord
	if err := s.db.Find(&recs, badgerhold.Where("AccountID").Eq(accountID)); err != nil {
		return 0, fmt.Errorf("failed to list snapshots for '%s': %w", accountID, err)
	}
	if err := s.db.DeleteMatching(&snapshotRecord{}, badgerhold.Where("AccountID").Eq(accountID)); err != nil {
		return 0, fmt.Errorf("failed to delete snapshots for '%s': %w", accountID, err)
	}
	return len(recs), nil
}

func (s *Store) SaveUserView(_ context.Context, view *models.UserPortfolioView) (*interfaces.SnapshotWrite, error) {
	data, digest, err := view.Encode()
	if err != nil {
		return nil, err
	}
	key := compositeKey(view.UserID, view.AsOfDate)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var prev viewRecord
	err = s.db.Get(key, &prev)
	switch {
	case err == nil && prev.Digest == digest:
		return &interfaces.SnapshotWrite{Version: prev.Version, Digest: digest}, nil
	case err != nil && !isNotFound(err):
		return nil, fmt.Errorf("failed to read user view %s/%s: %w", view.UserID, view.AsOfDate, err)
	}

	rec := viewRecord{UserID: view.UserID, AsOfDate: view.AsOfDate, Data: data, Digest: digest, Version: prev.Version + 1}
	if err := s.db.Upsert(key, &rec); err != nil {
		return nil, fmt.Errorf("failed to save user view %s/%s: %w", view.UserID, view.AsOfDate, err)
	}
	return &interfaces.SnapshotWrite{Version: rec.Version, Digest: digest, Changed: true}, nil
}

func (s *Store) GetUserView(_ context.Context, userID string, date time.Time) (*models.UserPortfolioView, error) {
	var rec viewRecord
	if err := s.db.Get(compositeKey(userID, common.FormatDate(date)), &rec); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("user view %s/%s: %w", userID, common.FormatDate(date), models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user view %s/%s: %w", userID, common.FormatDate(date), err)
	}
	return models.DecodeUserView(rec.Data)
}

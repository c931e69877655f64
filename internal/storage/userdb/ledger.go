package userdb

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/timshannon/badgerhold/v4"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// holdingSet is one account's holdings recorded for a date.
type holdingSet struct {
	AccountID string
	Date      string // YYYY-MM-DD
	Holdings  []models.Holding
}

// transactionRecord wraps a ledger entry with its date key for range filtering.
type transactionRecord struct {
	AccountID string
	Date      string
	Tx        models.Transaction
}

func (s *Store) GetUser(_ context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := s.db.Get(userID, &u); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("user '%s': %w", userID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user '%s': %w", userID, err)
	}
	return &u, nil
}

func (s *Store) SaveUser(_ context.Context, user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	user.BaseCurrency = strings.ToUpper(user.BaseCurrency)
	if err := s.db.Upsert(user.ID, user); err != nil {
		return fmt.Errorf("failed to save user '%s': %w", user.ID, err)
	}
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]*models.User, error) {
	var all []models.User
	if err := s.db.Find(&all, nil); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]*models.User, len(all))
	for i := range all {
		out[i] = &all[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (*models.Account, error) {
	var a models.Account
	if err := s.db.Get(accountID, &a); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("account '%s': %w", accountID, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account '%s': %w", accountID, err)
	}
	return &a, nil
}

func (s *Store) SaveAccount(_ context.Context, account *models.Account) error {
	if account.ID == "" || account.UserID == "" {
		return fmt.Errorf("account id and user id are required")
	}
	if !account.Type.Valid() {
		return fmt.Errorf("account '%s' has invalid type %q", account.ID, account.Type)
	}
	account.Currency = strings.ToUpper(account.Currency)
	if err := s.db.Upsert(account.ID, account); err != nil {
		return fmt.Errorf("failed to save account '%s': %w", account.ID, err)
	}
	return nil
}

func (s *Store) ListAccounts(_ context.Context, userID string) ([]*models.Account, error) {
	var all []models.Account
	if err := s.db.Find(&all, badgerhold.Where("UserID").Eq(userID)); err != nil {
		return nil, fmt.Errorf("failed to list accounts for '%s': %w", userID, err)
	}
	out := make([]*models.Account, len(all))
	for i := range all {
		out[i] = &all[i]
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetHoldings(_ context.Context, accountID string, date time.Time) ([]models.Holding, error) {
	var set holdingSet
	if err := s.db.Get(compositeKey(accountID, common.FormatDate(date)), &set); err != nil {
		if isNotFound(err) {
			return nil, models.ErrNoData
		}
		return nil, fmt.Errorf("failed to get holdings for '%s': %w", accountID, err)
	}
	return set.Holdings, nil
}

func (s *Store) SaveHoldings(_ context.Context, accountID string, date time.Time, holdings []models.Holding) error {
	date = common.DateOnly(date)
	set := holdingSet{AccountID: accountID, Date: common.FormatDate(date)}
	for _, h := range holdings {
		h.AccountID = accountID
		h.AsOfDate = date
		set.Holdings = append(set.Holdings, h)
	}
	sort.Slice(set.Holdings, func(i, j int) bool { return set.Holdings[i].SecurityID < set.Holdings[j].SecurityID })

	if err := s.db.Upsert(compositeKey(accountID, set.Date), &set); err != nil {
		return fmt.Errorf("failed to save holdings for '%s' on %s: %w", accountID, set.Date, err)
	}
	return nil
}

func (s *Store) HoldingDates(_ context.Context, accountID string, from, to time.Time) ([]time.Time, error) {
	var sets []holdingSet
	if err := s.db.Find(&sets, badgerhold.Where("AccountID").Eq(accountID)); err != nil {
		return nil, fmt.Errorf("failed to list holdings dates for '%s': %w", accountID, err)
	}
	lo, hi := dateBound(from, ""), dateBound(to, "9999-12-31")
	var out []time.Time
	for _, set := range sets {
		if set.Date < lo || set.Date > hi {
			continue
		}
		d, err := common.ParseDate(set.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) GetTransactions(_ context.Context, accountID string, from, to time.Time) ([]models.Transaction, error) {
	var records []transactionRecord
	if err := s.db.Find(&records, badgerhold.Where("AccountID").Eq(accountID)); err != nil {
		return nil, fmt.Errorf("failed to list transactions for '%s': %w", accountID, err)
	}
	lo, hi := dateBound(from, ""), dateBound(to, "9999-12-31")
	var out []models.Transaction
	for _, r := range records {
		if r.Date >= lo && r.Date <= hi {
			out = append(out, r.Tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TradeDate.Equal(out[j].TradeDate) {
			return out[i].TradeDate.Before(out[j].TradeDate)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// AppendTransactions inserts ledger entries. The ledger is append-only: an id that
// already exists is rejected and nothing in the batch after it is written.
func (s *Store) AppendTransactions(_ context.Context, txs []models.Transaction) error {
	for _, tx := range txs {
		if tx.ID == "" || tx.AccountID == "" {
			return fmt.Errorf("transaction id and account id are required")
		}
		if !tx.Type.Valid() {
			return fmt.Errorf("transaction '%s' has invalid type %q", tx.ID, tx.Type)
		}
		tx.TradeDate = common.DateOnly(tx.TradeDate)
		rec := transactionRecord{AccountID: tx.AccountID, Date: common.FormatDate(tx.TradeDate), Tx: tx}
		if err := s.db.Insert(tx.ID, &rec); err != nil {
			if err == badgerhold.ErrKeyExists {
				return fmt.Errorf("transaction '%s' already recorded", tx.ID)
			}
			return fmt.Errorf("failed to append transaction '%s': %w", tx.ID, err)
		}
	}
	return nil
}

// dateBound formats t as a date key; the zero time maps to def.
func dateBound(t time.Time, def string) string {
	if t.IsZero() {
		return def
	}
	return common.FormatDate(t)
}

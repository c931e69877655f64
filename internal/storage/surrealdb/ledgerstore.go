package surrealdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// Decimals are stored as strings so values round-trip exactly through CBOR.

type userRow struct {
	UserID       string `json:"user_id"`
	Name         string `json:"name"`
	BaseCurrency string `json:"base_currency"`
}

type accountRow struct {
	AccountID   string `json:"account_id"`
	UserID      string `json:"user_id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Currency    string `json:"currency"`
	BaseCountry string `json:"base_country"`
	Active      bool   `json:"active"`
}

type holdingRow struct {
	SecurityID string `json:"security_id"`
	Quantity   string `json:"quantity"`
	CostBasis  string `json:"cost_basis"`
}

type holdingSetRow struct {
	AccountID string       `json:"account_id"`
	Date      string       `json:"date"`
	Holdings  []holdingRow `json:"holdings"`
}

type transactionRow struct {
	TxID       string `json:"tx_id"`
	AccountID  string `json:"account_id"`
	SecurityID string `json:"security_id"`
	Type       string `json:"type"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	TradeDate  string `json:"trade_date"`
}

// LedgerStore implements interfaces.LedgerStore using SurrealDB.
type LedgerStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(db *surrealdb.DB, logger *common.Logger) *LedgerStore {
	return &LedgerStore{db: db, logger: logger}
}

func (s *LedgerStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	row, err := surrealdb.Select[userRow](ctx, s.db, surrealmodels.NewRecordID("analytics_user", userID))
	if err != nil && !isNotFoundError(err) {
		return nil, fmt.Errorf("failed to select user '%s': %w", userID, err)
	}
	if row == nil || row.UserID == "" {
		return nil, fmt.Errorf("user '%s': %w", userID, models.ErrNotFound)
	}
	return &models.User{ID: row.UserID, Name: row.Name, BaseCurrency: row.BaseCurrency}, nil
}

func (s *LedgerStore) SaveUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		return fmt.Errorf("user id is required")
	}
	user.BaseCurrency = strings.ToUpper(user.BaseCurrency)
	row := userRow{UserID: user.ID, Name: user.Name, BaseCurrency: user.BaseCurrency}
	return upsertContent(ctx, s.db, surrealmodels.NewRecordID("analytics_user", user.ID), row)
}

func (s *LedgerStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := queryRows[userRow](ctx, s.db, "SELECT * FROM analytics_user ORDER BY user_id ASC", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	out := make([]*models.User, len(rows))
	for i, r := range rows {
		out[i] = &models.User{ID: r.UserID, Name: r.Name, BaseCurrency: r.BaseCurrency}
	}
	return out, nil
}

func (r accountRow) model() *models.Account {
	return &models.Account{
		ID:          r.AccountID,
		UserID:      r.UserID,
		Name:        r.Name,
		Type:        models.AccountType(r.Type),
		Currency:    r.Currency,
		BaseCountry: r.BaseCountry,
		Active:      r.Active,
	}
}

func (s *LedgerStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	row, err := surrealdb.Select[accountRow](ctx, s.db, surrealmodels.NewRecordID("account", accountID))
	if err != nil && !isNotFoundError(err) {
		return nil, fmt.Errorf("failed to select account '%s': %w", accountID, err)
	}
	if row == nil || row.AccountID == "" {
		return nil, fmt.Errorf("account '%s': %w", accountID, models.ErrNotFound)
	}
	return row.model(), nil
}

func (s *LedgerStore) SaveAccount(ctx context.Context, account *models.Account) error {
	if account.ID == "" || account.UserID == "" {
		return fmt.Errorf("account id and user id are required")
	}
	if !account.Type.Valid() {
		return fmt.Errorf("account '%s' has invalid type %q", account.ID, account.Type)
	}
	account.Currency = strings.ToUpper(account.Currency)
	row := accountRow{
		AccountID:   account.ID,
		UserID:      account.UserID,
		Name:        account.Name,
		Type:        string(account.Type),
		Currency:    account.Currency,
		BaseCountry: account.BaseCountry,
		Active:      account.Active,
	}
	return upsertContent(ctx, s.db, surrealmodels.NewRecordID("account", account.ID), row)
}

func (s *LedgerStore) ListAccounts(ctx context.Context, userID string) ([]*models.Account, error) {
	sql := "SELECT * FROM account WHERE user_id = $user_id ORDER BY account_id ASC"
	rows, err := queryRows[accountRow](ctx, s.db, sql, map[string]any{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts for '%s': %w", userID, err)
	}
	out := make([]*models.Account, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

func holdingSetID(accountID, date string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID("holdings", accountID+"_"+date)
}

func (s *LedgerStore) GetHoldings(ctx context.Context, accountID string, date time.Time) ([]models.Holding, error) {
	d := common.FormatDate(date)
	row, err := surrealdb.Select[holdingSetRow](ctx, s.db, holdingSetID(accountID, d))
	if err != nil && !isNotFoundError(err) {
		return nil, fmt.Errorf("failed to select holdings for '%s': %w", accountID, err)
	}
	if row == nil || row.AccountID == "" {
		return nil, models.ErrNoData
	}

	asOf := common.DateOnly(date)
	out := make([]models.Holding, 0, len(row.Holdings))
	for _, h := range row.Holdings {
		qty, err := decimal.NewFromString(h.Quantity)
		if err != nil {
			return nil, fmt.Errorf("holding %s quantity: %w", h.SecurityID, err)
		}
		cost, err := decimal.NewFromString(h.CostBasis)
		if err != nil {
			return nil, fmt.Errorf("holding %s cost basis: %w", h.SecurityID, err)
		}
		out = append(out, models.Holding{AccountID: accountID, SecurityID: h.SecurityID, Quantity: qty, CostBasis: cost, AsOfDate: asOf})
	}
	return out, nil
}

func (s *LedgerStore) SaveHoldings(ctx context.Context, accountID string, date time.Time, holdings []models.Holding) error {
	row := holdingSetRow{AccountID: accountID, Date: common.FormatDate(date)}
	for _, h := range holdings {
		row.Holdings = append(row.Holdings, holdingRow{
			SecurityID: h.SecurityID,
			Quantity:   h.Quantity.String(),
			CostBasis:  h.CostBasis.String(),
		})
	}
	return upsertContent(ctx, s.db, holdingSetID(accountID, row.Date), row)
}

func (s *LedgerStore) HoldingDates(ctx context.Context, accountID string, from, to time.Time) ([]time.Time, error) {
	sql := "SELECT account_id, date FROM holdings WHERE account_id = $account_id AND date >= $from AND date <= $to ORDER BY date ASC"
	vars := map[string]any{"account_id": accountID, "from": dateBound(from, ""), "to": dateBound(to, "9999-12-31")}
	rows, err := queryRows[holdingSetRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list holdings dates for '%s': %w", accountID, err)
	}
	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		d, err := common.ParseDate(r.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *LedgerStore) GetTransactions(ctx context.Context, accountID string, from, to time.Time) ([]models.Transaction, error) {
	sql := "SELECT * FROM ledger_tx WHERE account_id = $account_id AND trade_date >= $from AND trade_date <= $to ORDER BY trade_date ASC, tx_id ASC"
	vars := map[string]any{"account_id": accountID, "from": dateBound(from, ""), "to": dateBound(to, "9999-12-31")}
	rows, err := queryRows[transactionRow](ctx, s.db, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions for '%s': %w", accountID, err)
	}
	out := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		tx, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r transactionRow) model() (models.Transaction, error) {
	tx := models.Transaction{ID: r.TxID, AccountID: r.AccountID, SecurityID: r.SecurityID, Type: models.TransactionType(r.Type)}
	var err error
	if tx.Amount, err = decimal.NewFromString(r.Amount); err != nil {
		return tx, fmt.Errorf("transaction %s amount: %w", r.TxID, err)
	}
	if tx.TradeDate, err = common.ParseDate(r.TradeDate); err != nil {
		return tx, err
	}
	if tx.Quantity, err = optionalDecimal(r.Quantity); err != nil {
		return tx, fmt.Errorf("transaction %s quantity: %w", r.TxID, err)
	}
	if tx.Price, err = optionalDecimal(r.Price); err != nil {
		return tx, fmt.Errorf("transaction %s price: %w", r.TxID, err)
	}
	return tx, nil
}

// AppendTransactions creates ledger entries. CREATE fails on an existing record id,
// which keeps the ledger append-only.
func (s *LedgerStore) AppendTransactions(ctx context.Context, txs []models.Transaction) error {
	for _, tx := range txs {
		if tx.ID == "" || tx.AccountID == "" {
			return fmt.Errorf("transaction id and account id are required")
		}
		if !tx.Type.Valid() {
			return fmt.Errorf("transaction '%s' has invalid type %q", tx.ID, tx.Type)
		}
		row := transactionRow{
			TxID:       tx.ID,
			AccountID:  tx.AccountID,
			SecurityID: tx.SecurityID,
			Type:       string(tx.Type),
			Amount:     tx.Amount.String(),
			TradeDate:  common.FormatDate(tx.TradeDate),
		}
		if tx.Quantity != nil {
			row.Quantity = tx.Quantity.String()
		}
		if tx.Price != nil {
			row.Price = tx.Price.String()
		}
		sql := "CREATE $rid CONTENT $row"
		vars := map[string]any{"rid": surrealmodels.NewRecordID("ledger_tx", tx.ID), "row": row}
		if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
			return fmt.Errorf("failed to append transaction '%s': %w", tx.ID, err)
		}
	}
	return nil
}

func optionalDecimal(s string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Compile-time check
var _ interfaces.LedgerStore = (*LedgerStore)(nil)

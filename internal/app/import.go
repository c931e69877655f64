package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// importDate is a YYYY-MM-DD date in the dataset file.
type importDate struct {
	time.Time
}

func (d *importDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := common.ParseDate(s)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

type importDataset struct {
	Users        []models.User       `json:"users"`
	Accounts     []models.Account    `json:"accounts"`
	Securities   []models.Security   `json:"securities"`
	Prices       []importPrice       `json:"prices"`
	Rates        []importRate        `json:"rates"`
	Benchmarks   []importBenchmark   `json:"benchmarks"`
	Holdings     []importHoldingSet  `json:"holdings"`
	Transactions []importTransaction `json:"transactions"`
}

type importPrice struct {
	SecurityID string          `json:"security_id"`
	Date       importDate      `json:"date"`
	Close      decimal.Decimal `json:"close"`
	Currency   string          `json:"currency"`
}

type importRate struct {
	From string          `json:"from"`
	To   string          `json:"to"`
	Date importDate      `json:"date"`
	Rate decimal.Decimal `json:"rate"`
}

type importBenchmark struct {
	Symbol string     `json:"symbol"`
	Date   importDate `json:"date"`
	Return float64    `json:"return"`
}

type importPosition struct {
	SecurityID string          `json:"security_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	CostBasis  decimal.Decimal `json:"cost_basis"`
}

type importHoldingSet struct {
	AccountID string           `json:"account_id"`
	Date      importDate       `json:"date"`
	Positions []importPosition `json:"positions"`
}

type importTransaction struct {
	ID         string                 `json:"id"`
	AccountID  string                 `json:"account_id"`
	SecurityID string                 `json:"security_id"`
	Type       models.TransactionType `json:"type"`
	Quantity   *decimal.Decimal       `json:"quantity"`
	Price      *decimal.Decimal       `json:"price"`
	Amount     decimal.Decimal        `json:"amount"`
	TradeDate  importDate             `json:"trade_date"`
}

// ImportSummary counts what an import wrote.
type ImportSummary struct {
	Users               int
	Accounts            int
	Securities          int
	Prices              int
	Rates               int
	Benchmarks          int
	HoldingSets         int
	Transactions        int
	SkippedTransactions int
	AccountIDs          []string // accounts touched by holdings or transactions, sorted
}

// ImportFromFile reads a dataset JSON file and loads it into storage.
func ImportFromFile(ctx context.Context, sm interfaces.StorageManager, logger *common.Logger, filePath string) (*ImportSummary, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file %s: %w", filePath, err)
	}
	summary, err := Import(ctx, sm, logger, data)
	if err != nil {
		return nil, fmt.Errorf("failed to import %s: %w", filePath, err)
	}
	return summary, nil
}

// Import loads a dataset into the market and ledger stores.
// Reference data and holdings are upserted; transactions are append-only, so ids
// already in the ledger are skipped and counted.
func Import(ctx context.Context, sm interfaces.StorageManager, logger *common.Logger, data []byte) (*ImportSummary, error) {
	var ds importDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset: %w", err)
	}

	ledger := sm.LedgerStore()
	market := sm.MarketStore()
	summary := &ImportSummary{}
	touched := make(map[string]bool)

	for i := range ds.Users {
		if err := ledger.SaveUser(ctx, &ds.Users[i]); err != nil {
			return summary, fmt.Errorf("user %q: %w", ds.Users[i].ID, err)
		}
		summary.Users++
	}

	for i := range ds.Accounts {
		acct := &ds.Accounts[i]
		if _, err := ledger.GetUser(ctx, acct.UserID); err != nil {
			return summary, fmt.Errorf("account %q: owner %q: %w", acct.ID, acct.UserID, err)
		}
		if err := ledger.SaveAccount(ctx, acct); err != nil {
			return summary, fmt.Errorf("account %q: %w", acct.ID, err)
		}
		summary.Accounts++
	}

	if len(ds.Securities) > 0 {
		if err := market.SaveSecurities(ctx, ds.Securities); err != nil {
			return summary, err
		}
		summary.Securities = len(ds.Securities)
	}

	if len(ds.Prices) > 0 {
		prices := make([]models.SecurityPrice, len(ds.Prices))
		for i, p := range ds.Prices {
			prices[i] = models.SecurityPrice{SecurityID: p.SecurityID, Date: p.Date.Time, Close: p.Close, Currency: p.Currency}
		}
		if err := market.SavePrices(ctx, prices); err != nil {
			return summary, err
		}
		summary.Prices = len(prices)
	}

	if len(ds.Rates) > 0 {
		rates := make([]models.FxRate, len(ds.Rates))
		for i, r := range ds.Rates {
			rates[i] = models.FxRate{From: r.From, To: r.To, Date: r.Date.Time, Rate: r.Rate}
		}
		if err := market.SaveRates(ctx, rates); err != nil {
			return summary, err
		}
		summary.Rates = len(rates)
	}

	bySymbol := make(map[string][]models.BenchmarkReturn)
	for _, b := range ds.Benchmarks {
		bySymbol[b.Symbol] = append(bySymbol[b.Symbol], models.BenchmarkReturn{Symbol: b.Symbol, Date: b.Date.Time, Return: b.Return})
	}
	for symbol, series := range bySymbol {
		if err := market.SaveBenchmark(ctx, symbol, series); err != nil {
			return summary, err
		}
		summary.Benchmarks += len(series)
	}

	for _, set := range ds.Holdings {
		if _, err := ledger.GetAccount(ctx, set.AccountID); err != nil {
			return summary, fmt.Errorf("holdings for %q: %w", set.AccountID, err)
		}
		holdings := make([]models.Holding, len(set.Positions))
		for i, p := range set.Positions {
			holdings[i] = models.Holding{SecurityID: p.SecurityID, Quantity: p.Quantity, CostBasis: p.CostBasis}
		}
		if err := ledger.SaveHoldings(ctx, set.AccountID, set.Date.Time, holdings); err != nil {
			return summary, err
		}
		summary.HoldingSets++
		touched[set.AccountID] = true
	}

	if err := importTransactions(ctx, ledger, ds.Transactions, summary, touched); err != nil {
		return summary, err
	}

	for id := range touched {
		summary.AccountIDs = append(summary.AccountIDs, id)
	}
	sort.Strings(summary.AccountIDs)

	logger.Info().
		Int("users", summary.Users).
		Int("accounts", summary.Accounts).
		Int("securities", summary.Securities).
		Int("prices", summary.Prices).
		Int("rates", summary.Rates).
		Int("benchmarks", summary.Benchmarks).
		Int("holding_sets", summary.HoldingSets).
		Int("transactions", summary.Transactions).
		Int("skipped_transactions", summary.SkippedTransactions).
		Msg("Dataset imported")

	return summary, nil
}

func importTransactions(ctx context.Context, ledger interfaces.LedgerStore, rows []importTransaction, summary *ImportSummary, touched map[string]bool) error {
	byAccount := make(map[string][]models.Transaction)
	var order []string
	for _, r := range rows {
		if _, ok := byAccount[r.AccountID]; !ok {
			order = append(order, r.AccountID)
		}
		byAccount[r.AccountID] = append(byAccount[r.AccountID], models.Transaction{
			ID:         r.ID,
			AccountID:  r.AccountID,
			SecurityID: r.SecurityID,
			Type:       r.Type,
			Quantity:   r.Quantity,
			Price:      r.Price,
			Amount:     r.Amount,
			TradeDate:  r.TradeDate.Time,
		})
	}

	for _, accountID := range order {
		if _, err := ledger.GetAccount(ctx, accountID); err != nil {
			return fmt.Errorf("transactions for %q: %w", accountID, err)
		}
		existing, err := ledger.GetTransactions(ctx, accountID, time.Time{}, time.Time{})
		if err != nil {
			return err
		}
		seen := make(map[string]bool, len(existing))
		for _, tx := range existing {
			seen[tx.ID] = true
		}

		var fresh []models.Transaction
		for _, tx := range byAccount[accountID] {
			if seen[tx.ID] {
				summary.SkippedTransactions++
				continue
			}
			seen[tx.ID] = true
			fresh = append(fresh, tx)
		}
		if len(fresh) == 0 {
			continue
		}
		if err := ledger.AppendTransactions(ctx, fresh); err != nil {
			return err
		}
		summary.Transactions += len(fresh)
		touched[accountID] = true
	}
	return nil
}

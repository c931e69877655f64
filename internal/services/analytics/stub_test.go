package analytics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/interfaces"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// memStorage is an in-memory StorageManager for service tests.
type memStorage struct {
	mu sync.Mutex

	securities map[string]*models.Security
	prices     map[string]decimal.Decimal // security|date
	rates      map[string]decimal.Decimal // from|to|date
	benchmarks map[string][]models.BenchmarkReturn

	users    map[string]*models.User
	accounts map[string]*models.Account
	holdings map[string]map[string][]models.Holding // account -> date -> set
	txs      []models.Transaction

	snapshots map[string]storedDoc
	views     map[string]storedDoc
	raw       map[string][]byte

	saves  int
	onSave func()

	accountErrs map[string]error // GetAccount failures by account id
}

type storedDoc struct {
	data    []byte
	digest  string
	version int
}

func newMemStorage() *memStorage {
	return &memStorage{
		securities: make(map[string]*models.Security),
		prices:     make(map[string]decimal.Decimal),
		rates:      make(map[string]decimal.Decimal),
		benchmarks: make(map[string][]models.BenchmarkReturn),
		users:      make(map[string]*models.User),
		accounts:   make(map[string]*models.Account),
		holdings:   make(map[string]map[string][]models.Holding),
		snapshots:  make(map[string]storedDoc),
		views:      make(map[string]storedDoc),
		raw:        make(map[string][]byte),
	}
}

func (m *memStorage) MarketStore() interfaces.MarketStore     { return m }
func (m *memStorage) LedgerStore() interfaces.LedgerStore     { return m }
func (m *memStorage) SnapshotStore() interfaces.SnapshotStore { return m }
func (m *memStorage) JobQueueStore() interfaces.JobQueueStore { return nil }
func (m *memStorage) DataPath() string                        { return "" }
func (m *memStorage) Close() error                            { return nil }

func (m *memStorage) WriteRaw(subdir, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw[subdir+"/"+key] = data
	return nil
}

// --- market ---

func (m *memStorage) GetPrice(_ context.Context, securityID string, date time.Time) (*models.SecurityPrice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[securityID+"|"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNoData
	}
	return &models.SecurityPrice{SecurityID: securityID, Date: date, Close: p, Currency: m.securities[securityID].Currency}, nil
}

func (m *memStorage) GetRate(_ context.Context, from, to string, date time.Time) (*models.FxRate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rates[from+"|"+to+"|"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNoData
	}
	return &models.FxRate{From: from, To: to, Date: date, Rate: r}, nil
}

func (m *memStorage) GetReturns(_ context.Context, symbol string, from, to time.Time) ([]models.BenchmarkReturn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	series, ok := m.benchmarks[symbol]
	if !ok {
		return nil, models.ErrNoData
	}
	var out []models.BenchmarkReturn
	for _, r := range series {
		if !r.Date.Before(from) && !r.Date.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStorage) GetSecurity(_ context.Context, id string) (*models.Security, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.securities[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return s, nil
}

func (m *memStorage) SaveSecurities(_ context.Context, securities []models.Security) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range securities {
		s := securities[i]
		m.securities[s.ID] = &s
	}
	return nil
}

func (m *memStorage) SavePrices(_ context.Context, prices []models.SecurityPrice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range prices {
		m.prices[p.SecurityID+"|"+common.FormatDate(p.Date)] = p.Close
	}
	return nil
}

func (m *memStorage) SaveRates(_ context.Context, rates []models.FxRate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rates {
		m.rates[r.From+"|"+r.To+"|"+common.FormatDate(r.Date)] = r.Rate
	}
	return nil
}

func (m *memStorage) SaveBenchmark(_ context.Context, symbol string, returns []models.BenchmarkReturn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.benchmarks[symbol] = append(m.benchmarks[symbol], returns...)
	return nil
}

// --- ledger ---

func (m *memStorage) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return u, nil
}

func (m *memStorage) GetAccount(_ context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.accountErrs[id]; err != nil {
		return nil, err
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return a, nil
}

func (m *memStorage) ListAccounts(_ context.Context, userID string) ([]*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStorage) ListUsers(context.Context) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.User
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memStorage) SaveUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memStorage) SaveAccount(_ context.Context, a *models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
	return nil
}

func (m *memStorage) GetHoldings(_ context.Context, accountID string, date time.Time) ([]models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.holdings[accountID][common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNoData
	}
	return set, nil
}

func (m *memStorage) HoldingDates(_ context.Context, accountID string, from, to time.Time) ([]time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []time.Time
	for k := range m.holdings[accountID] {
		d, _ := common.ParseDate(k)
		if !d.Before(from) && !d.After(to) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (m *memStorage) SaveHoldings(_ context.Context, accountID string, date time.Time, holdings []models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holdings[accountID] == nil {
		m.holdings[accountID] = make(map[string][]models.Holding)
	}
	m.holdings[accountID][common.FormatDate(date)] = holdings
	return nil
}

func (m *memStorage) GetTransactions(_ context.Context, accountID string, from, to time.Time) ([]models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.txs {
		if t.AccountID == accountID && !t.TradeDate.Before(from) && !t.TradeDate.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memStorage) AppendTransactions(_ context.Context, txs []models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, txs...)
	return nil
}

// --- snapshots ---

func (m *memStorage) SaveSnapshot(_ context.Context, s *models.AnalyticsSnapshot) (*interfaces.SnapshotWrite, error) {
	data, digest, err := s.Encode()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.saves++
	write := upsertDoc(m.snapshots, s.Key(), data, digest)
	hook := m.onSave
	m.mu.Unlock()

	if hook != nil {
		hook()
	}
	return write, nil
}

func upsertDoc(docs map[string]storedDoc, key string, data []byte, digest string) *interfaces.SnapshotWrite {
	prev, ok := docs[key]
	if ok && prev.digest == digest {
		return &interfaces.SnapshotWrite{Version: prev.version, Digest: digest}
	}
	doc := storedDoc{data: data, digest: digest, version: prev.version + 1}
	docs[key] = doc
	return &interfaces.SnapshotWrite{Version: doc.version, Digest: digest, Changed: true}
}

func (m *memStorage) GetSnapshot(_ context.Context, accountID string, date time.Time) (*models.AnalyticsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.snapshots[accountID+"/"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return models.DecodeSnapshot(doc.data)
}

func (m *memStorage) GetSnapshotRaw(_ context.Context, accountID string, date time.Time) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.snapshots[accountID+"/"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return doc.data, nil
}

func (m *memStorage) ListSnapshots(_ context.Context, accountID string, from, to time.Time) ([]*models.AnalyticsSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.snapshots {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []*models.AnalyticsSnapshot
	for _, k := range keys {
		s, err := models.DecodeSnapshot(m.snapshots[k].data)
		if err != nil {
			return nil, err
		}
		d, _ := common.ParseDate(s.AsOfDate)
		if s.AccountID == accountID && !d.Before(from) && !d.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memStorage) DeleteSnapshots(_ context.Context, accountID string) (int, error) {
	return 0, nil
}

func (m *memStorage) SaveUserView(_ context.Context, v *models.UserPortfolioView) (*interfaces.SnapshotWrite, error) {
	data, digest, err := v.Encode()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return upsertDoc(m.views, v.UserID+"/"+v.AsOfDate, data, digest), nil
}

func (m *memStorage) GetUserView(_ context.Context, userID string, date time.Time) (*models.UserPortfolioView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.views[userID+"/"+common.FormatDate(date)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return models.DecodeUserView(doc.data)
}

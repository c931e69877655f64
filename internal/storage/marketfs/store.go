// Package marketfs implements file-based storage for market reference data:
// close prices, FX rates, benchmark return series and securities.
package marketfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/models"
)

// Store provides file-based JSON storage for market data.
// Each security, currency pair and benchmark symbol is one file; files are loaded
// on first use and cached.
type Store struct {
	basePath      string
	pricesDir     string
	ratesDir      string
	benchmarksDir string
	securitiesDir string
	logger        *common.Logger

	writeMu    sync.Mutex // serializes load-merge-write cycles
	mu         sync.RWMutex
	prices     map[string][]models.SecurityPrice   // security id -> records by date, revision
	rates      map[string][]models.FxRate          // FROM_TO -> records by date, revision
	benchmarks map[string][]models.BenchmarkReturn // symbol -> returns by date
	securities map[string]*models.Security
}

// NewMarketStore creates a new market file store.
func NewMarketStore(logger *common.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create market store path %s: %w", path, err)
	}
	s := &Store{
		basePath:      path,
		pricesDir:     filepath.Join(path, "prices"),
		ratesDir:      filepath.Join(path, "fx"),
		benchmarksDir: filepath.Join(path, "benchmarks"),
		securitiesDir: filepath.Join(path, "securities"),
		logger:        logger,
		prices:        make(map[string][]models.SecurityPrice),
		rates:         make(map[string][]models.FxRate),
		benchmarks:    make(map[string][]models.BenchmarkReturn),
		securities:    make(map[string]*models.Security),
	}
	for _, dir := range []string{s.pricesDir, s.ratesDir, s.benchmarksDir, s.securitiesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	logger.Info().Str("path", path).Msg("MarketFS store opened")
	return s, nil
}

// DataPath returns the base data path.
func (s *Store) DataPath() string {
	return s.basePath
}

// WriteRaw writes arbitrary binary data to a subdirectory atomically.
func (s *Store) WriteRaw(subdir, key string, data []byte) error {
	dir := filepath.Join(s.basePath, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return atomicWrite(dir, filepath.Join(dir, sanitizeKey(key)), data)
}

// PurgeCharts removes all chart files and returns the count.
func (s *Store) PurgeCharts() int {
	return purgeAllFiles(filepath.Join(s.basePath, "charts"))
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// --- prices ---

// GetPrice returns the latest revision of the close for securityID on exactly date.
func (s *Store) GetPrice(_ context.Context, securityID string, date time.Time) (*models.SecurityPrice, error) {
	records, err := s.loadPrices(securityID)
	if err != nil {
		return nil, err
	}
	date = common.DateOnly(date)
	i := sort.Search(len(records), func(i int) bool { return !records[i].Date.Before(date) })
	var found *models.SecurityPrice
	for ; i < len(records) && records[i].Date.Equal(date); i++ {
		found = &records[i]
	}
	if found == nil {
		return nil, models.ErrNoData
	}
	p := *found
	return &p, nil
}

// SavePrices stores closes. A close that differs from the stored one for the same date is
// kept as the next revision; an identical close is ignored.
func (s *Store) SavePrices(_ context.Context, prices []models.SecurityPrice) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	bySecurity := make(map[string][]models.SecurityPrice)
	for _, p := range prices {
		if p.SecurityID == "" {
			return fmt.Errorf("price without security id on %s", common.FormatDate(p.Date))
		}
		if !p.Close.IsPositive() {
			return fmt.Errorf("non-positive close %s for %s on %s", p.Close, p.SecurityID, common.FormatDate(p.Date))
		}
		p.Date = common.DateOnly(p.Date)
		p.Currency = strings.ToUpper(p.Currency)
		bySecurity[p.SecurityID] = append(bySecurity[p.SecurityID], p)
	}

	for id, incoming := range bySecurity {
		existing, err := s.loadPrices(id)
		if err != nil {
			return err
		}
		merged, added := mergePrices(existing, incoming)
		if added == 0 {
			continue
		}
		if err := writeJSON(s.pricesDir, id, merged); err != nil {
			return fmt.Errorf("failed to save prices for %s: %w", id, err)
		}
		s.mu.Lock()
		s.prices[id] = merged
		s.mu.Unlock()
		s.logger.Debug().Str("security_id", id).Int("added", added).Msg("Prices saved")
	}
	return nil
}

func mergePrices(existing, incoming []models.SecurityPrice) ([]models.SecurityPrice, int) {
	latest := make(map[string]models.SecurityPrice, len(existing))
	for _, p := range existing {
		latest[common.FormatDate(p.Date)] = p
	}
	out := append([]models.SecurityPrice(nil), existing...)
	added := 0
	for _, p := range incoming {
		key := common.FormatDate(p.Date)
		prev, ok := latest[key]
		if ok && prev.Close.Equal(p.Close) && prev.Currency == p.Currency {
			continue
		}
		p.Revision = 0
		if ok {
			p.Revision = prev.Revision + 1
		}
		latest[key] = p
		out = append(out, p)
		added++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Revision < out[j].Revision
	})
	return out, added
}

func (s *Store) loadPrices(securityID string) ([]models.SecurityPrice, error) {
	s.mu.RLock()
	cached, ok := s.prices[securityID]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var records []models.SecurityPrice
	if err := readJSON(s.pricesDir, securityID, &records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load prices for %s: %w", securityID, err)
	}
	s.mu.Lock()
	s.prices[securityID] = records
	s.mu.Unlock()
	return records, nil
}

// --- FX rates ---

// GetRate returns the latest revision of the from->to rate on exactly date.
// Inverse pairs are not consulted here.
func (s *Store) GetRate(_ context.Context, from, to string, date time.Time) (*models.FxRate, error) {
	records, err := s.loadRates(pairKey(from, to))
	if err != nil {
		return nil, err
	}
	date = common.DateOnly(date)
	i := sort.Search(len(records), func(i int) bool { return !records[i].Date.Before(date) })
	var found *models.FxRate
	for ; i < len(records) && records[i].Date.Equal(date); i++ {
		found = &records[i]
	}
	if found == nil {
		return nil, models.ErrNoData
	}
	r := *found
	return &r, nil
}

// SaveRates stores FX rates with the same revision rules as prices.
func (s *Store) SaveRates(_ context.Context, rates []models.FxRate) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	byPair := make(map[string][]models.FxRate)
	for _, r := range rates {
		if !r.Rate.IsPositive() {
			return fmt.Errorf("non-positive rate %s for %s on %s", r.Rate, r.Pair(), common.FormatDate(r.Date))
		}
		r.From, r.To = strings.ToUpper(r.From), strings.ToUpper(r.To)
		r.Date = common.DateOnly(r.Date)
		byPair[pairKey(r.From, r.To)] = append(byPair[pairKey(r.From, r.To)], r)
	}

	for key, incoming := range byPair {
		existing, err := s.loadRates(key)
		if err != nil {
			return err
		}
		latest := make(map[string]models.FxRate, len(existing))
		for _, r := range existing {
			latest[common.FormatDate(r.Date)] = r
		}
		merged := append([]models.FxRate(nil), existing...)
		added := 0
		for _, r := range incoming {
			d := common.FormatDate(r.Date)
			prev, ok := latest[d]
			if ok && prev.Rate.Equal(r.Rate) {
				continue
			}
			r.Revision = 0
			if ok {
				r.Revision = prev.Revision + 1
			}
			latest[d] = r
			merged = append(merged, r)
			added++
		}
		if added == 0 {
			continue
		}
		sort.SliceStable(merged, func(i, j int) bool {
			if !merged[i].Date.Equal(merged[j].Date) {
				return merged[i].Date.Before(merged[j].Date)
			}
			return merged[i].Revision < merged[j].Revision
		})
		if err := writeJSON(s.ratesDir, key, merged); err != nil {
			return fmt.Errorf("failed to save rates for %s: %w", key, err)
		}
		s.mu.Lock()
		s.rates[key] = merged
		s.mu.Unlock()
		s.logger.Debug().Str("pair", key).Int("added", added).Msg("FX rates saved")
	}
	return nil
}

func (s *Store) loadRates(key string) ([]models.FxRate, error) {
	s.mu.RLock()
	cached, ok := s.rates[key]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var records []models.FxRate
	if err := readJSON(s.ratesDir, key, &records); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load rates for %s: %w", key, err)
	}
	s.mu.Lock()
	s.rates[key] = records
	s.mu.Unlock()
	return records, nil
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "_" + strings.ToUpper(to)
}

// --- benchmarks ---

// GetReturns returns the stored series for symbol with dates in [from, to].
// An unknown symbol returns models.ErrNoData.
func (s *Store) GetReturns(_ context.Context, symbol string, from, to time.Time) ([]models.BenchmarkReturn, error) {
	series, err := s.loadBenchmark(symbol)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, models.ErrNoData
	}
	from, to = common.DateOnly(from), common.DateOnly(to)
	var out []models.BenchmarkReturn
	for _, r := range series {
		if !r.Date.Before(from) && !r.Date.After(to) {
			out = append(out, r)
		}
	}
	return out, nil
}

// SaveBenchmark merges returns into the series for symbol; a date already present is replaced.
func (s *Store) SaveBenchmark(_ context.Context, symbol string, returns []models.BenchmarkReturn) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if symbol == "" {
		return fmt.Errorf("benchmark symbol is required")
	}
	existing, err := s.loadBenchmark(symbol)
	if err != nil {
		return err
	}
	byDate := make(map[string]models.BenchmarkReturn, len(existing)+len(returns))
	for _, r := range existing {
		byDate[common.FormatDate(r.Date)] = r
	}
	for _, r := range returns {
		r.Symbol = symbol
		r.Date = common.DateOnly(r.Date)
		byDate[common.FormatDate(r.Date)] = r
	}
	merged := make([]models.BenchmarkReturn, 0, len(byDate))
	for _, r := range byDate {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Date.Before(merged[j].Date) })

	if err := writeJSON(s.benchmarksDir, symbol, merged); err != nil {
		return fmt.Errorf("failed to save benchmark %s: %w", symbol, err)
	}
	s.mu.Lock()
	s.benchmarks[symbol] = merged
	s.mu.Unlock()
	s.logger.Debug().Str("symbol", symbol).Int("returns", len(merged)).Msg("Benchmark saved")
	return nil
}

func (s *Store) loadBenchmark(symbol string) ([]models.BenchmarkReturn, error) {
	s.mu.RLock()
	cached, ok := s.benchmarks[symbol]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var series []models.BenchmarkReturn
	if err := readJSON(s.benchmarksDir, symbol, &series); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load benchmark %s: %w", symbol, err)
	}
	s.mu.Lock()
	s.benchmarks[symbol] = series
	s.mu.Unlock()
	return series, nil
}

// --- securities ---

// GetSecurity returns the reference data for id, or models.ErrNotFound.
func (s *Store) GetSecurity(_ context.Context, id string) (*models.Security, error) {
	s.mu.RLock()
	cached, ok := s.securities[id]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var sec models.Security
	if err := readJSON(s.securitiesDir, id, &sec); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("security '%s': %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load security %s: %w", id, err)
	}
	s.mu.Lock()
	s.securities[id] = &sec
	s.mu.Unlock()
	return &sec, nil
}

// SaveSecurities writes reference data, replacing any existing record.
func (s *Store) SaveSecurities(_ context.Context, securities []models.Security) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for i := range securities {
		sec := securities[i]
		if sec.ID == "" {
			return fmt.Errorf("security without id (symbol %q)", sec.Symbol)
		}
		if !sec.Type.Valid() {
			return fmt.Errorf("security %s has invalid type %q", sec.ID, sec.Type)
		}
		sec.Currency = strings.ToUpper(sec.Currency)
		if err := writeJSON(s.securitiesDir, sec.ID, &sec); err != nil {
			return fmt.Errorf("failed to save security %s: %w", sec.ID, err)
		}
		s.mu.Lock()
		s.securities[sec.ID] = &sec
		s.mu.Unlock()
	}
	return nil
}

// SecurityIDs lists every stored security id.
func (s *Store) SecurityIDs() ([]string, error) {
	keys, err := listKeys(s.securitiesDir)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// --- helpers ---

func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func filePath(dir, key string) string {
	return filepath.Join(dir, sanitizeKey(key)+".json")
}

// readJSON returns an error wrapping os.ErrNotExist when the file is missing.
func readJSON(dir, key string, dest interface{}) error {
	path := filePath(dir, key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("'%s': %w", key, os.ErrNotExist)
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("'%s' is empty", key)
	}
	return json.Unmarshal(data, dest)
}

func writeJSON(dir, key string, data interface{}) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	jsonData = append(jsonData, '\n')
	return atomicWrite(dir, filePath(dir, key), jsonData)
}

func atomicWrite(dir, target string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func listKeys(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".tmp-") {
			keys = append(keys, strings.TrimSuffix(name, ".json"))
		}
	}
	return keys, nil
}

func purgeAllFiles(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		os.Remove(filepath.Join(dir, e.Name()))
		count++
	}
	return count
}

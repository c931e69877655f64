package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the application configuration
type Config struct {
	Environment  string          `toml:"environment"`
	BaseCurrency string          `toml:"base_currency"`
	Server       ServerConfig    `toml:"server"`
	Storage      StorageConfig   `toml:"storage"`
	Analytics    AnalyticsConfig `toml:"analytics"`
	Jobs         JobsConfig      `toml:"jobs"`
	Charts       ChartsConfig    `toml:"charts"`
	Logging      LoggingConfig   `toml:"logging"`
}

// ServerConfig holds the worker HTTP listener configuration
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig selects the ledger/snapshot backend and the market data path.
type StorageConfig struct {
	Backend   string     `toml:"backend"` // "badger" or "surrealdb"
	Path      string     `toml:"path"`
	Address   string     `toml:"address"`
	Namespace string     `toml:"namespace"`
	Database  string     `toml:"database"`
	Username  string     `toml:"username"`
	Password  string     `toml:"password"`
	Market    AreaConfig `toml:"market"`
}

// AreaConfig holds a storage area path
type AreaConfig struct {
	Path string `toml:"path"`
}

// AnalyticsConfig holds calculation parameters.
type AnalyticsConfig struct {
	StalenessTradingDays int       `toml:"staleness_trading_days"`
	MinVaRObservations   int       `toml:"min_var_observations"`
	ConfidenceLevels     []float64 `toml:"confidence_levels"`
	TradingDaysPerYear   int       `toml:"trading_days_per_year"`
	TopHoldings          int       `toml:"top_holdings"`
	LookbackDays         int       `toml:"lookback_days"`
	Frequency            string    `toml:"frequency"` // daily, weekly or monthly
	BenchmarkSymbol      string    `toml:"benchmark_symbol"`
	RiskFreeSymbol       string    `toml:"risk_free_symbol"`
	BackfillConcurrency  int       `toml:"backfill_concurrency"`
}

// JobsConfig holds job manager configuration
type JobsConfig struct {
	Enabled         bool    `toml:"enabled"`
	MaxConcurrent   int     `toml:"max_concurrent"`
	MaxRetries      int     `toml:"max_retries"`
	WatcherInterval string  `toml:"watcher_interval"`
	PurgeAfter      string  `toml:"purge_after"`
	RateLimit       float64 `toml:"rate_limit"` // jobs per second, 0 = unlimited
}

// GetWatcherInterval parses the watcher interval, defaulting to 1h.
func (c JobsConfig) GetWatcherInterval() time.Duration {
	d, err := time.ParseDuration(c.WatcherInterval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// GetPurgeAfter parses the purge window, defaulting to 24h.
func (c JobsConfig) GetPurgeAfter() time.Duration {
	d, err := time.ParseDuration(c.PurgeAfter)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// GetMaxRetries returns the retry budget, defaulting to 3.
func (c JobsConfig) GetMaxRetries() int {
	if c.MaxRetries <= 0 {
		return 3
	}
	return c.MaxRetries
}

// ChartsConfig controls NAV/drawdown chart rendering.
type ChartsConfig struct {
	Enabled bool `toml:"enabled"`
	Width   int  `toml:"width"`
	Height  int  `toml:"height"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// NewDefaultConfig returns a Config with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment:  "development",
		BaseCurrency: "USD",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		Storage: StorageConfig{
			Backend:   "badger",
			Path:      "data/analytics",
			Address:   "ws://localhost:8000/rpc",
			Namespace: "vire",
			Database:  "analytics",
			Username:  "root",
			Password:  "root",
			Market:    AreaConfig{Path: "data/market"},
		},
		Analytics: AnalyticsConfig{
			StalenessTradingDays: 5,
			MinVaRObservations:   30,
			ConfidenceLevels:     []float64{0.90, 0.95, 0.99},
			TradingDaysPerYear:   252,
			TopHoldings:          10,
			LookbackDays:         730,
			Frequency:            "daily",
			BenchmarkSymbol:      "SPY",
			BackfillConcurrency:  4,
		},
		Jobs: JobsConfig{
			Enabled:         true,
			MaxConcurrent:   4,
			MaxRetries:      3,
			WatcherInterval: "1h",
			PurgeAfter:      "24h",
			RateLimit:       20,
		},
		Charts: ChartsConfig{
			Enabled: false,
			Width:   1000,
			Height:  420,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from files with environment overrides
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	// Later files override earlier ones
	for _, path := range paths {
		if path == "" {
			continue
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("VIRE_ENV"); env != "" {
		config.Environment = env
	}

	if host := os.Getenv("VIRE_HOST"); host != "" {
		config.Server.Host = host
	}

	if port := os.Getenv("VIRE_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if level := os.Getenv("VIRE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if path := os.Getenv("VIRE_DATA_PATH"); path != "" {
		config.Storage.Path = filepath.Join(path, "analytics")
		config.Storage.Market.Path = filepath.Join(path, "market")
	}

	if v := os.Getenv("VIRE_STORAGE_BACKEND"); v != "" {
		config.Storage.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("VIRE_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}

	if bc := os.Getenv("VIRE_BASE_CURRENCY"); bc != "" {
		config.BaseCurrency = strings.ToUpper(bc)
	}

	if b := os.Getenv("VIRE_BENCHMARK"); b != "" {
		config.Analytics.BenchmarkSymbol = b
	}
}

// Validate checks values that would otherwise produce nonsense metrics.
func (c *Config) Validate() error {
	c.BaseCurrency = strings.ToUpper(strings.TrimSpace(c.BaseCurrency))
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("invalid base currency %q", c.BaseCurrency)
	}
	switch c.Storage.Backend {
	case "badger", "surrealdb":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Analytics.StalenessTradingDays < 0 {
		return fmt.Errorf("staleness_trading_days must not be negative")
	}
	if c.Analytics.TradingDaysPerYear <= 0 {
		return fmt.Errorf("trading_days_per_year must be positive")
	}
	switch strings.ToLower(c.Analytics.Frequency) {
	case "", "daily", "weekly", "monthly":
	default:
		return fmt.Errorf("unknown return frequency %q", c.Analytics.Frequency)
	}
	for _, cl := range c.Analytics.ConfidenceLevels {
		if cl <= 0 || cl >= 1 {
			return fmt.Errorf("confidence level %v out of range (0,1)", cl)
		}
	}
	return nil
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// Package app wires configuration, storage and services into a runnable core
// shared by every cmd/vire-analytics subcommand.
package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/vire-analytics/internal/common"
	"github.com/bobmcallan/vire-analytics/internal/services/analytics"
	"github.com/bobmcallan/vire-analytics/internal/services/jobmanager"
	"github.com/bobmcallan/vire-analytics/internal/storage"
)

// App holds the initialized storage and services.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Storage     *storage.Manager
	Analytics   *analytics.Service
	JobManager  *jobmanager.JobManager
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath picks the config file: the given path, VIRE_CONFIG,
// vire-analytics.toml next to the binary, then config/vire-analytics.toml.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("VIRE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "vire-analytics.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/vire-analytics.toml" // fallback for development
		}
	}
	return configPath
}

// NewApp loads configuration and initializes storage and services.
// configPath may be empty, in which case ResolveConfigPath decides.
func NewApp(configPath string) (*App, error) {
	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Relative storage paths are anchored at the binary for self-contained operation
	binDir := getBinaryDir()
	if config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}
	if config.Storage.Market.Path != "" && !filepath.IsAbs(config.Storage.Market.Path) {
		config.Storage.Market.Path = filepath.Join(binDir, config.Storage.Market.Path)
	}

	return NewAppWithConfig(config, common.NewLoggerFromConfig(config.Logging))
}

// NewAppWithConfig initializes storage and services from an already loaded config.
func NewAppWithConfig(config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()

	storageManager, err := storage.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	analyticsService := analytics.NewService(storageManager, config, logger)
	jobManager := jobmanager.NewJobManager(analyticsService, storageManager, logger, config.Jobs)

	a := &App{
		Config:      config,
		Logger:      logger,
		Storage:     storageManager,
		Analytics:   analyticsService,
		JobManager:  jobManager,
		StartupTime: startupStart,
	}

	logger.Info().
		Str("backend", config.Storage.Backend).
		Str("base_currency", config.BaseCurrency).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")

	return a, nil
}

// Close releases all resources held by the App.
// The job manager is stopped by its owner before Close.
func (a *App) Close() {
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
		a.Storage = nil
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"media-vault/internal/logging"
	"media-vault/internal/workers"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information.
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

const importWorkerLimit = 8

// Config holds all application configuration.
type Config struct {
	DatabaseDir     string        `yaml:"databaseDir"`
	CacheDir        string        `yaml:"cacheDir"`
	Port            string        `yaml:"port"`
	MetricsPort     string        `yaml:"metricsPort"`
	MetricsEnabled  bool          `yaml:"metricsEnabled"`
	ImportWorkers   int           `yaml:"importWorkers"`
	StatsInterval   time.Duration `yaml:"statsInterval"`
	VipsEnabled     bool          `yaml:"vipsEnabled"`
	LogHealthChecks bool          `yaml:"logHealthChecks"`

	// Derived paths
	DatabasePath string `yaml:"-"`
	ThumbnailDir string `yaml:"-"`

	// Thumbnails require a writable cache directory.
	ThumbnailsEnabled bool `yaml:"-"`
}

// fileOverlay is the subset of Config readable from an optional YAML file
// named by CONFIG_FILE. Environment variables win over file values.
type fileOverlay struct {
	DatabaseDir     *string `yaml:"databaseDir"`
	CacheDir        *string `yaml:"cacheDir"`
	Port            *string `yaml:"port"`
	MetricsPort     *string `yaml:"metricsPort"`
	MetricsEnabled  *bool   `yaml:"metricsEnabled"`
	ImportWorkers   *int    `yaml:"importWorkers"`
	StatsInterval   *string `yaml:"statsInterval"`
	VipsEnabled     *bool   `yaml:"vipsEnabled"`
	LogHealthChecks *bool   `yaml:"logHealthChecks"`
}

// Load reads configuration from the optional YAML file and the environment,
// validates directories, and logs the resulting setup.
func Load() (*Config, error) {
	printBanner()
	logSystemInfo()

	config := &Config{
		DatabaseDir:     "/database",
		CacheDir:        "/cache",
		Port:            "8080",
		MetricsPort:     "9090",
		MetricsEnabled:  true,
		ImportWorkers:   workers.ForIO(importWorkerLimit),
		StatsInterval:   time.Second,
		VipsEnabled:     true,
		LogHealthChecks: false,
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyFileOverlay(config, path); err != nil {
			return nil, err
		}
	}
	applyEnv(config)

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  DATABASE_DIR:      %s", config.DatabaseDir)
	logging.Info("  CACHE_DIR:         %s", config.CacheDir)
	logging.Info("  PORT:              %s", config.Port)
	logging.Info("  METRICS_PORT:      %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:   %v", config.MetricsEnabled)
	logging.Info("  IMPORT_WORKERS:    %d", config.ImportWorkers)
	logging.Info("  STATS_INTERVAL:    %s", config.StatsInterval)
	logging.Info("  VIPS_ENABLED:      %v", config.VipsEnabled)
	logging.Info("  LOG_HEALTH_CHECKS: %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:         %s", logging.GetLevel())

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	var err error
	config.DatabaseDir, err = filepath.Abs(config.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	config.CacheDir, err = filepath.Abs(config.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)
	logging.Info("  Cache directory (absolute): %s", config.CacheDir)

	config.DatabasePath = filepath.Join(config.DatabaseDir, "vault.db")
	config.ThumbnailDir = filepath.Join(config.CacheDir, "thumbnails")

	if err := ensureDirectory(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	if err := testWriteAccess(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable: %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	config.ThumbnailsEnabled = setupOptionalDir(config.ThumbnailDir, "thumbnails")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:   ENABLED (required)")
	logging.Info("    Thumbnails: %s", enabledString(config.ThumbnailsEnabled))
	logging.Info("    Vips:       %s", enabledString(config.VipsEnabled))
	logging.Info("    Metrics:    %s", enabledString(config.MetricsEnabled))

	return config, nil
}

func applyFileOverlay(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	logging.Info("  Applying config file: %s", path)
	if overlay.DatabaseDir != nil {
		config.DatabaseDir = *overlay.DatabaseDir
	}
	if overlay.CacheDir != nil {
		config.CacheDir = *overlay.CacheDir
	}
	if overlay.Port != nil {
		config.Port = *overlay.Port
	}
	if overlay.MetricsPort != nil {
		config.MetricsPort = *overlay.MetricsPort
	}
	if overlay.MetricsEnabled != nil {
		config.MetricsEnabled = *overlay.MetricsEnabled
	}
	if overlay.ImportWorkers != nil && *overlay.ImportWorkers > 0 {
		config.ImportWorkers = *overlay.ImportWorkers
	}
	if overlay.StatsInterval != nil {
		interval, err := time.ParseDuration(*overlay.StatsInterval)
		if err != nil {
			return fmt.Errorf("invalid statsInterval in %s: %w", path, err)
		}
		config.StatsInterval = interval
	}
	if overlay.VipsEnabled != nil {
		config.VipsEnabled = *overlay.VipsEnabled
	}
	if overlay.LogHealthChecks != nil {
		config.LogHealthChecks = *overlay.LogHealthChecks
	}
	return nil
}

func applyEnv(config *Config) {
	config.DatabaseDir = getEnv("DATABASE_DIR", config.DatabaseDir)
	config.CacheDir = getEnv("CACHE_DIR", config.CacheDir)
	config.Port = getEnv("PORT", config.Port)
	config.MetricsPort = getEnv("METRICS_PORT", config.MetricsPort)
	config.MetricsEnabled = getEnvBool("METRICS_ENABLED", config.MetricsEnabled)
	config.VipsEnabled = getEnvBool("VIPS_ENABLED", config.VipsEnabled)
	config.LogHealthChecks = getEnvBool("LOG_HEALTH_CHECKS", config.LogHealthChecks)

	if value := os.Getenv("IMPORT_WORKERS"); value != "" {
		if count, err := strconv.Atoi(value); err == nil && count > 0 {
			config.ImportWorkers = count
		} else {
			logging.Warn("Invalid IMPORT_WORKERS value %q, keeping %d", value, config.ImportWorkers)
		}
	}
	if value := os.Getenv("STATS_INTERVAL"); value != "" {
		if interval, err := time.ParseDuration(value); err == nil {
			config.StatsInterval = interval
		} else {
			logging.Warn("Invalid STATS_INTERVAL value %q, keeping %s", value, config.StatsInterval)
		}
	}
}

func setupOptionalDir(path, name string) bool {
	logging.Debug("  Setting up %s directory: %s", name, path)

	if err := os.MkdirAll(path, 0o755); err != nil {
		logging.Warn("    Failed to create %s directory: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}

	testFile := filepath.Join(path, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		logging.Warn("    %s directory is not writable: %v", name, err)
		logging.Warn("    %s will be disabled", name)
		return false
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("    failed to remove test file %s: %v", testFile, err)
	}

	logging.Debug("    [OK] %s directory ready", name)
	return true
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func ensureDirectory(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

func printBanner() {
	banner := `
------------------------------------------------------------
    __  ___         ___     _    __          ____
   /  |/  /__  ____/ (_)___| |  / /___ ___  _/ / /_
  / /|_/ / _ \/ __  / / __ '/ | / / __ '/ / / / __/
 / /  / /  __/ /_/ / / /_/ /| |/ / /_/ / /_/ / /_
/_/  /_/\___/\__,_/_/\__,_/ |___/\__,_/\__,_/\__/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))
	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}
	logging.Info("")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

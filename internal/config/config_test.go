package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setDirs(t *testing.T) (dbDir, cacheDir string) {
	t.Helper()
	dbDir = t.TempDir()
	cacheDir = t.TempDir()
	t.Setenv("DATABASE_DIR", dbDir)
	t.Setenv("CACHE_DIR", cacheDir)
	return dbDir, cacheDir
}

func TestLoadDefaults(t *testing.T) {
	dbDir, cacheDir := setDirs(t)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if config.DatabaseDir != dbDir {
		t.Errorf("DatabaseDir = %s, want %s", config.DatabaseDir, dbDir)
	}
	if config.DatabasePath != filepath.Join(dbDir, "vault.db") {
		t.Errorf("DatabasePath = %s", config.DatabasePath)
	}
	if config.ThumbnailDir != filepath.Join(cacheDir, "thumbnails") {
		t.Errorf("ThumbnailDir = %s", config.ThumbnailDir)
	}
	if !config.ThumbnailsEnabled {
		t.Error("Thumbnails should be enabled with a writable cache dir")
	}
	if config.Port != "8080" || config.MetricsPort != "9090" {
		t.Errorf("Ports = %s/%s", config.Port, config.MetricsPort)
	}
	if config.ImportWorkers < 1 {
		t.Errorf("ImportWorkers = %d, want at least 1", config.ImportWorkers)
	}
	if config.StatsInterval != time.Second {
		t.Errorf("StatsInterval = %s, want 1s", config.StatsInterval)
	}

	// Thumbnail directory was created.
	if info, err := os.Stat(config.ThumbnailDir); err != nil || !info.IsDir() {
		t.Errorf("Thumbnail directory missing: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	setDirs(t)
	t.Setenv("PORT", "1234")
	t.Setenv("IMPORT_WORKERS", "3")
	t.Setenv("STATS_INTERVAL", "5s")
	t.Setenv("VIPS_ENABLED", "false")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Port != "1234" {
		t.Errorf("Port = %s", config.Port)
	}
	if config.ImportWorkers != 3 {
		t.Errorf("ImportWorkers = %d, want 3", config.ImportWorkers)
	}
	if config.StatsInterval != 5*time.Second {
		t.Errorf("StatsInterval = %s", config.StatsInterval)
	}
	if config.VipsEnabled {
		t.Error("VIPS_ENABLED=false should disable vips")
	}
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	setDirs(t)
	t.Setenv("IMPORT_WORKERS", "not-a-number")
	t.Setenv("STATS_INTERVAL", "soon")
	t.Setenv("METRICS_ENABLED", "maybe")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.ImportWorkers < 1 {
		t.Errorf("ImportWorkers = %d", config.ImportWorkers)
	}
	if config.StatsInterval != time.Second {
		t.Errorf("StatsInterval = %s, want default 1s", config.StatsInterval)
	}
	if !config.MetricsEnabled {
		t.Error("Invalid METRICS_ENABLED should keep the default")
	}
}

func TestLoadConfigFileOverlay(t *testing.T) {
	dbDir, _ := setDirs(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "port: \"7070\"\nimportWorkers: 2\nstatsInterval: 2s\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Port != "7070" {
		t.Errorf("Port = %s, want file value 7070", config.Port)
	}
	if config.ImportWorkers != 2 {
		t.Errorf("ImportWorkers = %d, want 2", config.ImportWorkers)
	}
	if config.StatsInterval != 2*time.Second {
		t.Errorf("StatsInterval = %s", config.StatsInterval)
	}
	if config.DatabaseDir != dbDir {
		t.Errorf("Env DATABASE_DIR should win over file default: %s", config.DatabaseDir)
	}
}

func TestLoadEnvWinsOverFile(t *testing.T) {
	setDirs(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("port: \"7070\"\n"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PORT", "6060")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Port != "6060" {
		t.Errorf("Port = %s, env must win over file", config.Port)
	}
}

func TestLoadBadConfigFile(t *testing.T) {
	setDirs(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(":\tnot yaml {{"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := Load(); err == nil {
		t.Error("Unparseable config file should fail Load")
	}
}

func TestGetBuildInfo(t *testing.T) {
	t.Parallel()

	info := GetBuildInfo()
	if info.Version == "" || info.GoVersion == "" || info.OS == "" || info.Arch == "" {
		t.Errorf("BuildInfo has empty fields: %+v", info)
	}
}

package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains file and directory locations.
type Paths struct {
	ProjectRoot string `toml:"project_root"`
	StorePath   string `toml:"store_path"`
	BackupDir   string `toml:"backup_dir"`
	LogDir      string `toml:"log_dir"`
}

// Store contains lock and retry settings for the record store.
type Store struct {
	LockTimeoutMS         int  `toml:"lock_timeout_ms"`
	RetryAttempts         int  `toml:"retry_attempts"`
	RetryInitialBackoffMS int  `toml:"retry_initial_backoff_ms"`
	RetryMaxBackoffMS     int  `toml:"retry_max_backoff_ms"`
	AutoRecover           bool `toml:"auto_recover"`
}

// Backup contains the snapshot cadence and retention policy.
type Backup struct {
	// Retain is the number of most recent snapshots kept on disk.
	Retain int `toml:"retain"`
	// IntervalMinutes is the minimum age of the newest snapshot before a
	// write triggers another one. Zero disables cadence-driven snapshots.
	IntervalMinutes int `toml:"interval_minutes"`
}

// Identity contains path canonicalization and record matching rules.
type Identity struct {
	// CaseMode is one of auto, sensitive or insensitive.
	CaseMode      string `toml:"case_mode"`
	FallbackMatch bool   `toml:"fallback_match"`
	Checksums     bool   `toml:"checksums"`
}

// Legacy locates the flat ledgers written by older stage scripts.
type Legacy struct {
	CopyResults       string `toml:"copy_results"`
	ConversionLogsDir string `toml:"conversion_logs_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Scan contains settings for batch registration of existing files.
type Scan struct {
	Workers int    `toml:"workers"`
	Pattern string `toml:"pattern"`
}

// Config encapsulates all configuration values for pipetrack.
//
// Configuration sections by subsystem:
//   - Paths: project root, store file, backup and log directories
//   - Store: lock timeout and busy-retry policy
//   - Backup: snapshot retention and cadence
//   - Identity: case handling, metadata fallback matching, checksums
//   - Legacy: ledgers replayed by the importer
//   - Logging: log format, level, and retention
//   - Scan: batch registration workers and default glob
type Config struct {
	Paths    Paths    `toml:"paths"`
	Store    Store    `toml:"store"`
	Backup   Backup   `toml:"backup"`
	Identity Identity `toml:"identity"`
	Legacy   Legacy   `toml:"legacy"`
	Logging  Logging  `toml:"logging"`
	Scan     Scan     `toml:"scan"`
}

// DefaultConfigPath returns $XDG_CONFIG_HOME/pipetrack/config.toml.
func DefaultConfigPath() (string, error) {
	xdg.Reload()
	return ExpandPath(filepath.Join(xdg.ConfigHome, "pipetrack", "config.toml"))
}

// Load reads the config at path, or the first of the XDG default and
// ./pipetrack.toml when path is empty, over Default(). It returns the
// resolved path and whether that file existed. A missing file is not an
// error; defaults apply.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := locate(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		raw, err := os.ReadFile(resolved)
		if err != nil {
			return nil, "", false, fmt.Errorf("read config %s: %w", resolved, err)
		}
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

func locate(explicit string) (string, bool, error) {
	var candidates []string
	if explicit != "" {
		candidates = []string{explicit}
	} else {
		def, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		candidates = []string{def, "pipetrack.toml"}
	}

	first := ""
	for _, candidate := range candidates {
		abs, err := ExpandPath(candidate)
		if err != nil {
			return "", false, err
		}
		if first == "" {
			first = abs
		}
		switch info, err := os.Stat(abs); {
		case err == nil && !info.IsDir():
			return abs, true, nil
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return "", false, fmt.Errorf("stat config %s: %w", abs, err)
		}
	}
	return first, false, nil
}

// EnsureDirectories creates the store, backup and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{filepath.Dir(c.Paths.StorePath), c.Paths.BackupDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LockTimeout returns the bounded wait applied to store locks.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Store.LockTimeoutMS) * time.Millisecond
}

// BackupInterval returns the snapshot cadence; zero disables it.
func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalMinutes) * time.Minute
}

// RetryBackoff returns the initial and maximum busy-retry delays.
func (c *Config) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.Store.RetryInitialBackoffMS) * time.Millisecond,
		time.Duration(c.Store.RetryMaxBackoffMS) * time.Millisecond
}

// ExpandPath resolves a leading ~ to the home directory and returns an
// absolute, cleaned path. The empty string is returned unchanged.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: home directory: %w", p, err)
		}
		p = home + strings.TrimPrefix(p, "~")
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", p, err)
	}
	return abs, nil
}

// CreateSample writes the embedded, commented sample config to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("sample config dir: %w", err)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

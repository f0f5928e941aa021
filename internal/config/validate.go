package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateBackup(); err != nil {
		return err
	}
	if err := c.validateIdentity(); err != nil {
		return err
	}
	if c.Scan.Workers <= 0 {
		return errors.New("scan.workers must be positive")
	}
	if _, err := filepath.Match(c.Scan.Pattern, ""); err != nil {
		return fmt.Errorf("scan.pattern: %w", err)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if c.Paths.StorePath == "" {
		return errors.New("paths.store_path must be set")
	}
	if c.Paths.BackupDir == filepath.Dir(c.Paths.StorePath) {
		return errors.New("paths.backup_dir must differ from the store directory")
	}
	return nil
}

func (c *Config) validateStore() error {
	if err := ensurePositiveMap(map[string]int{
		"store.lock_timeout_ms":          c.Store.LockTimeoutMS,
		"store.retry_attempts":           c.Store.RetryAttempts,
		"store.retry_initial_backoff_ms": c.Store.RetryInitialBackoffMS,
		"store.retry_max_backoff_ms":     c.Store.RetryMaxBackoffMS,
	}); err != nil {
		return err
	}
	if c.Store.RetryMaxBackoffMS < c.Store.RetryInitialBackoffMS {
		return errors.New("store.retry_max_backoff_ms must be at least store.retry_initial_backoff_ms")
	}
	return nil
}

func (c *Config) validateBackup() error {
	if c.Backup.Retain <= 0 {
		return errors.New("backup.retain must be positive")
	}
	if c.Backup.IntervalMinutes < 0 {
		return errors.New("backup.interval_minutes must not be negative (0 disables cadence snapshots)")
	}
	return nil
}

func (c *Config) validateIdentity() error {
	switch c.Identity.CaseMode {
	case "auto", "sensitive", "insensitive":
		return nil
	default:
		return fmt.Errorf("identity.case_mode: unsupported value %q (expected auto, sensitive or insensitive)", c.Identity.CaseMode)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

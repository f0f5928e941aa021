package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	c.applyEnv()
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeLegacy(); err != nil {
		return err
	}
	c.normalizeIdentity()
	c.normalizeLogging()
	c.normalizeScan()
	return nil
}

func (c *Config) applyEnv() {
	if value, ok := os.LookupEnv("PIPETRACK_STORE"); ok && strings.TrimSpace(value) != "" {
		c.Paths.StorePath = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("PIPETRACK_PROJECT_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Paths.ProjectRoot = strings.TrimSpace(value)
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.ProjectRoot, err = ExpandPath(strings.TrimSpace(c.Paths.ProjectRoot)); err != nil {
		return fmt.Errorf("paths.project_root: %w", err)
	}
	if strings.TrimSpace(c.Paths.StorePath) == "" {
		c.Paths.StorePath = Default().Paths.StorePath
	}
	if c.Paths.StorePath, err = ExpandPath(c.Paths.StorePath); err != nil {
		return fmt.Errorf("paths.store_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.BackupDir) == "" {
		c.Paths.BackupDir = filepath.Join(filepath.Dir(c.Paths.StorePath), defaultBackupSubdir)
	}
	if c.Paths.BackupDir, err = ExpandPath(c.Paths.BackupDir); err != nil {
		return fmt.Errorf("paths.backup_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = Default().Paths.LogDir
	}
	if c.Paths.LogDir, err = ExpandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLegacy() error {
	root := c.Paths.ProjectRoot
	if strings.TrimSpace(c.Legacy.CopyResults) == "" && root != "" {
		c.Legacy.CopyResults = filepath.Join(root, defaultCopyResultsRel)
	}
	if strings.TrimSpace(c.Legacy.ConversionLogsDir) == "" && root != "" {
		c.Legacy.ConversionLogsDir = filepath.Join(root, defaultConversionLogsRel)
	}
	var err error
	if c.Legacy.CopyResults, err = ExpandPath(strings.TrimSpace(c.Legacy.CopyResults)); err != nil {
		return fmt.Errorf("legacy.copy_results: %w", err)
	}
	if c.Legacy.ConversionLogsDir, err = ExpandPath(strings.TrimSpace(c.Legacy.ConversionLogsDir)); err != nil {
		return fmt.Errorf("legacy.conversion_logs_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeIdentity() {
	c.Identity.CaseMode = strings.ToLower(strings.TrimSpace(c.Identity.CaseMode))
	if c.Identity.CaseMode == "" {
		c.Identity.CaseMode = defaultCaseMode
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeScan() {
	c.Scan.Pattern = strings.TrimSpace(c.Scan.Pattern)
	if c.Scan.Pattern == "" {
		c.Scan.Pattern = defaultScanPattern
	}
}

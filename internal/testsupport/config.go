package testsupport

import (
	"path/filepath"
	"testing"

	"pipetrack/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Cadence backups are disabled and identity matching is case-sensitive so
// tests behave the same on every platform.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.ProjectRoot = filepath.Join(base, "project")
	cfgVal.Paths.StorePath = filepath.Join(base, "db", "tracker.db")
	cfgVal.Paths.BackupDir = filepath.Join(base, "db", "backups")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Legacy.CopyResults = filepath.Join(cfgVal.Paths.ProjectRoot, "log", "copy_results.json")
	cfgVal.Legacy.ConversionLogsDir = filepath.Join(cfgVal.Paths.ProjectRoot, "BIDS", "conversion_logs")
	cfgVal.Backup.IntervalMinutes = 0
	cfgVal.Backup.Retain = 3
	cfgVal.Identity.CaseMode = "sensitive"
	cfgVal.Store.LockTimeoutMS = 2000

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithBackups enables cadence backups with the given retention.
func WithBackups(retain, intervalMinutes int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Backup.Retain = retain
		b.cfg.Backup.IntervalMinutes = intervalMinutes
	}
}

// WithFallbackMatch enables hint-based record matching in the tracker.
func WithFallbackMatch() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Identity.FallbackMatch = true
	}
}

// WithCaseMode sets identity.case_mode.
func WithCaseMode(mode string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Identity.CaseMode = mode
	}
}

// WithLockTimeout overrides the store lock timeout.
func WithLockTimeout(ms int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Store.LockTimeoutMS = ms
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(filepath.Dir(cfg.Paths.StorePath))
}

// DataDir returns a directory for fixture data files under the test root.
func DataDir(cfg *config.Config) string {
	return filepath.Join(BaseDir(cfg), "data")
}

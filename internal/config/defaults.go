package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

const (
	defaultStoreFile             = "tracker.db"
	defaultBackupSubdir          = "backups"
	defaultLockTimeoutMS         = 5000
	defaultRetryAttempts         = 5
	defaultRetryInitialBackoffMS = 10
	defaultRetryMaxBackoffMS     = 200
	defaultBackupRetain          = 10
	defaultBackupIntervalMinutes = 60
	defaultCaseMode              = "auto"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 30
	defaultScanWorkers           = 4
	defaultScanPattern           = "*.fif"
	defaultCopyResultsRel        = "log/copy_results.json"
	defaultConversionLogsRel     = "BIDS/conversion_logs"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	dataDir, stateDir := defaultDirs()
	return Config{
		Paths: Paths{
			StorePath: filepath.Join(dataDir, defaultStoreFile),
			LogDir:    filepath.Join(stateDir, "logs"),
		},
		Store: Store{
			LockTimeoutMS:         defaultLockTimeoutMS,
			RetryAttempts:         defaultRetryAttempts,
			RetryInitialBackoffMS: defaultRetryInitialBackoffMS,
			RetryMaxBackoffMS:     defaultRetryMaxBackoffMS,
			AutoRecover:           true,
		},
		Backup: Backup{
			Retain:          defaultBackupRetain,
			IntervalMinutes: defaultBackupIntervalMinutes,
		},
		Identity: Identity{
			CaseMode:  defaultCaseMode,
			Checksums: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Scan: Scan{
			Workers: defaultScanWorkers,
			Pattern: defaultScanPattern,
		},
	}
}

func defaultDirs() (string, string) {
	xdg.Reload()
	return filepath.Join(xdg.DataHome, "pipetrack"), filepath.Join(xdg.StateHome, "pipetrack")
}

package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// PruneLogs deletes *.log files in dir whose modification time is older than
// retentionDays, except the paths in keep. It returns the number removed. A
// retentionDays of 0 disables pruning.
func PruneLogs(logger *slog.Logger, dir string, retentionDays int, keep ...string) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.log"))
	if err != nil {
		return 0
	}
	kept := make(map[string]bool, len(keep))
	for _, path := range keep {
		kept[filepath.Clean(path)] = true
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	removed := 0
	for _, path := range matches {
		if kept[filepath.Clean(path)] {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			WarnWithContext(logger, "log retention remove failed; file remains", "log_retention_failed",
				String(FieldPath, path),
				Error(err),
				String(FieldErrorHint, "check permissions on paths.log_dir"),
				String(FieldImpact, "old log file remains on disk"),
			)
			continue
		}
		removed++
	}
	if removed > 0 && logger != nil {
		logger.Info("old logs pruned",
			String(FieldEventType, "log_pruned"),
			String(FieldPath, dir),
			Int("removed", removed),
		)
	}
	return removed
}

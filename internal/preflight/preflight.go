package preflight

import (
	"context"

	"pipetrack/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes every applicable check for the given config. The store is
// checked first so its directories exist before their access is tested.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{CheckStore(ctx, cfg)}
	results = append(results, CheckDirectoryAccess("Backup directory", cfg.Paths.BackupDir))
	results = append(results, CheckBackups(ctx, cfg))

	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if cfg.Paths.ProjectRoot != "" {
		results = append(results, CheckDirectoryAccess("Project root", cfg.Paths.ProjectRoot))
	}

	// Legacy ledgers are optional inputs to import.
	if cfg.Legacy.CopyResults != "" {
		results = append(results, CheckLedgerFile("Copy ledger", cfg.Legacy.CopyResults))
	}
	if cfg.Legacy.ConversionLogsDir != "" {
		results = append(results, CheckLedgerDir("Conversion logs", cfg.Legacy.ConversionLogsDir))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

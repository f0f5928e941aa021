package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"pipetrack/internal/config"
	"pipetrack/internal/store"
)

// CheckStore opens the record store and runs its health diagnostics.
func CheckStore(ctx context.Context, cfg *config.Config) Result {
	const name = "Record store"

	st, err := store.OpenContext(ctx, cfg)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error %s: %v)", cfg.Paths.StorePath, store.Kind(err), err)}
	}
	defer st.Close()

	health, err := st.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", health.DBPath, err)}
	}
	switch {
	case len(health.TablesMissing) > 0:
		return Result{Name: name, Detail: fmt.Sprintf("%s (missing tables: %s)", health.DBPath, strings.Join(health.TablesMissing, ", "))}
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: fmt.Sprintf("%s (integrity check failed)", health.DBPath)}
	case !health.DirectoryWritable:
		return Result{Name: name, Detail: fmt.Sprintf("%s (directory not writable)", health.DBPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema v%d, %d files, %d operations)",
		health.DBPath, health.SchemaVersion, health.TotalFiles, health.TotalOperations)}
}

// CheckBackups verifies the newest snapshot. Having no snapshot yet passes.
func CheckBackups(ctx context.Context, cfg *config.Config) Result {
	const name = "Latest backup"

	backups, err := store.ListBackups(cfg.Paths.BackupDir, cfg.Paths.StorePath)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.Paths.BackupDir, err)}
	}
	if len(backups) == 0 {
		return Result{Name: name, Passed: true, Detail: "none yet"}
	}
	newest := backups[len(backups)-1]
	if err := store.VerifyBackup(ctx, newest.Path); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", newest.Path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d kept, verified)", newest.Path, len(backups))}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckLedgerFile verifies an optional ledger file is readable when present.
func CheckLedgerFile(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not present)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not readable: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (readable)", path)}
}

// CheckLedgerDir verifies an optional directory of TSV ledgers.
func CheckLedgerDir(name, dir string) Result {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (not present)", dir)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", dir, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", dir)}
	}
	matches, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", dir, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (%d logs)", dir, len(matches))}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"pipetrack/internal/config"
	"pipetrack/internal/fileutil"
)

const backupTimeLayout = "20060102T150405.000000000Z"

// BackupInfo describes one snapshot file.
type BackupInfo struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

func backupPrefix(storePath string) string {
	base := filepath.Base(storePath)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".backup_"
}

// BackupName returns the snapshot filename for storePath taken at ts.
func BackupName(storePath string, ts time.Time) string {
	return backupPrefix(storePath) + ts.UTC().Format(backupTimeLayout) + ".db"
}

// ListBackups returns the snapshots of storePath found in dir, oldest first.
func ListBackups(dir, storePath string) ([]BackupInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read backup dir: %w", err)
	}
	prefix := backupPrefix(storePath)
	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".db") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".db")
		created, err := time.Parse(backupTimeLayout, stamp)
		if err != nil {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(dir, name),
			Name:      name,
			CreatedAt: created,
			SizeBytes: info.Size(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.Before(backups[j].CreatedAt)
	})
	return backups, nil
}

// PruneBackups deletes the oldest snapshots until at most retain remain and
// returns the removed paths.
func PruneBackups(dir, storePath string, retain int) ([]string, error) {
	if retain <= 0 {
		return nil, fmt.Errorf("%w: retain must be positive", ErrInvalidInput)
	}
	backups, err := ListBackups(dir, storePath)
	if err != nil {
		return nil, err
	}
	var removed []string
	for len(backups) > retain {
		oldest := backups[0]
		if err := os.Remove(oldest.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("remove backup %s: %w", oldest.Name, err)
		}
		removed = append(removed, oldest.Path)
		backups = backups[1:]
	}
	return removed, nil
}

// Backup writes a point-in-time snapshot with VACUUM INTO and prunes the
// backup directory to the configured retention. Writers are not blocked.
func (s *Store) Backup(ctx context.Context) (BackupInfo, error) {
	ctx = ensureContext(ctx)
	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return BackupInfo{}, fmt.Errorf("create backup dir: %w", err)
	}

	ts := time.Now().UTC()
	target := filepath.Join(s.backupDir, BackupName(s.path, ts))
	for {
		if _, err := os.Stat(target); errors.Is(err, os.ErrNotExist) {
			break
		}
		ts = ts.Add(time.Microsecond)
		target = filepath.Join(s.backupDir, BackupName(s.path, ts))
	}

	if err := s.retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "VACUUM INTO ?", target)
		if err != nil {
			_ = os.Remove(target)
		}
		return err
	}); err != nil {
		return BackupInfo{}, fmt.Errorf("snapshot store: %w", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("stat backup: %w", err)
	}
	if _, err := PruneBackups(s.backupDir, s.path, s.backupRetain); err != nil {
		return BackupInfo{}, err
	}
	return BackupInfo{Path: target, Name: filepath.Base(target), CreatedAt: ts, SizeBytes: info.Size()}, nil
}

// MaybeBackup takes a snapshot when the newest one is older than the
// configured interval. A zero interval disables cadence snapshots.
func (s *Store) MaybeBackup(ctx context.Context) (BackupInfo, bool, error) {
	if s.backupInterval <= 0 {
		return BackupInfo{}, false, nil
	}
	backups, err := ListBackups(s.backupDir, s.path)
	if err != nil {
		return BackupInfo{}, false, err
	}
	if n := len(backups); n > 0 && time.Since(backups[n-1].CreatedAt) < s.backupInterval {
		return BackupInfo{}, false, nil
	}
	info, err := s.Backup(ctx)
	if err != nil {
		return BackupInfo{}, false, err
	}
	return info, true, nil
}

// VerifyBackup opens path in query-only mode and runs a quick integrity check.
func VerifyBackup(ctx context.Context, path string) error {
	ctx = ensureContext(ctx)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: backup %s: %v", ErrNotFound, path, err)
	}
	db, err := sql.Open("sqlite", "file:"+filepath.ToSlash(path)+"?_pragma=query_only(1)")
	if err != nil {
		return fmt.Errorf("open backup: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("%w: backup %s: %v", ErrCorrupt, path, err)
	}
	if !strings.EqualFold(strings.TrimSpace(result), "ok") {
		return fmt.Errorf("%w: backup %s: quick_check reported %q", ErrCorrupt, path, result)
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(1) FROM files").Scan(&count); err != nil {
		return fmt.Errorf("%w: backup %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// RestoreBackup replaces the configured store with a verified snapshot. An
// empty backupPath selects the newest snapshot that passes verification. The
// swap happens under an exclusive lock, so it fails with ErrBusy while any
// process holds the store open.
func RestoreBackup(ctx context.Context, cfg *config.Config, backupPath string) (string, error) {
	ctx = ensureContext(ctx)
	storePath := cfg.Paths.StorePath

	chosen, err := chooseBackup(ctx, cfg.Paths.BackupDir, storePath, backupPath)
	if err != nil {
		return "", err
	}

	lock := flock.New(lockPath(storePath))
	if err := acquire(ctx, lock, cfg.LockTimeout(), false); err != nil {
		return "", err
	}
	defer func() { _ = lock.Unlock() }()

	tmp := storePath + ".restore.tmp"
	if _, err := fileutil.CopyFileVerified(chosen, tmp); err != nil {
		return "", fmt.Errorf("stage backup copy: %w", err)
	}
	if err := removeSidecars(storePath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("remove journal files: %w", err)
	}
	if err := os.Rename(tmp, storePath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("replace store: %w", err)
	}
	return chosen, nil
}

func chooseBackup(ctx context.Context, dir, storePath, requested string) (string, error) {
	if requested != "" {
		if err := VerifyBackup(ctx, requested); err != nil {
			return "", err
		}
		return requested, nil
	}
	backups, err := ListBackups(dir, storePath)
	if err != nil {
		return "", err
	}
	for i := len(backups) - 1; i >= 0; i-- {
		if err := VerifyBackup(ctx, backups[i].Path); err == nil {
			return backups[i].Path, nil
		}
	}
	return "", fmt.Errorf("%w: no valid backup in %s", ErrNotFound, dir)
}

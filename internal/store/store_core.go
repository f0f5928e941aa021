package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"pipetrack/internal/config"
	"pipetrack/internal/store/migrations"
)

// Store manages record persistence backed by SQLite.
type Store struct {
	db             *sql.DB
	path           string
	lock           *flock.Flock
	retry          retryPolicy
	backupDir      string
	backupRetain   int
	backupInterval time.Duration
}

const (
	sqliteBusyCode    = 5
	sqliteLockedCode  = 6
	sqliteCorruptCode = 11
	sqliteNotADBCode  = 26
	lockRetryDelay    = 25 * time.Millisecond
)

type retryPolicy struct {
	attempts       int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func sqliteCode(err error) (int, bool) {
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		return coder.Code() & 0xff, true
	}
	return 0, false
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && (code == sqliteBusyCode || code == sqliteLockedCode) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isSQLiteCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok && (code == sqliteCorruptCode || code == sqliteNotADBCode) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "database disk image is malformed")
}

func (s *Store) retryOnBusy(ctx context.Context, op func() error) error {
	delay := s.retry.initialBackoff
	var lastErr error
	for attempt := 0; attempt < s.retry.attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == s.retry.attempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= s.retry.maxBackoff {
			delay = next
		}
	}
	if isSQLiteBusy(lastErr) {
		return fmt.Errorf("%w: %v", ErrBusy, lastErr)
	}
	if isSQLiteCorrupt(lastErr) {
		return fmt.Errorf("%w: %v", ErrCorrupt, lastErr)
	}
	return lastErr
}

// withTx runs fn inside one BEGIN IMMEDIATE transaction, retrying the whole
// transaction on contention.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return s.retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// withReadTx runs fn inside a deferred read transaction so multi-query reads
// observe one consistent snapshot.
func (s *Store) withReadTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return s.retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		return fn(tx)
	})
}

func buildDSN(path string, busyTimeout time.Duration) string {
	params := url.Values{}
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "synchronous(FULL)")
	params.Add("_pragma", "foreign_keys(ON)")
	params.Set("_txlock", "immediate")
	return "file:" + filepath.ToSlash(path) + "?" + params.Encode()
}

func lockPath(storePath string) string {
	return storePath + ".lock"
}

func migrateLockPath(storePath string) string {
	return storePath + ".migrate.lock"
}

func acquire(ctx context.Context, lock *flock.Flock, timeout time.Duration, shared bool) error {
	lockCtx, cancel := context.WithTimeout(ensureContext(ctx), timeout)
	defer cancel()
	var (
		ok  bool
		err error
	)
	if shared {
		ok, err = lock.TryRLockContext(lockCtx, lockRetryDelay)
	} else {
		ok, err = lock.TryLockContext(lockCtx, lockRetryDelay)
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("lock %s: %w", lock.Path(), err)
	}
	if !ok {
		return fmt.Errorf("%w: lock %s not acquired within %s", ErrBusy, lock.Path(), timeout)
	}
	return nil
}

// Open initializes or connects to the record store configured in cfg. The
// schema is migrated under an exclusive lock and the database must pass a
// quick integrity check; failure is reported as ErrCorrupt.
func Open(cfg *config.Config) (*Store, error) {
	return OpenContext(context.Background(), cfg)
}

// OpenContext is Open with a caller-supplied context bounding the lock waits.
func OpenContext(ctx context.Context, cfg *config.Config) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", ErrInvalidInput)
	}
	ctx = ensureContext(ctx)
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.Paths.StorePath
	lock := flock.New(lockPath(dbPath))
	if err := acquire(ctx, lock, cfg.LockTimeout(), true); err != nil {
		return nil, err
	}

	initial, maxBackoff := cfg.RetryBackoff()
	store := &Store{
		path: dbPath,
		lock: lock,
		retry: retryPolicy{
			attempts:       cfg.Store.RetryAttempts,
			initialBackoff: initial,
			maxBackoff:     maxBackoff,
		},
		backupDir:      cfg.Paths.BackupDir,
		backupRetain:   cfg.Backup.Retain,
		backupInterval: cfg.BackupInterval(),
	}

	db, err := sql.Open("sqlite", buildDSN(dbPath, cfg.LockTimeout()))
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	store.db = db

	if err := store.initialize(ctx, cfg.LockTimeout()); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) initialize(ctx context.Context, lockTimeout time.Duration) error {
	if err := s.quickCheck(ctx); err != nil {
		return err
	}

	migrateLock := flock.New(migrateLockPath(s.path))
	if err := acquire(ctx, migrateLock, lockTimeout, false); err != nil {
		return err
	}
	defer func() { _ = migrateLock.Unlock() }()

	if err := runMigrations(s.db); err != nil {
		if isSQLiteCorrupt(err) {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if isSQLiteBusy(err) {
			return fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return err
	}
	return nil
}

func (s *Store) quickCheck(ctx context.Context) error {
	ctx = ensureContext(ctx)
	var result string
	err := s.retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result)
	})
	if err != nil {
		if errors.Is(err, ErrBusy) {
			return err
		}
		if isSQLiteCorrupt(err) || errors.Is(err, ErrCorrupt) {
			return fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, err)
		}
		return fmt.Errorf("integrity check: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(result), "ok") {
		return fmt.Errorf("%w: %s: quick_check reported %q", ErrCorrupt, s.path, result)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("initialise migrate driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.Files, ".")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	defer func() {
		_ = sourceDriver.Close()
	}()

	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection and releases the shared lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	if s.lock != nil {
		if unlockErr := s.lock.Unlock(); unlockErr != nil && err == nil {
			err = unlockErr
		}
		s.lock = nil
	}
	return err
}

func removeSidecars(path string) error {
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

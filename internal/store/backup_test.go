package store_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pipetrack/internal/store"
	"pipetrack/internal/testsupport"
)

func seedStore(t *testing.T, st *store.Store) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range []store.FileRecord{
		stageRecord("raw", "/data/p01/raw.fif", store.StageRawCopy, store.StatusCompleted, map[string]string{"participant": "01"}),
		stageRecord("mf", "/data/p01/raw_tsss.fif", store.StageMaxfilter, store.StatusRunning, nil),
	} {
		if _, err := st.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if _, err := st.Upsert(ctx, stageRecord("mf", "/data/p01/raw_tsss.fif", store.StageMaxfilter, store.StatusCompleted, nil)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := st.AppendOperation(ctx, store.OperationRecord{
		ID:         "op-mf",
		Type:       "maxfilter",
		InputIDs:   []string{"raw"},
		OutputIDs:  []string{"mf"},
		Parameters: map[string]string{"movecomp": "on"},
		StartedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("AppendOperation failed: %v", err)
	}
}

func TestSnapshotRestoresIntoFreshStore(t *testing.T) {
	ctx := context.Background()
	src := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	seedStore(t, src)

	dump, err := src.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(dump.Files) != 2 || len(dump.StageEvents) != 3 || len(dump.Operations) != 1 {
		t.Fatalf("unexpected dump sizes: files=%d events=%d ops=%d", len(dump.Files), len(dump.StageEvents), len(dump.Operations))
	}

	dst := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if err := dst.RestoreSnapshot(ctx, dump); err != nil {
		t.Fatalf("RestoreSnapshot failed: %v", err)
	}
	restored, err := dst.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if diff := cmp.Diff(dump.Files, restored.Files); diff != "" {
		t.Fatalf("files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(dump.StageEvents, restored.StageEvents); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(dump.Operations, restored.Operations); diff != "" {
		t.Fatalf("operations mismatch (-want +got):\n%s", diff)
	}
	if !restored.Header.CreatedAt.Equal(dump.Header.CreatedAt) {
		t.Fatalf("created_at not restored: %v vs %v", restored.Header.CreatedAt, dump.Header.CreatedAt)
	}

	if err := dst.RestoreSnapshot(ctx, dump); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected restore into populated store to fail, got %v", err)
	}
}

func TestAuditTablesAreAppendOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	seedStore(t, st)

	db, err := sql.Open("sqlite", cfg.Paths.StorePath)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	defer db.Close()

	for _, stmt := range []string{
		"UPDATE operations SET process_name = 'rewritten'",
		"DELETE FROM operations",
		"DELETE FROM stage_events",
		"UPDATE operation_files SET file_id = 'raw'",
	} {
		if _, err := db.Exec(stmt); err == nil {
			t.Fatalf("expected %q to be rejected", stmt)
		}
	}
}

func TestBackupRetainsNewest(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBackups(3, 0))
	st := testsupport.MustOpenStore(t, cfg)
	seedStore(t, st)
	ctx := context.Background()

	var names []string
	for i := 0; i < 7; i++ {
		info, err := st.Backup(ctx)
		if err != nil {
			t.Fatalf("Backup %d failed: %v", i, err)
		}
		names = append(names, info.Name)
	}

	backups, err := store.ListBackups(cfg.Paths.BackupDir, cfg.Paths.StorePath)
	if err != nil {
		t.Fatalf("ListBackups failed: %v", err)
	}
	var kept []string
	for _, b := range backups {
		kept = append(kept, b.Name)
		if err := store.VerifyBackup(ctx, b.Path); err != nil {
			t.Fatalf("VerifyBackup(%s) failed: %v", b.Name, err)
		}
	}
	if diff := cmp.Diff(names[len(names)-3:], kept); diff != "" {
		t.Fatalf("retained backups mismatch (-want +got):\n%s", diff)
	}
	for _, name := range kept {
		if !strings.HasPrefix(name, "tracker.backup_") || filepath.Ext(name) != ".db" {
			t.Fatalf("unexpected backup name %q", name)
		}
	}
}

func TestMaybeBackupHonoursInterval(t *testing.T) {
	ctx := context.Background()

	disabled := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	if _, created, err := disabled.MaybeBackup(ctx); err != nil || created {
		t.Fatalf("MaybeBackup with interval 0 = %v, %v", created, err)
	}

	cfg := testsupport.NewConfig(t, testsupport.WithBackups(5, 60))
	st := testsupport.MustOpenStore(t, cfg)
	seedStore(t, st)
	if _, created, err := st.MaybeBackup(ctx); err != nil || !created {
		t.Fatalf("first MaybeBackup = %v, %v", created, err)
	}
	if _, created, err := st.MaybeBackup(ctx); err != nil || created {
		t.Fatalf("second MaybeBackup = %v, %v", created, err)
	}
}

func TestRestoreBackupReplacesStore(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithLockTimeout(200))
	ctx := context.Background()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	seedStore(t, st)
	if _, err := st.Backup(ctx); err != nil {
		t.Fatalf("Backup failed: %v", err)
	}
	if _, err := st.Upsert(ctx, stageRecord("late", "/data/late.fif", store.StageAnalysis, store.StatusCompleted, nil)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := store.RestoreBackup(ctx, cfg, ""); !errors.Is(err, store.ErrBusy) {
		t.Fatalf("expected ErrBusy while the store is open, got %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	used, err := store.RestoreBackup(ctx, cfg, "")
	if err != nil {
		t.Fatalf("RestoreBackup failed: %v", err)
	}
	if filepath.Dir(used) != cfg.Paths.BackupDir {
		t.Fatalf("restored from unexpected path %q", used)
	}

	reopened := testsupport.MustOpenStore(t, cfg)
	if _, err := reopened.Get(ctx, "late"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected post-backup record to be gone, got %v", err)
	}
	rec, err := reopened.Get(ctx, "mf")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry, _ := rec.Stage(store.StageMaxfilter); entry.Status != store.StatusCompleted {
		t.Fatalf("unexpected restored status %q", entry.Status)
	}
}

func TestRestoreBackupWithoutBackups(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := store.RestoreBackup(context.Background(), cfg, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if err := os.MkdirAll(filepath.Dir(cfg.Paths.StorePath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	garbage := []byte(strings.Repeat("this is not a database ", 256))
	if err := os.WriteFile(cfg.Paths.StorePath, garbage, 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	st, err := store.Open(cfg)
	if err == nil {
		_ = st.Close()
		t.Fatal("expected Open to fail on a corrupt file")
	}
	if !errors.Is(err, store.ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

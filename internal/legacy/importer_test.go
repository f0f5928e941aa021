package legacy_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pipetrack/internal/config"
	"pipetrack/internal/legacy"
	"pipetrack/internal/logging"
	"pipetrack/internal/oplog"
	"pipetrack/internal/store"
	"pipetrack/internal/testsupport"
	"pipetrack/internal/tracker"
)

func newImporter(t *testing.T, cfg *config.Config) (*legacy.Importer, *tracker.Tracker) {
	t.Helper()
	st := testsupport.MustOpenStore(t, cfg)
	tr := tracker.New(st, cfg, logging.NewNop())
	return legacy.New(tr, oplog.New(tr, logging.NewNop()), cfg, logging.NewNop()), tr
}

func writeLedgers(t *testing.T, cfg *config.Config) (raw, local, split1, split2, failedRaw, bidsRaw, bidsOut, pendingRaw string) {
	t.Helper()
	data := testsupport.DataDir(cfg)
	raw = filepath.Join(data, "sinuhe", "NatMEG_0003", "240101", "AudOdd_raw.fif")
	local = filepath.Join(data, "local", "NatMEG_0003", "240101", "AudOdd_raw.fif")
	split1 = filepath.Join(data, "local", "NatMEG_0003", "240101", "rest_raw.fif")
	split2 = filepath.Join(data, "local", "NatMEG_0003", "240101", "rest_raw-1.fif")
	failedRaw = filepath.Join(data, "sinuhe", "NatMEG_0004", "240102", "Phalanges_raw.fif")
	testsupport.WriteFile(t, raw, 1024)

	ledger := fmt.Sprintf(`[
  {"Original File": %q, "Copy Date": "2024-01-01", "Copy Time": "10:15:00", "New file(s)": %q, "Transfer status": "Success", "message": "", "timestamp": "2024-01-01T10:15:00"},
  {"Original File": %q, "Copy Date": "2024-01-01", "Copy Time": "10:20:00", "New file(s)": [%q, %q], "Transfer status": "Success"},
  {"Original File": %q, "Copy Date": "2024-01-02", "Copy Time": "09:00:00", "New file(s)": "", "Transfer status": "Failed", "message": "checksum mismatch"},
  {"Original File": "", "New file(s)": "orphan.fif"}
]`, raw, local, filepath.Join(data, "sinuhe", "NatMEG_0003", "240101", "rest_raw.fif"), split1, split2, failedRaw)
	testsupport.WriteText(t, cfg.Legacy.CopyResults, ledger)

	bidsRaw = local
	bidsOut = filepath.Join(data, "BIDS", "sub-0003", "ses-01", "meg", "sub-0003_ses-01_task-AudOdd_meg.fif")
	pendingRaw = split1
	header := "raw_path\traw_name\tbids_path\tbids_name\tparticipant_to\tsession_to\ttask\tacquisition\tdatatype\trun_conversion\n"
	rows := []string{
		strings.Join([]string{filepath.Dir(bidsRaw), filepath.Base(bidsRaw), filepath.Dir(bidsOut), filepath.Base(bidsOut), "0003", "01", "AudOdd", "triux", "meg", "no"}, "\t"),
		strings.Join([]string{filepath.Dir(pendingRaw), filepath.Base(pendingRaw), "", "", "0003", "01", "rest", "triux", "meg", "yes"}, "\t"),
	}
	older := filepath.Join(cfg.Legacy.ConversionLogsDir, "bids_conversion_old.tsv")
	newer := filepath.Join(cfg.Legacy.ConversionLogsDir, "bids_conversion.tsv")
	testsupport.WriteText(t, older, header+strings.Join([]string{filepath.Dir(raw), "stale.fif", "", "", "9", "9", "x", "", "", "no"}, "\t")+"\n")
	testsupport.WriteText(t, newer, header+strings.Join(rows, "\n")+"\n")
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(older, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return raw, local, split1, split2, failedRaw, bidsRaw, bidsOut, pendingRaw
}

func TestImportReplaysLedgers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	imp, tr := newImporter(t, cfg)
	ctx := context.Background()
	raw, local, split1, split2, failedRaw, _, bidsOut, pendingRaw := writeLedgers(t, cfg)

	report, err := imp.Import(ctx)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if report.CopyRows != 4 || report.CopyImported != 3 || report.CopySkipped != 1 {
		t.Fatalf("unexpected copy report: %+v", report)
	}
	if report.ConversionImported != 2 || filepath.Base(report.ConversionLog) != "bids_conversion.tsv" {
		t.Fatalf("unexpected conversion report: %+v", report)
	}

	expectStage := func(path string, stage store.Stage, status store.Status) *store.FileRecord {
		t.Helper()
		rec, err := tr.Get(ctx, path)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", path, err)
		}
		entry, ok := rec.Stage(stage)
		if !ok || entry.Status != status {
			t.Fatalf("%s %s = %+v (present=%v), want %s", filepath.Base(path), stage, entry, ok, status)
		}
		return rec
	}
	rawRec := expectStage(raw, store.StageRawAcquisition, store.StatusCompleted)
	if !rawRec.Exists {
		t.Fatal("raw file exists on disk")
	}
	localRec := expectStage(local, store.StageRawCopy, store.StatusCompleted)
	if localRec.Metadata["copy_date"] != "2024-01-01" {
		t.Fatalf("copy metadata missing: %v", localRec.Metadata)
	}
	expectStage(local, store.StageBidsification, store.StatusCompleted)
	expectStage(split1, store.StageRawCopy, store.StatusCompleted)
	expectStage(split2, store.StageRawCopy, store.StatusCompleted)
	expectStage(failedRaw, store.StageRawCopy, store.StatusFailed)
	expectStage(bidsOut, store.StageBidsification, store.StatusCompleted)
	expectStage(pendingRaw, store.StageBidsification, store.StatusPending)

	ops, err := tr.Store().Operations(ctx, store.OperationFilter{})
	if err != nil {
		t.Fatalf("Operations failed: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(ops))
	}
	producing, err := tr.Store().OperationsProducing(ctx, localRec.ID)
	if err != nil {
		t.Fatalf("OperationsProducing failed: %v", err)
	}
	if len(producing) != 1 || !producing[0].StartedAt.Equal(time.Date(2024, 1, 1, 10, 15, 0, 0, time.Local)) {
		t.Fatalf("unexpected copy operation: %+v", producing)
	}
}

func TestImportIsIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	imp, tr := newImporter(t, cfg)
	ctx := context.Background()
	writeLedgers(t, cfg)

	if _, err := imp.Import(ctx); err != nil {
		t.Fatalf("first Import failed: %v", err)
	}
	before, err := tr.Store().Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	report, err := imp.Import(ctx)
	if err != nil {
		t.Fatalf("second Import failed: %v", err)
	}
	if report.CopyImported != 3 || report.ConversionImported != 2 {
		t.Fatalf("replay should succeed row by row: %+v", report)
	}
	after, err := tr.Store().Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(after.Files) != len(before.Files) || len(after.Operations) != len(before.Operations) || len(after.StageEvents) != len(before.StageEvents) {
		t.Fatalf("re-import changed the store: files %d->%d ops %d->%d events %d->%d",
			len(before.Files), len(after.Files), len(before.Operations), len(after.Operations), len(before.StageEvents), len(after.StageEvents))
	}
}

func TestImportWithoutLedgers(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	imp, _ := newImporter(t, cfg)

	report, err := imp.Import(context.Background())
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if report.CopyRows != 0 || report.ConversionRows != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}

func TestImportRejectsMalformedLedger(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	imp, _ := newImporter(t, cfg)
	testsupport.WriteText(t, cfg.Legacy.CopyResults, `{"Original File": 1}`)

	if _, err := imp.Import(context.Background()); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestOperationIDIsDeterministic(t *testing.T) {
	if legacy.OperationID("a") != legacy.OperationID("a") {
		t.Fatal("operation ids must be stable")
	}
	if legacy.OperationID("a") == legacy.OperationID("b") {
		t.Fatal("distinct keys must not collide")
	}
}

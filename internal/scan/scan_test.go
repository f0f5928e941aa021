package scan_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"pipetrack/internal/logging"
	"pipetrack/internal/scan"
	"pipetrack/internal/store"
	"pipetrack/internal/testsupport"
	"pipetrack/internal/tracker"
)

func TestScanRegistersMatchingFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	tr := tracker.New(st, cfg, logging.NewNop())
	root := testsupport.DataDir(cfg)

	for _, rel := range []string{
		"NatMEG_0001/240101/AudOdd_raw.fif",
		"NatMEG_0001/240101/rest_raw.fif",
		"NatMEG_0002/240102/NatMEG_0002_Phalanges_raw.fif",
		"NatMEG_0002/240102/notes.txt",
		".trash/NatMEG_0009/old_raw.fif",
	} {
		testsupport.WriteFile(t, filepath.Join(root, rel), 32)
	}

	sc := scan.New(tr, cfg, logging.NewNop())
	res, err := sc.Scan(context.Background(), scan.Options{
		Root:     root,
		Stage:    store.StageRawAcquisition,
		Metadata: map[string]string{"site": "triux"},
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if res.Matched != 3 || res.Registered != 3 || len(res.Failed) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	rec, err := tr.Get(context.Background(), filepath.Join(root, "NatMEG_0002/240102/NatMEG_0002_Phalanges_raw.fif"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec.CurrentStage != store.StageRawAcquisition || rec.Hints.Participant != "0002" || rec.Metadata["site"] != "triux" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// A second scan touches the same records.
	res, err = sc.Scan(context.Background(), scan.Options{Root: root, Stage: store.StageRawAcquisition})
	if err != nil || res.Registered != 3 {
		t.Fatalf("rescan: %+v, %v", res, err)
	}
	header, err := st.Header(context.Background())
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if header.TotalFiles != 3 {
		t.Fatalf("expected 3 files after rescan, got %d", header.TotalFiles)
	}
}

func TestScanWithoutStageRegistersOnly(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	tr := tracker.New(st, cfg, logging.NewNop())
	root := testsupport.DataDir(cfg)
	path := filepath.Join(root, "sub-01_ses-01_task-rest_meg.fif")
	testsupport.WriteFile(t, path, 8)

	res, err := scan.New(tr, cfg, logging.NewNop()).Scan(context.Background(), scan.Options{Root: root, Hidden: true})
	if err != nil || res.Registered != 1 {
		t.Fatalf("Scan: %+v, %v", res, err)
	}
	rec, err := tr.Get(context.Background(), path)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if len(rec.StageHistory) != 0 {
		t.Fatalf("expected no stage entries, got %v", rec.StageHistory)
	}
}

func TestScanRejectsBadInput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	sc := scan.New(tracker.New(st, cfg, logging.NewNop()), cfg, logging.NewNop())
	ctx := context.Background()

	if _, err := sc.Scan(ctx, scan.Options{}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty root, got %v", err)
	}
	if _, err := sc.Scan(ctx, scan.Options{Root: t.TempDir(), Pattern: "["}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad pattern, got %v", err)
	}
	if _, err := sc.Scan(ctx, scan.Options{Root: filepath.Join(t.TempDir(), "missing")}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing root, got %v", err)
	}
}

package oplog_test

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pipetrack/internal/logging"
	"pipetrack/internal/oplog"
	"pipetrack/internal/store"
	"pipetrack/internal/testsupport"
	"pipetrack/internal/tracker"
)

type fixture struct {
	tracker *tracker.Tracker
	log     *oplog.Logger
	data    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	tr := tracker.New(st, cfg, logging.NewNop())
	return fixture{tracker: tr, log: oplog.New(tr, logging.NewNop()), data: testsupport.DataDir(cfg)}
}

func TestLogOperationAutoRegistersFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := filepath.Join(f.data, "sinuhe", "NatMEG_0003", "AudOdd_raw.fif")
	output := filepath.Join(f.data, "local", "NatMEG_0003", "AudOdd_raw.fif")
	testsupport.WriteFile(t, input, 2048)

	started := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	id, err := f.log.LogOperation(ctx, oplog.Entry{
		Type:        "copy",
		ProcessName: "copy_to_cerberos",
		Inputs:      []string{input},
		Outputs:     []string{output},
		Parameters:  map[string]string{"overwrite": "false"},
		StartedAt:   started,
		Duration:    1500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("LogOperation failed: %v", err)
	}

	in, err := f.tracker.Get(ctx, input)
	if err != nil {
		t.Fatalf("input not registered: %v", err)
	}
	if len(in.StageHistory) != 0 || !in.Exists {
		t.Fatalf("input should be registered without stages: %+v", in)
	}
	out, err := f.tracker.Get(ctx, output)
	if err != nil {
		t.Fatalf("output not registered: %v", err)
	}
	entry, ok := out.Stage(store.StageRawCopy)
	if !ok || entry.Status != store.StatusCompleted {
		t.Fatalf("output stage = %+v (present=%v)", entry, ok)
	}
	if entry.Metadata[oplog.OperationIDKey] != id || entry.Metadata[oplog.OperationTypeKey] != "copy" {
		t.Fatalf("output stage metadata = %v", entry.Metadata)
	}

	op, err := f.tracker.Store().GetOperation(ctx, id)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if diff := cmp.Diff([]string{in.ID}, op.InputIDs); diff != "" {
		t.Fatalf("inputs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{out.ID}, op.OutputIDs); diff != "" {
		t.Fatalf("outputs mismatch (-want +got):\n%s", diff)
	}
	if op.ProcessName != "copy_to_cerberos" || op.DurationSeconds != 1.5 || !op.StartedAt.Equal(started) {
		t.Fatalf("unexpected operation: %+v", op)
	}
	if op.Outcome != store.OutcomeSuccess {
		t.Fatalf("unexpected outcome: %q", op.Outcome)
	}
}

func TestLogOperationMapsTypesToStages(t *testing.T) {
	tests := []struct {
		opType string
		want   store.Stage
	}{
		{"copy", store.StageRawCopy},
		{"BIDSIFY", store.StageBidsification},
		{"headpos", store.StageMaxfilter},
		{"hpi", store.StageMaxfilter},
		{"preprocess", store.StagePreprocessing},
		{"analysis", store.StageAnalysis},
		{"report", store.StageReporting},
		{"archive", store.StageArchived},
	}
	for _, tc := range tests {
		got, ok := oplog.StageForType(tc.opType)
		if !ok || got != tc.want {
			t.Fatalf("StageForType(%q) = %q, %v; want %q", tc.opType, got, ok, tc.want)
		}
	}
	if _, ok := oplog.StageForType("transcode"); ok {
		t.Fatal("unknown type should not map to a stage")
	}
}

func TestLogOperationRecordsTypesWithoutStage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Format: "json", Level: "info", Console: &buf})
	if err != nil {
		t.Fatalf("logging.New failed: %v", err)
	}
	tr := tracker.New(st, cfg, logger)
	ops := oplog.New(tr, logger)
	ctx := context.Background()
	data := testsupport.DataDir(cfg)
	input := filepath.Join(data, "in.fif")
	output := filepath.Join(data, "out.fif")

	id, err := ops.LogOperation(ctx, oplog.Entry{Type: "hpi_fit", Inputs: []string{input}, Outputs: []string{output}})
	if err != nil {
		t.Fatalf("LogOperation with unmapped type failed: %v", err)
	}
	stored, err := st.GetOperation(ctx, id)
	if err != nil {
		t.Fatalf("operation not stored: %v", err)
	}
	if stored.Type != "hpi_fit" || len(stored.InputIDs) != 1 || len(stored.OutputIDs) != 1 {
		t.Fatalf("unexpected stored operation: %+v", stored)
	}
	rec, err := tr.Get(ctx, output)
	if err != nil {
		t.Fatalf("output not registered: %v", err)
	}
	if len(rec.StageHistory) != 0 {
		t.Fatalf("output should have no stage entry: %+v", rec.StageHistory)
	}
	if !strings.Contains(buf.String(), "operation_stage_unknown") {
		t.Fatalf("expected stage warning in log, got %q", buf.String())
	}

	_, err = ops.LogOperation(ctx, oplog.Entry{Type: "transcode", Stage: store.StagePreprocessing, Outputs: []string{output}})
	if err != nil {
		t.Fatalf("LogOperation with explicit stage failed: %v", err)
	}
	rec, err = tr.Get(ctx, output)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if _, ok := rec.Stage(store.StagePreprocessing); !ok {
		t.Fatal("expected preprocessing entry")
	}

	if _, err := ops.LogOperation(ctx, oplog.Entry{Type: "copy"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty file lists, got %v", err)
	}
}

func TestStageProgramAliases(t *testing.T) {
	want := map[string]store.Stage{
		"convert": store.StageBidsification,
		"filter":  store.StageMaxfilter,
		"analyze": store.StageAnalysis,
		"Copy":    store.StageRawCopy,
	}
	for opType, stage := range want {
		got, ok := oplog.StageForType(opType)
		if !ok || got != stage {
			t.Fatalf("StageForType(%q) = %q, %v; want %q", opType, got, ok, stage)
		}
	}
	if _, ok := oplog.StageForType("hpi_fit"); ok {
		t.Fatal("hpi_fit should imply no stage")
	}
}

func TestLogOperationFailureMarksOutputsFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	output := filepath.Join(f.data, "sub-01_task-rest_proc-tsss_meg.fif")

	_, err := f.log.LogOperation(ctx, oplog.Entry{
		Type:         "maxfilter",
		Outputs:      []string{output},
		Outcome:      store.OutcomeFailure,
		ErrorMessage: "bad channels exceeded limit",
	})
	if err != nil {
		t.Fatalf("LogOperation failed: %v", err)
	}
	rec, err := f.tracker.Get(ctx, output)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if entry, _ := rec.Stage(store.StageMaxfilter); entry.Status != store.StatusFailed {
		t.Fatalf("maxfilter status = %q, want failed", entry.Status)
	}
}

func TestLogOperationReplayIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	input := filepath.Join(f.data, "raw.fif")
	output := filepath.Join(f.data, "raw_tsss.fif")
	entry := oplog.Entry{
		ID:      "legacy-op-1",
		Type:    "maxfilter",
		Inputs:  []string{input},
		Outputs: []string{output},
	}

	for i := 0; i < 3; i++ {
		id, err := f.log.LogOperation(ctx, entry)
		if err != nil {
			t.Fatalf("LogOperation %d failed: %v", i, err)
		}
		if id != "legacy-op-1" {
			t.Fatalf("replay returned id %q", id)
		}
	}

	ops, err := f.tracker.Store().Operations(ctx, store.OperationFilter{})
	if err != nil {
		t.Fatalf("Operations failed: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("expected one operation, got %d", len(ops))
	}
	out, err := f.tracker.Get(ctx, output)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	events, err := f.tracker.Store().StageEvents(ctx, out.ID)
	if err != nil {
		t.Fatalf("StageEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("replays must not add audit events, got %d", len(events))
	}
}

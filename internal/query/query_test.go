package query_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pipetrack/internal/logging"
	"pipetrack/internal/oplog"
	"pipetrack/internal/query"
	"pipetrack/internal/store"
	"pipetrack/internal/testsupport"
	"pipetrack/internal/tracker"
)

type fixture struct {
	tracker *tracker.Tracker
	ops     *oplog.Logger
	query   *query.Service
	data    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	tr := tracker.New(st, cfg, logging.NewNop())
	return fixture{
		tracker: tr,
		ops:     oplog.New(tr, logging.NewNop()),
		query:   query.New(st),
		data:    testsupport.DataDir(cfg),
	}
}

func (f fixture) path(name string) string {
	return filepath.Join(f.data, name)
}

func (f fixture) logOp(t *testing.T, id, opType string, started time.Time, inputs, outputs []string) {
	t.Helper()
	_, err := f.ops.LogOperation(context.Background(), oplog.Entry{
		ID:        id,
		Type:      opType,
		Inputs:    inputs,
		Outputs:   outputs,
		StartedAt: started,
	})
	if err != nil {
		t.Fatalf("LogOperation(%s) failed: %v", id, err)
	}
}

func (f fixture) id(t *testing.T, name string) string {
	t.Helper()
	rec, err := f.tracker.Get(context.Background(), f.path(name))
	if err != nil {
		t.Fatalf("Get(%s) failed: %v", name, err)
	}
	return rec.ID
}

func operationIDs(chain *query.Chain) []string {
	ids := []string{}
	for _, op := range chain.Operations {
		ids = append(ids, op.ID)
	}
	return ids
}

func TestChainOrdersAncestorsByStartTime(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

	f.logOp(t, "op-maxfilter", "maxfilter", base.Add(2*time.Hour), []string{f.path("bids.fif")}, []string{f.path("tsss.fif")})
	f.logOp(t, "op-copy", "copy", base, []string{f.path("raw.fif")}, []string{f.path("local.fif")})
	f.logOp(t, "op-bids", "bidsify", base.Add(time.Hour), []string{f.path("local.fif")}, []string{f.path("bids.fif")})
	f.logOp(t, "op-unrelated", "copy", base, []string{f.path("other.fif")}, []string{f.path("other_copy.fif")})

	chain, err := f.query.Chain(context.Background(), f.id(t, "tsss.fif"))
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	if diff := cmp.Diff([]string{"op-copy", "op-bids", "op-maxfilter"}, operationIDs(chain)); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
	if len(chain.Inconsistencies) != 0 {
		t.Fatalf("unexpected inconsistencies: %+v", chain.Inconsistencies)
	}
}

func TestChainOfUnproducedFileIsEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.tracker.RegisterOrUpdate(ctx, f.path("raw.fif"), store.StageRawAcquisition, store.StatusCompleted, nil)
	if err != nil {
		t.Fatalf("RegisterOrUpdate failed: %v", err)
	}

	chain, err := f.query.Chain(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	if len(chain.Operations) != 0 || len(chain.Inconsistencies) != 0 {
		t.Fatalf("expected empty chain, got %+v", chain)
	}

	if _, err := f.query.Chain(ctx, "no-such-file"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChainReportsCycles(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	f.logOp(t, "op-forward", "copy", base, []string{f.path("a.fif")}, []string{f.path("b.fif")})
	f.logOp(t, "op-back", "maxfilter", base.Add(time.Minute), []string{f.path("b.fif")}, []string{f.path("a.fif")})

	chain, err := f.query.Chain(context.Background(), f.id(t, "b.fif"))
	if err != nil {
		t.Fatalf("Chain failed: %v", err)
	}
	if diff := cmp.Diff([]string{"op-forward", "op-back"}, operationIDs(chain)); diff != "" {
		t.Fatalf("chain mismatch (-want +got):\n%s", diff)
	}
	if len(chain.Inconsistencies) != 1 {
		t.Fatalf("expected one inconsistency, got %+v", chain.Inconsistencies)
	}
	got := chain.Inconsistencies[0]
	if got.Kind != query.InconsistencyCycle || got.OperationID != "op-back" || got.FileID != f.id(t, "b.fif") {
		t.Fatalf("unexpected inconsistency: %+v", got)
	}
}

func TestSearchAndSummaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	register := func(name string, stage store.Stage, status store.Status) {
		t.Helper()
		if _, err := f.tracker.RegisterOrUpdate(ctx, f.path(name), stage, status, nil); err != nil {
			t.Fatalf("RegisterOrUpdate(%s) failed: %v", name, err)
		}
	}
	register("NatMEG_0001_rest_raw.fif", store.StageRawCopy, store.StatusCompleted)
	register("NatMEG_0001_AudOdd_raw.fif", store.StageRawCopy, store.StatusFailed)
	register("NatMEG_0002_rest_raw.fif", store.StageRawCopy, store.StatusCompleted)
	register("NatMEG_0002_rest_raw.fif", store.StageBidsification, store.StatusRunning)
	register("NatMEG_0002_notes.txt", store.StageRawCopy, store.StatusCompleted)

	names := func(records []*store.FileRecord) []string {
		out := []string{}
		for _, r := range records {
			out = append(out, r.Filename)
		}
		return out
	}

	got, err := f.query.Search(ctx, store.Filter{Stage: "raw_copy", Status: "failed"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"NatMEG_0001_AudOdd_raw.fif"}, names(got)); diff != "" {
		t.Fatalf("search mismatch (-want +got):\n%s", diff)
	}
	got, err = f.query.Search(ctx, store.Filter{Extension: "txt"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"NatMEG_0002_notes.txt"}, names(got)); diff != "" {
		t.Fatalf("extension search mismatch (-want +got):\n%s", diff)
	}
	got, err = f.query.Search(ctx, store.Filter{Participant: "0002", Task: "rest"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if diff := cmp.Diff([]string{"NatMEG_0002_rest_raw.fif"}, names(got)); diff != "" {
		t.Fatalf("hint search mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.query.Search(ctx, store.Filter{Stage: "encoding"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}

	summary, err := f.query.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if summary.Header.TotalFiles != 4 || summary.Stats.TotalFiles != 4 {
		t.Fatalf("unexpected totals: %+v", summary.Header)
	}
	wantRawCopy := map[store.Status]int{store.StatusCompleted: 3, store.StatusFailed: 1}
	if diff := cmp.Diff(wantRawCopy, summary.Stats.ByStageStatus[store.StageRawCopy]); diff != "" {
		t.Fatalf("raw_copy counts mismatch (-want +got):\n%s", diff)
	}
	if summary.Stats.ByParticipant["0001"] != 2 || summary.Stats.ByParticipant["0002"] != 2 {
		t.Fatalf("participant counts: %v", summary.Stats.ByParticipant)
	}
	if summary.Stats.RecentStageEvents != 5 {
		t.Fatalf("recent stage events = %d", summary.Stats.RecentStageEvents)
	}

	participant, err := f.query.ParticipantSummary(ctx, "0002")
	if err != nil {
		t.Fatalf("ParticipantSummary failed: %v", err)
	}
	if participant.TotalFiles != 2 {
		t.Fatalf("participant total = %d", participant.TotalFiles)
	}
	wantDist := map[store.Stage]int{store.StageBidsification: 1, store.StageRawCopy: 1}
	if diff := cmp.Diff(wantDist, participant.StageDistribution); diff != "" {
		t.Fatalf("distribution mismatch (-want +got):\n%s", diff)
	}
	failed, err := f.query.ParticipantSummary(ctx, "0001")
	if err != nil {
		t.Fatalf("ParticipantSummary failed: %v", err)
	}
	if failed.Failed[store.StageRawCopy] != 1 {
		t.Fatalf("failed counts: %v", failed.Failed)
	}
}

func TestHistoryReturnsAuditTrail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	path := f.path("raw.fif")
	for _, status := range []store.Status{store.StatusRunning, store.StatusFailed, store.StatusRunning, store.StatusCompleted} {
		if _, err := f.tracker.RegisterOrUpdate(ctx, path, store.StageMaxfilter, status, nil); err != nil {
			t.Fatalf("RegisterOrUpdate failed: %v", err)
		}
	}
	id := f.id(t, "raw.fif")
	events, err := f.query.History(ctx, id)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	var statuses []store.Status
	for _, ev := range events {
		statuses = append(statuses, ev.Status)
	}
	want := []store.Status{store.StatusRunning, store.StatusFailed, store.StatusRunning, store.StatusCompleted}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Fatalf("history mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.query.History(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOperationsListsInputsAndOutputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	f.logOp(t, "op-bidsify", "bidsify", base, []string{f.path("raw.fif")}, []string{f.path("bids.fif")})
	f.logOp(t, "op-maxfilter", "maxfilter", base.Add(time.Hour), []string{f.path("bids.fif")}, []string{f.path("tsss.fif")})

	ops, err := f.query.Operations(ctx, f.id(t, "bids.fif"))
	if err != nil {
		t.Fatalf("Operations failed: %v", err)
	}
	var ids []string
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	if diff := cmp.Diff([]string{"op-bidsify", "op-maxfilter"}, ids); diff != "" {
		t.Fatalf("operations mismatch (-want +got):\n%s", diff)
	}
	if _, err := f.query.Operations(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNewTeeHandlerCollapses(t *testing.T) {
	if h := newTeeHandler(nil, nil); h != slog.DiscardHandler {
		t.Errorf("all-nil handlers: got %T, want discard", h)
	}

	var buf bytes.Buffer
	inner := slog.NewJSONHandler(&buf, nil)
	if h := newTeeHandler(nil, inner); h != inner {
		t.Errorf("single handler should be returned as-is, got %T", h)
	}
}

func TestTeeHandlerHonoursEachLevel(t *testing.T) {
	var quiet, chatty bytes.Buffer
	h := newTeeHandler(
		slog.NewJSONHandler(&quiet, &slog.HandlerOptions{Level: slog.LevelWarn}),
		slog.NewJSONHandler(&chatty, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)
	logger := slog.New(h).With("stage", "maxfilter")

	logger.Debug("probe")
	logger.Warn("gap")

	if strings.Contains(quiet.String(), "probe") {
		t.Errorf("warn handler got debug record: %q", quiet.String())
	}
	if !strings.Contains(chatty.String(), "probe") {
		t.Errorf("debug handler missing debug record: %q", chatty.String())
	}
	for _, out := range []string{quiet.String(), chatty.String()} {
		if !strings.Contains(out, `"msg":"gap"`) || !strings.Contains(out, `"stage":"maxfilter"`) {
			t.Errorf("missing shared record in %q", out)
		}
	}
	if !h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("tee should be enabled when any branch is")
	}
}

func TestRunIDHandlerTagsRecords(t *testing.T) {
	var buf bytes.Buffer
	h := newRunIDHandler(slog.NewJSONHandler(&buf, nil), "run-42")
	slog.New(h).WithGroup("g").Info("tagged")
	if !strings.Contains(buf.String(), "run-42") {
		t.Fatalf("expected run id in %q", buf.String())
	}
}

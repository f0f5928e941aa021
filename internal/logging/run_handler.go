package logging

import (
	"context"
	"log/slog"
)

// runIDHandler stamps every record with the run_id of this invocation.
type runIDHandler struct {
	next  slog.Handler
	runID slog.Attr
}

func newRunIDHandler(next slog.Handler, runID string) slog.Handler {
	if next == nil {
		return slog.DiscardHandler
	}
	return &runIDHandler{next: next, runID: slog.String(FieldRunID, runID)}
}

func (h *runIDHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *runIDHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(h.runID)
	return h.next.Handle(ctx, record)
}

func (h *runIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &runIDHandler{next: h.next.WithAttrs(attrs), runID: h.runID}
}

func (h *runIDHandler) WithGroup(name string) slog.Handler {
	return &runIDHandler{next: h.next.WithGroup(name), runID: h.runID}
}

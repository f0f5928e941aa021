package logging

import (
	"context"
	"log/slog"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldFileID is the standardized structured logging key for tracked file identifiers.
	FieldFileID = "file_id"
	// FieldOperationID is the standardized structured logging key for operation identifiers.
	FieldOperationID = "operation_id"
	// FieldStage is the standardized structured logging key for pipeline stage names.
	FieldStage = "stage"
	// FieldPath is the standardized structured logging key for filesystem paths.
	FieldPath = "path"
	// FieldRunID identifies one CLI invocation in the shared log file.
	FieldRunID = "run_id"
	// FieldEventType classifies a log line for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests the next step after a warning or error.
	FieldErrorHint = "error_hint"
	// FieldImpact is the standardized key for user-facing consequence of a warning.
	FieldImpact = "impact"
)

type ctxKey int

const (
	fileIDKey ctxKey = iota
	operationIDKey
	stageKey
)

// WithFileID stores a tracked file ID on the context.
func WithFileID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, fileIDKey, id)
}

// WithOperationID stores an operation ID on the context.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// WithStage stores a stage name on the context.
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, stageKey, stage)
}

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 3)
	if id, ok := ctx.Value(fileIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldFileID, id))
	}
	if id, ok := ctx.Value(operationIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldOperationID, id))
	}
	if stage, ok := ctx.Value(stageKey).(string); ok && stage != "" {
		fields = append(fields, slog.String(FieldStage, stage))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return logger.With(args...)
}

package logging

import (
	"context"
	"log/slog"
)

// Attr aliases slog.Attr so callers only import this package.
type Attr = slog.Attr

func String(key, value string) Attr { return slog.String(key, value) }

func Int(key string, value int) Attr { return slog.Int(key, value) }

func Bool(key string, value bool) Attr { return slog.Bool(key, value) }

// Error records err under the "error" key. A nil error yields an empty
// attribute, which handlers drop.
func Error(err error) Attr {
	if err == nil {
		return Attr{}
	}
	return slog.String("error", err.Error())
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// NewComponentLogger tags logger with a component name. A nil logger yields a
// no-op logger.
func NewComponentLogger(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger.With(slog.String(FieldComponent, component))
}

type requiredField struct {
	key      string
	fallback string
}

// WarnWithContext logs a warning that always carries event_type, error_hint
// and impact, so every WARN line states cause, consequence and next step.
func WarnWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logRequired(logger, slog.LevelWarn, msg, attrs,
		requiredField{FieldEventType, eventType},
		requiredField{FieldErrorHint, "see " + LogFileName + " for details"},
		requiredField{FieldImpact, "tracking continued with a gap"},
	)
}

// ErrorWithContext logs an error that always carries event_type and error_hint.
func ErrorWithContext(logger *slog.Logger, msg, eventType string, attrs ...Attr) {
	logRequired(logger, slog.LevelError, msg, attrs,
		requiredField{FieldEventType, eventType},
		requiredField{FieldErrorHint, "see " + LogFileName + " for details"},
	)
}

func logRequired(logger *slog.Logger, level slog.Level, msg string, attrs []Attr, required ...requiredField) {
	if logger == nil {
		return
	}
	present := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		present[a.Key] = true
	}
	for _, f := range required {
		if !present[f.key] {
			attrs = append(attrs, slog.String(f.key, f.fallback))
		}
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}

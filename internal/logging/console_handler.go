package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05.000"

// consoleHandler renders a human-oriented two-part line: a header with time,
// level, component and subject, then one indented line per remaining field.
//
//	2026-01-02 10:11:12.345 INFO [tracker] file 1a2b3c4d (maxfilter) - stage recorded
//	    - status: completed
type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     *slog.LevelVar
	addSource bool
	prefix    string
	fields    []field
}

type field struct {
	key   string
	value slog.Value
}

// subjectKeys are lifted into the header instead of rendered as fields.
var subjectKeys = map[string]bool{
	FieldComponent:   true,
	FieldFileID:      true,
	FieldOperationID: true,
	FieldStage:       true,
}

// quietKeys are dropped from INFO and DEBUG console lines; the JSON file keeps them.
var quietKeys = map[string]bool{
	FieldRunID:     true,
	FieldEventType: true,
}

func newConsoleHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: lvl, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	fields := append([]field(nil), h.fields...)
	record.Attrs(func(attr slog.Attr) bool {
		fields = appendField(fields, h.prefix, attr)
		return true
	})
	fields = latestPerKey(fields)

	subject := map[string]string{}
	body := fields[:0]
	for _, f := range fields {
		switch {
		case subjectKeys[f.key]:
			subject[f.key] = plainValue(f.value)
		case quietKeys[f.key] && record.Level < slog.LevelWarn:
		default:
			body = append(body, f)
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := strings.TrimSpace(record.Message)
	if msg == "" {
		msg = "(no message)"
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s", ts.Local().Format(consoleTimeLayout), levelLabel(record.Level))
	if c := subject[FieldComponent]; c != "" {
		fmt.Fprintf(&buf, " [%s]", c)
	}
	if s := composeSubject(subject[FieldFileID], subject[FieldOperationID], subject[FieldStage]); s != "" {
		buf.WriteString(" " + s)
	}
	buf.WriteString(" - " + msg)
	if h.addSource {
		if src := record.Source(); src != nil {
			fmt.Fprintf(&buf, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	buf.WriteByte('\n')
	for _, f := range body {
		fmt.Fprintf(&buf, "    - %s: %s\n", f.key, quotedValue(f.value))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.fields = append([]field(nil), h.fields...)
	for _, attr := range attrs {
		next.fields = appendField(next.fields, h.prefix, attr)
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendField flattens groups into dotted keys.
func appendField(dst []field, prefix string, attr slog.Attr) []field {
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner = prefix + attr.Key + "."
		}
		for _, a := range value.Group() {
			dst = appendField(dst, inner, a)
		}
		return dst
	}
	return append(dst, field{key: prefix + attr.Key, value: value})
}

// latestPerKey keeps the first position of each key with its last value.
func latestPerKey(fields []field) []field {
	index := make(map[string]int, len(fields))
	out := make([]field, 0, len(fields))
	for _, f := range fields {
		if f.key == "" {
			continue
		}
		if i, ok := index[f.key]; ok {
			out[i].value = f.value
			continue
		}
		index[f.key] = len(out)
		out = append(out, f)
	}
	return out
}

// composeSubject renders "file 1a2b3c4d (maxfilter)" or "op 9f8e7d6c" headers.
func composeSubject(fileID, operationID, stage string) string {
	var parts []string
	if fileID != "" {
		parts = append(parts, "file "+shortID(fileID))
	}
	if operationID != "" {
		parts = append(parts, "op "+shortID(operationID))
	}
	subject := strings.Join(parts, " · ")
	switch {
	case stage == "":
		return subject
	case subject == "":
		return stage
	}
	return subject + " (" + stage + ")"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// plainValue renders v without quoting.
func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Local().Format(consoleTimeLayout)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return strings.TrimSpace(v.String())
}

// quotedValue quotes values that would be ambiguous on a field line.
func quotedValue(v slog.Value) string {
	s := plainValue(v)
	if s == "" || strings.ContainsFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) {
		return strconv.Quote(s)
	}
	return s
}

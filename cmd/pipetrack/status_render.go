package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusOK statusKind = iota
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct{ label, color string }{
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

// renderStatusLine formats "  label:   [OK] detail", optionally wrapped in ANSI colour.
func renderStatusLine(label string, kind statusKind, detail string, colorize bool) string {
	style, ok := statusStyles[kind]
	if !ok {
		style = statusStyles[statusError]
	}
	line := fmt.Sprintf("  %-20s [%s]", label+":", style.label)
	if detail != "" {
		line += " " + detail
	}
	if !colorize {
		return line
	}
	return style.color + line + "\x1b[0m"
}

// shouldColorize reports whether w is an interactive terminal.
func shouldColorize(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

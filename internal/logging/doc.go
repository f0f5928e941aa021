// Package logging assembles structured slog loggers and formatting helpers used
// across pipetrack.
//
// It owns the console and JSON handlers, fans records out to the terminal and
// the persistent log file, and exposes context-aware helpers so tracker and
// store code can tag log lines with file IDs, operation IDs and stages. The
// package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging

// Package export writes the record store out as flat CSV tables for
// spreadsheets and as a structured JSON or YAML dump that can be restored
// into an empty store.
package export

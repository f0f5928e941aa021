// Package query answers read-only questions about tracked files: filtered
// search, summaries for dashboards and reports, per-participant progress,
// lineage chains and stage histories.
package query

// Package tracker records pipeline stage transitions for individual files.
//
// Stage programs call RegisterOrUpdate whenever they touch a file. The call
// resolves the file identity, refreshes filesystem facts (size, mtime,
// existence and optionally a SHA-256 checksum), derives identity hints from
// the filename and merges one stage entry into the file's record. Stage order
// is advisory: any stage and status may be written at any time.
//
// Stage programs that must never abort on bookkeeping failures use
// RecordBestEffort, which logs the failure and carries on.
package tracker

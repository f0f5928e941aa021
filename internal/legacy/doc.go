// Package legacy replays the ledgers written by the earlier pipeline scripts
// into the tracker: the copy ledger (log/copy_results.json) and the newest
// BIDS conversion table (BIDS/conversion_logs/*.tsv).
//
// Every ledger row becomes a tracker registration and, where it describes a
// transformation, an operation with a deterministic id derived from the row.
// Importing the same ledgers again therefore changes nothing.
package legacy

// Package recovery brings a damaged record store back into service.
//
// Recover opens the configured store; when the integrity check reports
// corruption it swaps in the newest backup that verifies, reopens, and replays
// the legacy ledgers so history written after the backup is restored where the
// ledgers carry it. A store that opens cleanly only gets the ledger replay.
package recovery

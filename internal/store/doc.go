// Package store persists tracked file records, stage transitions and the
// append-only operation log in a shared SQLite database.
//
// Independent stage programs open the same database file concurrently. Every
// Upsert runs inside a BEGIN IMMEDIATE transaction so writers to one record are
// serialized across goroutines and processes, and the commit is durable
// (WAL, synchronous=FULL) before the call returns. Lock waits are bounded by
// busy_timeout plus a short exponential retry; exhaustion surfaces as ErrBusy.
//
// The schema is versioned through embedded golang-migrate migrations. Backups
// are point-in-time VACUUM INTO snapshots kept under a retain-last-N policy,
// and RestoreBackup swaps one back in under an exclusive file lock.
package store

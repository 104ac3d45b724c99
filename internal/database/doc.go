// Package database provides SQLite-backed persistence for file records,
// tags and their relations, import batches, collections, and the
// deleted-hash ledger.
//
// The database runs in WAL mode with a busy timeout so import workers and
// command handlers can write concurrently. Multi-statement operations go
// through BeginBatch/EndBatch transactions; every query records duration and
// outcome metrics.
package database

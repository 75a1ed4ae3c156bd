// Package store persists result records.
//
// Two backends implement Backend: a SQLite database (the default) and an
// embedded BadgerDB directory. Both are append-only and idempotent on
// record ID, so a sink may retry a batch that partly landed.
//
// # Ordering
//
// Reads return records ordered by run ID, then seq, then record ID.
// Run IDs are UUIDv7, so this is run start order followed by the
// coordinator's logical completion order.
//
// # SQLite configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - one open connection
//
// Record columns holding structured data (params, metrics, observables)
// are canonical JSON produced by internal/ir.
package store

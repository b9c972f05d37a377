// Package storage persists work records.
//
// Drivers:
//   - memory: process-local, for tests and ephemeral runs
//   - file:   JSON Lines journal (fsync per write) compacted into a snapshot
//   - sqlite: SQLite database file (modernc.org/sqlite, WAL)
//
// Every driver returns from Put only after the record is durable for that
// driver. WithRetry adds bounded retries on top of any driver.
package storage

// Package storage persists the task list.
//
// Drivers:
//   - memory: process-local, for tests and throwaway runs
//   - file:   single JSON snapshot, rewritten atomically on every change
//   - sqlite: SQLite database (modernc.org/sqlite, no cgo)
package storage

// Package storage persists scope bindings and the operator audit log.
//
// Drivers:
//   - "file":   JSON document rewritten atomically + JSON Lines audit log
//   - "sqlite": single SQLite database (modernc.org/sqlite, no cgo)
//   - "memory": process-local, for tests and dry runs
package storage

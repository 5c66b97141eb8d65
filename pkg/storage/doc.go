// Package storage provides the scoped key/value persistence the wallet
// session keeps its state in (accounts, active chain, call-batch metadata).
//
// The Store interface is deliberately narrow: string items plus the
// StoreObject/LoadObject JSON helpers. Two implementations are provided:
//
//   - GormStore: a single-table store on a GORM database handle. ConnectToDB
//     opens SQLite (in-memory by default, file-backed when a name is given)
//     or PostgreSQL from a DatabaseConfig or a connection string.
//   - MemoryStore: a map-backed fallback used when no database is configured
//     and throughout the test suites.
//
// NewScoped namespaces all keys with a fixed prefix so several wallet
// sessions can share one backing store without observing each other.
//
// The store offers no transactions across keys. Read-modify-write cycles,
// such as updating one entry of the call-batch map, are only as atomic as
// the caller makes them.
package storage

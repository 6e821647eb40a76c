// Package repositories implements SQLite persistence for aria.
//
//   - [SessionRepository] : backend sessions keyed by the signed session cookie
//   - [StorageRepository] : the durable key/value store shared by the controller and the
//     authorization window, implementing authflow.Store. Every write is appended to a
//     change log; subscribers tail the log by version, so two processes opening the same
//     database file see each other's writes.
//
// [NextSequence] atomically increments per-table counters kept in dedicated sequence tables.
package repositories

// Package sqlite implements the task and assignment stores on an embedded
// SQLite database using the pure-Go modernc.org/sqlite driver. It backs
// single-node deployments and the engine's tests.
//
// The database is opened with a single connection, so every write is
// serialized. Timestamps are stored as fixed-width UTC text so that
// string comparison in SQL matches chronological order.
package sqlite

// Package postgres provides PostgreSQL implementations of the task and
// assignment stores defined in internal/store. Assignment writes rely on
// ON CONFLICT inserts and version-checked updates so that concurrent
// requests never duplicate or lose progress; the expiration sweep runs as a
// single statement. The schema lives in the embedded migrations directory.
package postgres

// Package store declares the persistence contracts of the progress engine:
// read access to task definitions and the assignment store whose writes are
// guarded by a unique cycle key and a version compare-and-swap. Adapters
// live under internal/platform.
package store

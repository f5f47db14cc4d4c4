// Package storage persists the notification cache: the set of offense IDs
// that were already delivered.
//
// Drivers:
//   - "file": a JSON array of IDs, rewritten atomically on every save
//   - "sqlite": a single-table SQLite database (pure Go driver)
//
// A run lock next to the cache keeps overlapping invocations from racing
// on the read-modify-write cycle.
package storage

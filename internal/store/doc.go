// Package store provides SQLite-backed durable storage for pacer emission logs.
//
// The store is an append-only log with:
//   - Runs: one row per replay (source, speed, start time, terminal status, counts)
//   - Emissions: one row per emitted record (seq, line, record ID, event time, wait, payload)
//
// # Critical Patterns
//
// Logical ordering:
//   - Emissions are ordered by seq (the emitter's logical clock), NEVER by wall time
//   - Two replays of the same input produce identical emission rows apart from run_id
//
// Idempotent writes:
//   - PRIMARY KEY(run_id, seq) with ON CONFLICT DO NOTHING
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes (pacer trace while pacer run)
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Event times are stored as Unix milliseconds, the resolution pacing works at.
package store

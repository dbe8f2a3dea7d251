// Package store provides SQLite-backed durable storage for terminology
// components: concepts, their descriptions, assemblage schemas and the
// refexes (semantic records) that conform to them.
//
// # Components and Versions
//
//   - Every component has a NID (dense integer handle) and a UUID
//   - Versions are append-only; an edit is a new version row
//   - Staged edits are versions with committed = 0
//   - Commit and Cancel act on everything enclosed by a concept
//
// # Read Ordering
//
//   - Versions: ORDER BY time ASC, id ASC
//   - Components: ORDER BY nid ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// The store holds a single connection. Row cursors must be drained and
// closed before another query is issued.
package store

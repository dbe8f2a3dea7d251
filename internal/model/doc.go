// Package model defines the terminology data model shared by the store, the
// index and the grid engine.
//
// This package contains type definitions and the typed-value codec only.
// All other internal packages import model; model imports nothing internal.
//
// Key design constraints:
//   - Chronicles are append-only: versions are ordered oldest first and never
//     rewritten in place
//   - Data is a sealed union; every switch over it must handle all variants
//   - NIDs are process-local; UUIDs are the persistent identity
//   - Stamp times are unix milliseconds
package model

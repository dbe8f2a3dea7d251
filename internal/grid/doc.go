// Package grid implements the dynamic refex grid engine: it discovers the
// typed columns used by a component's annotations (or by one assemblage),
// consolidates refex version histories into a row tree, filters and sorts
// rows by typed column values, reconciles assemblage membership with a
// possibly stale usage index, and tracks the uncommitted edits visible in
// a view so they can be committed or cancelled together.
//
// # Concurrency
//
// A View owns a single coordination goroutine (the actor). Every state
// transition, filter mutation and Listener callback happens on it. Store
// reads and writes, index queries and the fallback scan run on worker
// goroutines, and their results are posted back through the actor's
// mailbox. Published row trees are immutable; each refresh produces a new
// tree.
//
// # Errors
//
// Failures are reported as *Error values carrying a Code and the NID,
// assemblage and column needed to reproduce them. None are fatal to the
// view: a schema error disables the data columns of one assemblage, a
// decode error renders a single cell as "-ERROR-", and a scan failure
// leaves the partial results in place.
package grid

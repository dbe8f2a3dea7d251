// Package harness runs grid scenarios end to end.
//
// A scenario is a YAML file with three parts: a fixture that seeds a fresh
// in-memory store and index, a view that opens a grid on one component or
// one assemblage, and a list of steps applied to the live view. After the
// view opens and after every step the harness records the published
// snapshot, rendered as a tab-separated table, together with the errors,
// commits and cancels seen so far. Expect clauses check those states, and
// RunWithGolden compares the whole rendering against a golden file.
//
//	name: filter_members
//	description: Filtering a member assemblage by column value
//	concepts: [Heart, Lung]
//	assemblages:
//	  - name: Protocols
//	    style: member
//	    indexed: true
//	    columns:
//	      - {concept: Instructions, type: string}
//	refexes:
//	  - {id: p1, assemblage: Protocols, referenced: Heart, versions: [{values: [A]}]}
//	  - {id: p2, assemblage: Protocols, referenced: Lung, versions: [{values: [B]}]}
//	view:
//	  assemblage: Protocols
//	steps:
//	  - filter: {column: Instructions, values: [A]}
//	expect:
//	  - rows: 1
//
// Stamps and identities come from testutil's deterministic clock and UUID
// sequence, so every run of a scenario renders the same bytes.
//
// Fixtures are also used on their own: Seeder writes one into any store,
// which is how the CLI's load command populates a database file.
package harness

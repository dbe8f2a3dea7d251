package harness

// Result is the outcome of a scenario run.
type Result struct {
	Scenario string

	// States holds the opened view followed by one state per step.
	States []*State

	// Failures lists the expect clauses that did not hold. Empty when the
	// scenario passed.
	Failures []string
}

// Pass reports whether every expect clause held.
func (r *Result) Pass() bool { return len(r.Failures) == 0 }

// Final returns the state after the last step.
func (r *Result) Final() *State { return r.States[len(r.States)-1] }

// State is what the view showed at one point of a scenario.
type State struct {
	// Index is 0 for the opened view and i after step i.
	Index int
	Step  string

	// Pass is the snapshot's materialization pass; 0 before any snapshot.
	Pass int64

	Columns []string
	Rows    int
	Current int

	// Cells maps each column name to its rendered values in row order.
	Cells map[string][]string

	// Table is the tab-separated rendering of the snapshot.
	Table string

	// Errors, Commits and Cancels are cumulative.
	Errors  []string
	Commits int
	Cancels int
}

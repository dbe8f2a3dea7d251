package harness

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Evaluate checks expect clauses against a result and returns one message
// per mismatch.
func Evaluate(result *Result, clauses []ExpectClause) []string {
	var failures []string
	for i, c := range clauses {
		at := len(result.States) - 1
		if c.At != nil {
			at = *c.At
		}
		if at < 0 || at >= len(result.States) {
			failures = append(failures, fmt.Sprintf("expect[%d]: no state %d", i, at))
			continue
		}
		for _, msg := range checkState(result.States[at], c) {
			failures = append(failures, fmt.Sprintf("expect[%d] at %d (%s): %s", i, at, result.States[at].Step, msg))
		}
	}
	return failures
}

func checkState(st *State, c ExpectClause) []string {
	var out []string
	mismatch := func(what string, want, got any) {
		out = append(out, fmt.Sprintf("%s: expected %v, got %v", what, want, got))
	}

	if c.Rows != nil && *c.Rows != st.Rows {
		mismatch("rows", *c.Rows, st.Rows)
	}
	if c.Current != nil && *c.Current != st.Current {
		mismatch("current rows", *c.Current, st.Current)
	}
	if c.Columns != nil && !slices.Equal(c.Columns, st.Columns) {
		mismatch("columns", strings.Join(c.Columns, ","), strings.Join(st.Columns, ","))
	}
	for _, name := range slices.Sorted(maps.Keys(c.Cells)) {
		got, ok := st.Cells[name]
		if !ok && len(c.Cells[name]) > 0 {
			out = append(out, fmt.Sprintf("cells: no column %q", name))
			continue
		}
		if !slices.Equal(c.Cells[name], got) {
			mismatch("cells of "+name, quoted(c.Cells[name]), quoted(got))
		}
	}
	if c.Errors != nil && !slices.Equal(c.Errors, st.Errors) {
		mismatch("errors", c.Errors, st.Errors)
	}
	if c.Commits != nil && *c.Commits != st.Commits {
		mismatch("commits", *c.Commits, st.Commits)
	}
	if c.Cancels != nil && *c.Cancels != st.Cancels {
		mismatch("cancels", *c.Cancels, st.Cancels)
	}
	return out
}


func quoted(values []string) string {
	q := make([]string, len(values))
	for i, v := range values {
		q[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(q, " ") + "]"
}

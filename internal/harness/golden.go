package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Render formats every recorded state for golden comparison: a heading per
// state, a summary line, the cumulative error codes when there are any,
// and the table.
func (r *Result) Render() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", r.Scenario)
	for _, st := range r.States {
		fmt.Fprintf(&b, "\n## %d %s\n", st.Index, st.Step)
		fmt.Fprintf(&b, "rows=%d current=%d commits=%d cancels=%d\n", st.Rows, st.Current, st.Commits, st.Cancels)
		if len(st.Errors) > 0 {
			fmt.Fprintf(&b, "errors=%s\n", strings.Join(st.Errors, ","))
		}
		b.WriteString(st.Table)
	}
	return []byte(b.String())
}

// RunWithGolden runs a scenario, fails the test on any expect clause
// mismatch, and compares the rendering with
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	for _, f := range result.Failures {
		t.Error(f)
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, result.Render())
}

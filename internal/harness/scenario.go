package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Fixture describes the store contents a scenario starts from.
type Fixture struct {
	// Concepts are created in order, each with its name as preferred
	// description.
	Concepts []string `yaml:"concepts,omitempty"`

	// SchemaFile is a CUE file of assemblage definitions, relative to the
	// YAML file that names it. Its assemblages are installed before the
	// inline ones.
	SchemaFile string `yaml:"schema_file,omitempty"`

	Assemblages []AssemblageSpec `yaml:"assemblages,omitempty"`
	Refexes     []RefexSpec      `yaml:"refexes,omitempty"`

	// Stamp names the concepts used as author, module and path of every
	// refex version. Empty names leave the field unset.
	Stamp StampSpec `yaml:"stamp,omitempty"`
}

// AssemblageSpec is an inline assemblage definition.
type AssemblageSpec struct {
	Name        string       `yaml:"name"`
	UUID        string       `yaml:"uuid,omitempty"`
	Description string       `yaml:"description,omitempty"`
	Style       string       `yaml:"style,omitempty"`
	Indexed     bool         `yaml:"indexed,omitempty"`
	Columns     []ColumnSpec `yaml:"columns"`
}

// ColumnSpec is one column of an inline assemblage.
type ColumnSpec struct {
	Concept     string `yaml:"concept"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Default     string `yaml:"default,omitempty"`
}

// RefexSpec is one refex and its versions.
type RefexSpec struct {
	// ID labels the refex so later refexes and steps can reference it.
	ID         string        `yaml:"id"`
	Assemblage string        `yaml:"assemblage"`
	Referenced string        `yaml:"referenced"`
	Versions   []VersionSpec `yaml:"versions"`
}

// VersionSpec is one refex version. Values are given in column order; a
// null value leaves the column unset. NID and UUID columns accept concept
// names and refex ids as well as literal values.
type VersionSpec struct {
	Status      string `yaml:"status,omitempty"`
	Time        int64  `yaml:"time,omitempty"`
	Uncommitted bool   `yaml:"uncommitted,omitempty"`
	Values      []any  `yaml:"values,omitempty"`
}

// StampSpec names the stamp concepts of refex versions.
type StampSpec struct {
	Author string `yaml:"author,omitempty"`
	Module string `yaml:"module,omitempty"`
	Path   string `yaml:"path,omitempty"`
}

// Scenario is a fixture, a view on it, and the steps applied to that view.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	Fixture `yaml:",inline"`

	View   ViewSpec       `yaml:"view"`
	Steps  []Step         `yaml:"steps,omitempty"`
	Expect []ExpectClause `yaml:"expect,omitempty"`
}

// ViewSpec opens the grid. Exactly one of Component and Assemblage is set.
type ViewSpec struct {
	Component  string `yaml:"component,omitempty"`
	Assemblage string `yaml:"assemblage,omitempty"`

	ShowFullHistory bool `yaml:"history,omitempty"`
	ActiveOnly      bool `yaml:"active_only,omitempty"`

	// Scan answers the prompt for scanning an unindexed assemblage:
	// "approve" or "decline". Declining is the default.
	Scan string `yaml:"scan,omitempty"`

	// StopScanAfter stops the first fallback scan once that many
	// components have been loaded. Zero never stops it.
	StopScanAfter int `yaml:"stop_scan_after,omitempty"`
}

// Scan prompt answers.
const (
	ScanApprove = "approve"
	ScanDecline = "decline"
)

// Step is one action on the live view. Exactly one field is set.
type Step struct {
	Filter       *FilterStep `yaml:"filter,omitempty"`
	ClearFilters bool        `yaml:"clear_filters,omitempty"`
	Sort         *SortStep   `yaml:"sort,omitempty"`
	History      *bool       `yaml:"history,omitempty"`
	ActiveOnly   *bool       `yaml:"active_only,omitempty"`
	Refresh      bool        `yaml:"refresh,omitempty"`
	Stage        *RefexSpec  `yaml:"stage,omitempty"`
	Commit       bool        `yaml:"commit,omitempty"`
	Cancel       bool        `yaml:"cancel,omitempty"`
}

// FilterStep replaces the accepted values of the named column.
type FilterStep struct {
	Column string   `yaml:"column"`
	Values []string `yaml:"values"`
}

// SortStep orders the rendered rows by the named column.
type SortStep struct {
	Column     string `yaml:"column"`
	Descending bool   `yaml:"descending,omitempty"`
}

// Kind names the step's action, or returns "" when none or several are
// set.
func (s Step) Kind() string {
	var kinds []string
	if s.Filter != nil {
		kinds = append(kinds, "filter")
	}
	if s.ClearFilters {
		kinds = append(kinds, "clear_filters")
	}
	if s.Sort != nil {
		kinds = append(kinds, "sort")
	}
	if s.History != nil {
		kinds = append(kinds, "history")
	}
	if s.ActiveOnly != nil {
		kinds = append(kinds, "active_only")
	}
	if s.Refresh {
		kinds = append(kinds, "refresh")
	}
	if s.Stage != nil {
		kinds = append(kinds, "stage")
	}
	if s.Commit {
		kinds = append(kinds, "commit")
	}
	if s.Cancel {
		kinds = append(kinds, "cancel")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// ExpectClause checks one recorded state. Unset fields are not checked.
type ExpectClause struct {
	// At selects the state: 0 is the opened view, i the state after step
	// i. Defaults to the final state.
	At *int `yaml:"at,omitempty"`

	// Rows counts every row, nested rows included.
	Rows *int `yaml:"rows,omitempty"`

	// Current counts rows showing the newest version of their refex.
	Current *int `yaml:"current,omitempty"`

	// Columns lists the column names in order.
	Columns []string `yaml:"columns,omitempty"`

	// Cells maps a column name to its rendered values in row order.
	Cells map[string][]string `yaml:"cells,omitempty"`

	// Errors lists the codes of every error reported so far, in order.
	Errors []string `yaml:"errors,omitempty"`

	Commits *int `yaml:"commits,omitempty"`
	Cancels *int `yaml:"cancels,omitempty"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected, and the schema file path is resolved against the scenario's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	var s Scenario
	if err := decodeStrict(path, &s); err != nil {
		return nil, err
	}
	s.SchemaFile = resolvePath(path, s.SchemaFile)
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// LoadFixture reads and validates a fixture file.
func LoadFixture(path string) (*Fixture, error) {
	var f Fixture
	if err := decodeStrict(path, &f); err != nil {
		return nil, err
	}
	f.SchemaFile = resolvePath(path, f.SchemaFile)
	if err := validateFixture(&f); err != nil {
		return nil, fmt.Errorf("invalid fixture %s: %w", path, err)
	}
	return &f, nil
}

func decodeStrict(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func resolvePath(from, rel string) string {
	if rel == "" || filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(filepath.Dir(from), rel)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if err := validateFixture(&s.Fixture); err != nil {
		return err
	}

	if (s.View.Component == "") == (s.View.Assemblage == "") {
		return fmt.Errorf("view: exactly one of component and assemblage is required")
	}
	switch s.View.Scan {
	case "", ScanApprove, ScanDecline:
	default:
		return fmt.Errorf("view: scan must be %q or %q, got %q", ScanApprove, ScanDecline, s.View.Scan)
	}
	if s.View.StopScanAfter < 0 {
		return fmt.Errorf("view: stop_scan_after must be non-negative")
	}

	for i, step := range s.Steps {
		switch step.Kind() {
		case "":
			return fmt.Errorf("steps[%d]: exactly one action is required", i)
		case "filter":
			if step.Filter.Column == "" {
				return fmt.Errorf("steps[%d].filter: column is required", i)
			}
		case "sort":
			if step.Sort.Column == "" {
				return fmt.Errorf("steps[%d].sort: column is required", i)
			}
		case "stage":
			if err := validateRefex(step.Stage); err != nil {
				return fmt.Errorf("steps[%d].stage: %w", i, err)
			}
		}
	}

	for i, e := range s.Expect {
		if e.At != nil && (*e.At < 0 || *e.At > len(s.Steps)) {
			return fmt.Errorf("expect[%d]: at %d is outside 0..%d", i, *e.At, len(s.Steps))
		}
	}
	return nil
}

func validateFixture(f *Fixture) error {
	for i, a := range f.Assemblages {
		if a.Name == "" {
			return fmt.Errorf("assemblages[%d]: name is required", i)
		}
		for j, c := range a.Columns {
			if c.Concept == "" {
				return fmt.Errorf("assemblages[%d].columns[%d]: concept is required", i, j)
			}
			if c.Type == "" {
				return fmt.Errorf("assemblages[%d].columns[%d]: type is required", i, j)
			}
		}
	}
	ids := make(map[string]bool, len(f.Refexes))
	for i := range f.Refexes {
		r := &f.Refexes[i]
		if err := validateRefex(r); err != nil {
			return fmt.Errorf("refexes[%d]: %w", i, err)
		}
		if r.ID != "" {
			if ids[r.ID] {
				return fmt.Errorf("refexes[%d]: duplicate id %q", i, r.ID)
			}
			ids[r.ID] = true
		}
	}
	return nil
}

func validateRefex(r *RefexSpec) error {
	if r.Assemblage == "" {
		return fmt.Errorf("assemblage is required")
	}
	if r.Referenced == "" {
		return fmt.Errorf("referenced is required")
	}
	if len(r.Versions) == 0 {
		return fmt.Errorf("at least one version is required")
	}
	staged := false
	for i, v := range r.Versions {
		if v.Uncommitted {
			staged = true
		} else if staged {
			return fmt.Errorf("versions[%d]: committed version after an uncommitted one", i)
		}
	}
	return nil
}

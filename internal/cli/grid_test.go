package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refexgrid/internal/model"
)

// Concepts take NIDs in creation order: Heart=1, Lung=2, Notes=3, Text=4,
// then the refexes n1=5 and n2=6.
const notesFixture = `
concepts: [Heart, Lung]
assemblages:
  - name: Notes
    indexed: true
    columns:
      - {concept: Text, type: string}
refexes:
  - id: n1
    assemblage: Notes
    referenced: Heart
    versions:
      - {time: 1704067200000, values: [beats]}
  - id: n2
    assemblage: Notes
    referenced: Lung
    versions:
      - {time: 1704067200000, values: [breathes]}
      - {time: 1704067260000, values: [draft], uncommitted: true}
`

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func loadNotes(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	fixture := writeFile(t, dir, "notes.yaml", notesFixture)
	db := filepath.Join(dir, "terms.db")

	out, err := runRoot(t, "--db", db, "--format", "json", "load", fixture)
	require.NoError(t, err, out)

	var resp struct {
		Status string            `json:"status"`
		Data   LoadFixtureResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, model.NID(3), resp.Data.Assemblages["Notes"])
	require.Equal(t, map[string]model.NID{"n1": 5, "n2": 6}, resp.Data.Refexes)
	return db
}

type showResponse struct {
	Status string     `json:"status"`
	Data   ShowResult `json:"data"`
	Error  *CLIError  `json:"error"`
}

func showJSON(t *testing.T, db string, args ...string) ShowResult {
	t.Helper()
	out, err := runRoot(t, append([]string{"--db", db, "--format", "json", "show"}, args...)...)
	require.NoError(t, err, out)
	var resp showResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func column(res ShowResult, name string) []string {
	i := -1
	for j, c := range res.Columns {
		if c == name {
			i = j
		}
	}
	var out []string
	for _, r := range res.Rows {
		out = append(out, r.Cells[i])
	}
	return out
}

func TestShowAssemblage(t *testing.T) {
	db := loadNotes(t)

	res := showJSON(t, db, "--assemblage", "3", "--sort", "Text")
	assert.Equal(t, []string{"Component", "Text", "Status", "Time", "Author", "Module", "Path"}, res.Columns)
	assert.Equal(t, []string{"beats", "draft"}, column(res, "Text"))
	assert.Equal(t, []string{"Heart", "Lung"}, column(res, "Component"))
	assert.Equal(t, []string{"2024-01-01 00:00:00", "2024-01-01 00:01:00"}, column(res, "Time"))
	assert.True(t, res.Uncommitted)
	assert.False(t, res.Rows[0].Uncommitted)
	assert.True(t, res.Rows[1].Uncommitted)

	res = showJSON(t, db, "--assemblage", "3", "--sort", "Text", "--desc")
	assert.Equal(t, []string{"draft", "beats"}, column(res, "Text"))
}

func TestShowHistoryAndFilter(t *testing.T) {
	db := loadNotes(t)

	res := showJSON(t, db, "--assemblage", "3", "--history", "--filter", "Component=Lung")
	assert.Equal(t, []string{"draft", "breathes"}, column(res, "Text"), "newest version first")
	assert.True(t, res.Rows[0].Current)
	assert.False(t, res.Rows[1].Current)

	res = showJSON(t, db, "--assemblage", "3", "--filter", "Text=beats", "--filter", "Text=draft", "--sort", "Text")
	assert.Equal(t, []string{"beats", "draft"}, column(res, "Text"))
}

func TestShowComponent(t *testing.T) {
	db := loadNotes(t)

	res := showJSON(t, db, "--component", "1")
	assert.Equal(t, "Assemblage", res.Columns[0])
	assert.Equal(t, []string{"Notes"}, column(res, "Assemblage"))
	assert.Equal(t, []string{"beats"}, column(res, "Text"))
	assert.False(t, res.Uncommitted)
}

func TestShowValues(t *testing.T) {
	db := loadNotes(t)

	out, err := runRoot(t, "--db", db, "show", "--assemblage", "3", "--values", "Component")
	require.NoError(t, err)
	assert.Equal(t, "Heart\nLung\n", out)
}

func TestShowText(t *testing.T) {
	db := loadNotes(t)

	out, err := runRoot(t, "--db", db, "show", "--component", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "Assemblage")
	assert.Contains(t, out, "draft")
	assert.NotContains(t, out, "\t", "tabwriter aligns the columns")
}

func TestShowErrors(t *testing.T) {
	db := loadNotes(t)

	tests := []struct {
		name string
		args []string
		code string
		exit int
	}{
		{"no target", nil, ErrCodeGeneric, ExitCommandError},
		{"unknown component", []string{"--component", "99"}, ErrCodeNotFound, ExitCommandError},
		{"not an assemblage", []string{"--assemblage", "1"}, ErrCodeNotFound, ExitCommandError},
		{"bad target", []string{"--component", "heart"}, ErrCodeView, ExitCommandError},
		{"bad filter", []string{"--assemblage", "3", "--filter", "Text"}, ErrCodeFilter, ExitCommandError},
		{"unknown filter column", []string{"--assemblage", "3", "--filter", "Color=red"}, ErrCodeFilter, ExitCommandError},
		{"unknown sort column", []string{"--assemblage", "3", "--sort", "Color"}, ErrCodeFilter, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runRoot(t, append([]string{"--db", db, "--format", "json", "show"}, tt.args...)...)
			require.Error(t, err)
			assert.Equal(t, tt.exit, GetExitCode(err))

			var resp showResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}
}

func finishJSON(t *testing.T, db, action string, args ...string) FinishResult {
	t.Helper()
	out, err := runRoot(t, append([]string{"--db", db, "--format", "json", action}, args...)...)
	require.NoError(t, err, out)
	var resp struct {
		Status string       `json:"status"`
		Data   FinishResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp.Data
}

func TestCommit(t *testing.T) {
	db := loadNotes(t)

	res := finishJSON(t, db, "commit", "--assemblage", "3")
	assert.True(t, res.Changed)
	assert.Equal(t, []model.NID{1, 2}, res.Referenced)
	assert.Equal(t, []model.NID{3}, res.Assemblages)
	assert.Equal(t, 3, res.Rows)

	shown := showJSON(t, db, "--assemblage", "3", "--sort", "Text")
	assert.Equal(t, []string{"beats", "draft"}, column(shown, "Text"))
	assert.False(t, shown.Uncommitted)

	res = finishJSON(t, db, "commit", "--assemblage", "3")
	assert.False(t, res.Changed)

	out, err := runRoot(t, "--db", db, "commit", "--assemblage", "3")
	require.NoError(t, err)
	assert.Equal(t, "Nothing to commit\n", out)
}

func TestCancel(t *testing.T) {
	db := loadNotes(t)

	out, err := runRoot(t, "--db", db, "cancel", "--component", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Cancelled edits on 1 component(s); 1 row(s) remain")

	shown := showJSON(t, db, "--assemblage", "3", "--sort", "Text")
	assert.Equal(t, []string{"beats", "breathes"}, column(shown, "Text"))
	assert.False(t, shown.Uncommitted)
}

func TestLoadFixtureErrors(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "terms.db")

	_, err := runRoot(t, "--db", db, "load", filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	bad := writeFile(t, dir, "bad.yaml", `
concepts: [Heart]
refexes:
  - {assemblage: Missing, referenced: Heart, versions: [{values: [x]}]}
`)
	out, err := runRoot(t, "--db", db, "load", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, `unknown assemblage "Missing"`)
}

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"Text=a", "Status=Active", "Text=b=c"})
	require.NoError(t, err)
	assert.Equal(t, []filterArg{
		{column: "Text", values: []string{"a", "b=c"}},
		{column: "Status", values: []string{"Active"}},
	}, got)

	_, err = parseFilters([]string{"=x"})
	assert.Error(t, err)
}

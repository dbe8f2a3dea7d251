package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/refexgrid/internal/harness"
	"github.com/roach88/refexgrid/internal/model"
)

// LoadFixtureResult reports what a fixture created.
type LoadFixtureResult struct {
	Store       string               `json:"store"`
	Concepts    map[string]model.NID `json:"concepts"`
	Assemblages map[string]model.NID `json:"assemblages"`
	Refexes     map[string]model.NID `json:"refexes,omitempty"`
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load <fixture>",
		Short: "Load a YAML fixture into the store",
		Long: `Load concepts, assemblages and refexes from a YAML fixture.

The fixture format is the one scenario files use: concepts, assemblages
or a schema_file, refexes with versions, and the stamp concepts.
Committed versions are committed; versions marked uncommitted are staged
and can be committed or cancelled later.

Examples:
  refexgrid load terms.yaml --db terms.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(cmd.Context(), rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runLoad(ctx context.Context, opts *RootOptions, path string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)

	fixture, err := harness.LoadFixture(path)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLoadFailed, "load fixture", err)
	}

	s, err := openSession(ctx, opts, formatter.GetErrWriter())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "open store", err)
	}
	defer s.Close()

	seeder := &harness.Seeder{Store: s.store, Logger: s.logger}
	seeded, err := seeder.Seed(ctx, fixture)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "seed fixture", err)
	}
	gen, err := s.index.Rebuild(ctx, s.store)
	if err == nil {
		err = s.index.WaitForGeneration(ctx, gen)
	}
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeStore, "index fixture", err)
	}

	result := LoadFixtureResult{
		Store:       s.cfg.Store.Path,
		Concepts:    seeded.Concepts,
		Assemblages: make(map[string]model.NID, len(seeded.Assemblages)),
		Refexes:     seeded.Refexes,
	}
	for name, schema := range seeded.Assemblages {
		result.Assemblages[name] = schema.NID
	}

	if formatter.JSON() {
		return formatter.Success(result)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ Loaded %s into %s\n", path, result.Store)
	for _, name := range slices.Sorted(maps.Keys(result.Assemblages)) {
		fmt.Fprintf(w, "  assemblage %s = %d\n", name, result.Assemblages[name])
	}
	fmt.Fprintf(w, "  %d concept(s), %d refex(es)\n", len(result.Concepts), len(fixture.Refexes))
	return nil
}

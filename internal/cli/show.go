package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/refexgrid/internal/grid"
	"github.com/roach88/refexgrid/internal/store"
)

// ShowOptions holds flags for the show command.
type ShowOptions struct {
	*RootOptions
	Target targetOptions

	History    bool
	ActiveOnly bool
	Filters    []string // Column=Value, repeatable
	Sort       string
	Descending bool
	Values     string // list the distinct values of this column instead
	Yes        bool   // approve scanning unindexed assemblages
}

// ShowRow is one rendered row of the JSON output.
type ShowRow struct {
	Depth       int      `json:"depth"`
	Current     bool     `json:"current"`
	Uncommitted bool     `json:"uncommitted,omitempty"`
	Cells       []string `json:"cells"`
}

// ShowResult is the JSON output of show.
type ShowResult struct {
	Columns     []string  `json:"columns"`
	Rows        []ShowRow `json:"rows"`
	Uncommitted bool      `json:"uncommitted"`
	Partial     string    `json:"partial,omitempty"`
}

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the refex grid of a component or an assemblage",
		Long: `Materialize and print a refex grid.

--component and --assemblage accept a NID or a UUID. With
--component the grid shows every refex attached to the component, with
nested annotations. With --assemblage it shows every refex of that
assemblage; unindexed assemblages are scanned only with --yes.

Examples:
  refexgrid show --component 12
  refexgrid show --assemblage 4 --filter Instructions=A --sort Time --desc
  refexgrid show --assemblage 4 --values Instructions
  refexgrid show --component 12 --history --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd.Context(), opts, cmd)
		},
	}

	addTargetFlags(cmd, &opts.Target)
	cmd.Flags().BoolVar(&opts.History, "history", false, "show every version, not only the newest")
	cmd.Flags().BoolVar(&opts.ActiveOnly, "active-only", false, "hide inactive refexes")
	cmd.Flags().StringArrayVar(&opts.Filters, "filter", nil, "keep rows whose Column renders as Value (Column=Value, repeatable)")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "sort rows by column")
	cmd.Flags().BoolVar(&opts.Descending, "desc", false, "sort descending")
	cmd.Flags().StringVar(&opts.Values, "values", "", "list the distinct values of a column")
	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "scan unindexed assemblages without asking")

	return cmd
}

func addTargetFlags(cmd *cobra.Command, t *targetOptions) {
	cmd.Flags().StringVar(&t.Component, "component", "", "component NID or UUID")
	cmd.Flags().StringVar(&t.Assemblage, "assemblage", "", "assemblage NID or UUID")
	cmd.MarkFlagsMutuallyExclusive("component", "assemblage")
}

// viewOptions applies the command's history flags over the config.
func viewOptions(opts *RootOptions, cmd *cobra.Command, history, activeOnly bool) (grid.Options, error) {
	cfg, err := opts.Config()
	if err != nil {
		return grid.Options{}, err
	}
	vo := cfg.ViewOptions()
	if cmd.Flags().Changed("history") {
		vo.History.ShowFullHistory = history
	}
	if cmd.Flags().Changed("active-only") {
		vo.History.ActiveOnly = activeOnly
	}
	return vo, nil
}

func runShow(ctx context.Context, opts *ShowOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := opts.formatter(cmd)
	if err := opts.Target.validate(); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}
	filters, err := parseFilters(opts.Filters)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeFilter, err.Error(), nil)
	}
	vo, err := viewOptions(opts.RootOptions, cmd, opts.History, opts.ActiveOnly)
	if err != nil {
		return err
	}

	s, err := openSession(ctx, opts.RootOptions, formatter.GetErrWriter())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "open store", err)
	}
	defer s.Close()

	progress := func(done, total int) {
		formatter.VerboseLog("scanned %d/%d components", done, total)
	}
	lv, err := s.openView(ctx, opts.Target, vo, opts.Yes, progress)
	if err != nil {
		return formatter.Fail(GetExitCode(err), viewErrCode(err), "open grid", err)
	}
	defer lv.Close()

	for _, f := range filters {
		col, err := findColumn(lv.view, f.column)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeFilter, err.Error(), nil)
		}
		lv.view.SetFilter(col.ID, f.values)
		if err := lv.await(ctx); err != nil {
			return formatter.Fail(ExitFailure, ErrCodeView, "filter grid", err)
		}
		formatter.VerboseLog("filter %s=%s", f.column, strings.Join(f.values, "|"))
	}

	if opts.Values != "" {
		col, err := findColumn(lv.view, opts.Values)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeFilter, err.Error(), nil)
		}
		values := lv.view.FilterCandidates(ctx, col.ID)
		if formatter.JSON() {
			return formatter.Success(values)
		}
		for _, v := range values {
			fmt.Fprintln(formatter.Writer, v)
		}
		return nil
	}

	snap := lv.view.Snapshot()
	rows := snap.Rows
	if opts.Sort != "" {
		col, err := findColumn(lv.view, opts.Sort)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeFilter, err.Error(), nil)
		}
		rows = lv.view.SortedRows(col.ID, opts.Descending)
	}

	if formatter.JSON() {
		return formatter.Success(showResult(ctx, lv.view.Renderer(), snap, rows))
	}

	tw := tabwriter.NewWriter(formatter.Writer, 0, 4, 2, ' ', 0)
	if err := lv.view.Renderer().WriteTable(ctx, tw, snap.Columns, rows); err != nil {
		return err
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if snap.Err != nil {
		fmt.Fprintf(formatter.GetErrWriter(), "partial results: %v\n", snap.Err)
	}
	if snap.Transaction.HasUncommitted {
		fmt.Fprintln(formatter.GetErrWriter(), "uncommitted changes: run commit or cancel")
	}
	return nil
}

func showResult(ctx context.Context, r *grid.Renderer, snap *grid.Snapshot, rows []*grid.Row) ShowResult {
	res := ShowResult{
		Columns:     make([]string, len(snap.Columns)),
		Rows:        []ShowRow{},
		Uncommitted: snap.Transaction.HasUncommitted,
	}
	for i, c := range snap.Columns {
		res.Columns[i] = c.Name
	}
	if snap.Err != nil {
		res.Partial = snap.Err.Error()
	}
	grid.Walk(rows, func(row *grid.Row, depth int) {
		cells := make([]string, len(snap.Columns))
		for i, c := range snap.Columns {
			cells[i] = r.Cell(ctx, row, c)
		}
		res.Rows = append(res.Rows, ShowRow{
			Depth:       depth,
			Current:     row.Current(),
			Uncommitted: row.Uncommitted(),
			Cells:       cells,
		})
	})
	return res
}

func viewErrCode(err error) string {
	if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrNotAssemblage) {
		return ErrCodeNotFound
	}
	return ErrCodeView
}

func findColumn(v *grid.View, name string) (grid.Column, error) {
	snap := v.Snapshot()
	if snap == nil {
		return grid.Column{}, fmt.Errorf("no grid to find column %q in", name)
	}
	col, ok := grid.FindColumnByName(snap.Columns, name)
	if !ok {
		return grid.Column{}, fmt.Errorf("unknown column %q", name)
	}
	return col, nil
}

type filterArg struct {
	column string
	values []string
}

// parseFilters groups Column=Value arguments by column, keeping the order
// in which columns first appear.
func parseFilters(args []string) ([]filterArg, error) {
	var out []filterArg
	pos := make(map[string]int)
	for _, arg := range args {
		col, val, ok := strings.Cut(arg, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("invalid filter %q: want Column=Value", arg)
		}
		i, seen := pos[col]
		if !seen {
			i = len(out)
			pos[col] = i
			out = append(out, filterArg{column: col})
		}
		out[i].values = append(out[i].values, val)
	}
	return out, nil
}

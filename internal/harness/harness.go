package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/refexgrid/internal/grid"
	"github.com/roach88/refexgrid/internal/index"
	"github.com/roach88/refexgrid/internal/model"
	"github.com/roach88/refexgrid/internal/store"
	"github.com/roach88/refexgrid/internal/testutil"
)

// StepTimeout bounds how long a step waits for the view to publish.
var StepTimeout = 10 * time.Second

// Harness is one scenario run: a fresh store and index, the seeded names,
// and the live view.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	index    *index.Index
	counts   *countingStore
	source   *stoppingSource
	seeder   *Seeder
	seeded   *Seeded
	view     *grid.View
	events   *recorder
	logger   *slog.Logger

	sort   *SortStep
	errors []string
}

// Run executes a scenario against a fresh in-memory store and returns
// every recorded state. Expect clause failures are reported in
// Result.Failures; the error is for scenarios that cannot run at all.
func Run(scenario *Scenario) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(len(scenario.Steps)+2)*StepTimeout)
	defer cancel()

	h, err := newHarness(ctx, scenario)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := &Result{Scenario: scenario.Name}
	first, err := h.open(ctx)
	if err != nil {
		return nil, err
	}
	result.States = append(result.States, first)

	for i, step := range scenario.Steps {
		st, err := h.apply(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Kind(), err)
		}
		st.Index = i + 1
		result.States = append(result.States, st)
	}

	result.Failures = Evaluate(result, scenario.Expect)
	return result, nil
}

func newHarness(ctx context.Context, scenario *Scenario) (*Harness, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	ix, err := index.NewMemOnly(logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	clock := testutil.NewDeterministicClock()
	uuids := testutil.NewUUIDSequence()
	h := &Harness{
		scenario: scenario,
		store:    st,
		index:    ix,
		counts:   &countingStore{Store: st},
		source:   &stoppingSource{src: st, after: int64(scenario.View.StopScanAfter)},
		seeder: &Seeder{
			Store:     st,
			DefinedAt: testutil.DefaultEpoch,
			Now:       clock.Next,
			NewUUID:   uuids.Next,
			Logger:    logger,
		},
		events: newRecorder(scenario.View.Scan == ScanApprove),
		logger: logger,
	}

	if h.seeded, err = h.seeder.Seed(ctx, &scenario.Fixture); err != nil {
		h.close()
		return nil, err
	}
	gen, err := ix.Rebuild(ctx, st)
	if err != nil {
		h.close()
		return nil, err
	}
	if err := ix.WaitForGeneration(ctx, gen); err != nil {
		h.close()
		return nil, err
	}
	return h, nil
}

func (h *Harness) close() {
	if h.view != nil {
		h.view.Close()
	}
	h.index.Close()
	h.store.Close()
}

// open creates the view on its target and records its first snapshot.
func (h *Harness) open(ctx context.Context) (*State, error) {
	spec := h.scenario.View
	h.view = grid.NewView(grid.Deps{
		Store:   h.counts,
		Schemas: h.store,
		Index:   h.index,
		Source:  h.source,
		Logger:  h.logger,
	}, grid.Options{
		History: grid.HistoryOptions{
			ShowFullHistory: spec.ShowFullHistory,
			ActiveOnly:      spec.ActiveOnly,
		},
		ScanParallelism: 1,
	}, h.events)
	h.source.stop = h.view.CancelScan

	switch {
	case spec.Component != "":
		nid, ok := h.seeded.Lookup(spec.Component)
		if !ok {
			return nil, fmt.Errorf("view: unknown component %q", spec.Component)
		}
		h.view.SetComponent(nid)
	default:
		schema, ok := h.seeded.Assemblages[spec.Assemblage]
		if !ok {
			return nil, fmt.Errorf("view: unknown assemblage %q", spec.Assemblage)
		}
		h.view.SetAssemblage(schema.NID, nil)
	}

	if err := h.await(ctx); err != nil {
		return nil, fmt.Errorf("view: %w", err)
	}
	return h.capture(ctx, "view")
}

func (h *Harness) apply(ctx context.Context, step Step) (*State, error) {
	kind := step.Kind()
	wait := true

	switch kind {
	case "filter":
		col, err := h.column(step.Filter.Column)
		if err != nil {
			return nil, err
		}
		h.view.SetFilter(col.ID, step.Filter.Values)
	case "clear_filters":
		h.view.ClearFilters()
	case "sort":
		if _, err := h.column(step.Sort.Column); err != nil {
			return nil, err
		}
		h.sort = step.Sort
		wait = false
	case "history":
		h.view.SetShowFullHistory(*step.History)
	case "active_only":
		h.view.SetActiveOnly(*step.ActiveOnly)
	case "refresh":
		h.view.Refresh()
	case "stage":
		base, err := h.seeder.versionStamp(h.seeded, h.scenario.Stamp)
		if err != nil {
			return nil, err
		}
		c, versions, err := h.seeder.BuildRefex(ctx, h.seeded, step.Stage, base)
		if err != nil {
			return nil, err
		}
		c.Versions = versions
		if err := h.view.Stage(ctx, c); err != nil {
			return nil, err
		}
		if step.Stage.ID != "" {
			h.seeded.Refexes[step.Stage.ID] = c.NID
		}
	case "commit", "cancel":
		// Nothing uncommitted means no store call and no new snapshot.
		wait = h.view.HasUncommitted()
		finish := h.view.Commit
		if kind == "cancel" {
			finish = h.view.Cancel
		}
		if err := finish(ctx); err != nil {
			h.errors = append(h.errors, errorCode(err))
			wait = false
		}
	}

	if wait {
		if err := h.await(ctx); err != nil {
			return nil, err
		}
	}
	return h.capture(ctx, kind)
}

// await blocks until the view publishes a snapshot or reports a failure
// that ends its pass.
func (h *Harness) await(ctx context.Context) error {
	for {
		select {
		case ev := <-h.events.ch:
			if ev.err == nil {
				return nil
			}
			h.errors = append(h.errors, errorCode(ev.err))
			if !grid.IsAnnotationCycle(ev.err) && !grid.IsScanFailure(ev.err) {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for snapshot: %w", ctx.Err())
		}
	}
}

// capture drains whatever the last actor message reported and records the
// published snapshot.
func (h *Harness) capture(ctx context.Context, kind string) (*State, error) {
	// Filter round-trips through the actor, so every listener call made
	// before it has returned.
	if _, err := h.view.Filter(ctx, grid.ColumnID{}); err != nil {
		return nil, err
	}
drain:
	for {
		select {
		case ev := <-h.events.ch:
			if ev.err != nil {
				h.errors = append(h.errors, errorCode(ev.err))
			}
		default:
			break drain
		}
	}

	snap := h.view.Snapshot()
	st := &State{
		Step:    kind,
		Errors:  append([]string(nil), h.errors...),
		Commits: int(h.counts.commits.Load()),
		Cancels: int(h.counts.cancels.Load()),
	}
	if snap == nil {
		return st, nil
	}

	rows := snap.Rows
	if h.sort != nil {
		if col, ok := grid.FindColumnByName(snap.Columns, h.sort.Column); ok {
			rows = h.view.Renderer().SortRows(rows, col, h.sort.Descending)
		}
	}

	var table strings.Builder
	if err := h.view.Renderer().WriteTable(ctx, &table, snap.Columns, rows); err != nil {
		return nil, err
	}

	st.Pass = snap.Pass
	st.Columns = make([]string, len(snap.Columns))
	st.Cells = make(map[string][]string, len(snap.Columns))
	for i, c := range snap.Columns {
		st.Columns[i] = c.Name
	}
	grid.Walk(rows, func(r *grid.Row, _ int) {
		st.Rows++
		if r.Current() {
			st.Current++
		}
		for _, c := range snap.Columns {
			st.Cells[c.Name] = append(st.Cells[c.Name], h.view.Renderer().Cell(ctx, r, c))
		}
	})
	st.Table = table.String()
	return st, nil
}

func (h *Harness) column(name string) (grid.Column, error) {
	snap := h.view.Snapshot()
	if snap == nil {
		return grid.Column{}, fmt.Errorf("no snapshot to find column %q in", name)
	}
	col, ok := grid.FindColumnByName(snap.Columns, name)
	if !ok {
		return grid.Column{}, fmt.Errorf("unknown column %q", name)
	}
	return col, nil
}

func errorCode(err error) string {
	var ge *grid.Error
	if errors.As(err, &ge) {
		return string(ge.Code)
	}
	return "ERROR"
}

// countingStore counts the commit and cancel calls that reach the store.
type countingStore struct {
	*store.Store
	commits atomic.Int64
	cancels atomic.Int64
}

func (s *countingStore) Commit(ctx context.Context, nid model.NID) error {
	s.commits.Add(1)
	return s.Store.Commit(ctx, nid)
}

func (s *countingStore) Cancel(ctx context.Context, nid model.NID) error {
	s.cancels.Add(1)
	return s.Store.Cancel(ctx, nid)
}

// stoppingSource stops the first fallback scan once after components
// have been loaded.
type stoppingSource struct {
	src    grid.ComponentSource
	after  int64
	stop   func()
	loaded atomic.Int64
	once   sync.Once
}

func (s *stoppingSource) NIDs(ctx context.Context) ([]model.NID, error) {
	return s.src.NIDs(ctx)
}

func (s *stoppingSource) Component(ctx context.Context, nid model.NID) (*model.Chronicle, error) {
	c, err := s.src.Component(ctx, nid)
	if s.after > 0 && s.loaded.Add(1) == s.after {
		s.once.Do(s.stop)
	}
	return c, err
}

type event struct {
	err error // nil for a snapshot
}

// recorder is the view listener. Snapshots and errors arrive on one
// channel in the order the actor reported them.
type recorder struct {
	ch      chan event
	approve bool
}

func newRecorder(approve bool) *recorder {
	return &recorder{ch: make(chan event, 256), approve: approve}
}

func (r *recorder) OnSnapshot(*grid.Snapshot) { r.ch <- event{} }
func (r *recorder) OnCell(grid.CellUpdate)   {}
func (r *recorder) OnError(err error)        { r.ch <- event{err: err} }
func (r *recorder) OnScanProgress(int, int)  {}

func (r *recorder) Confirm(_ string, reply func(bool)) { reply(r.approve) }

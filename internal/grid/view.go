package grid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/roach88/refexgrid/internal/model"
)

// LoadingPlaceholder is shown while a cell's description is resolving.
const LoadingPlaceholder = "Loading..."

// ErrViewClosed is returned by operations on a closed View.
var ErrViewClosed = errors.New("view closed")

// State is the View's materialization state. Only the actor changes it.
type State int32

const (
	// StateIdle means no work is running.
	StateIdle State = iota
	// StateInitializing means the target's columns are being computed.
	StateInitializing
	// StateMaterializing means a pass is building rows.
	StateMaterializing
	// StateRefreshQueued means a pass is running and another follows it.
	StateRefreshQueued
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateInitializing:
		return "Initializing"
	case StateMaterializing:
		return "Materializing"
	case StateRefreshQueued:
		return "RefreshQueued"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Listener receives View events. Every method is called on the View's
// actor goroutine and must not block it.
type Listener interface {
	OnSnapshot(s *Snapshot)
	OnCell(u CellUpdate)
	OnError(err error)
	OnScanProgress(done, total int)

	// Confirm asks a yes/no question. reply may be called later, from any
	// goroutine; calls after the first are ignored.
	Confirm(question string, reply func(bool))
}

// NopListener ignores events and declines every question.
type NopListener struct{}

func (NopListener) OnSnapshot(*Snapshot) {}
func (NopListener) OnCell(CellUpdate) {}
func (NopListener) OnError(error) {}
func (NopListener) OnScanProgress(int, int) {}
func (NopListener) Confirm(_ string, reply func(bool)) { reply(false) }

// Snapshot is one published materialization. It is never modified after
// publication.
type Snapshot struct {
	// Pass increases with every materialization the View starts.
	Pass    int64
	Mode    Mode
	Target  model.NID
	History HistoryOptions

	Columns      []Column
	Rows         []*Row
	Transaction  TransactionSet
	Unusable     map[model.NID]error
	Cycles       []model.NID
	NoDataFields bool

	// Err is set when rows are partial, after a failed scan.
	Err error
}

// CellUpdate carries the display text of one cell.
type CellUpdate struct {
	Row     *Row
	Column  ColumnID
	Text    string
	Pending bool
}

// Deps are the collaborators of a View.
type Deps struct {
	Store   Store
	Schemas SchemaRegistry

	// Index may be nil; every assemblage then takes the scan path.
	Index Index

	// Source enables the fallback scan. Nil disables it, and unindexed
	// assemblages show only their hint.
	Source ComponentSource

	Logger *slog.Logger
}

// Options configure a View.
type Options struct {
	History                 HistoryOptions
	ViewCoordinate          model.ViewCoordinate
	ScanParallelism         int
	MaxIndexResults         int
	FilterRetainGenerations int
}

// passWaiter is released once a pass numbered pass or later ends.
type passWaiter struct {
	pass int64
	done chan struct{}
}

type target struct {
	mode Mode
	nid  model.NID
	hint *Hint
}

// View is the grid for one component or one assemblage. All of its state
// is owned by an actor goroutine; exported methods post messages to it and
// return immediately, except Stage, Commit and Cancel, which block on the
// store.
type View struct {
	deps     Deps
	logger   *slog.Logger
	listener Listener

	unifier      *Unifier
	materializer *Materializer
	renderer     *Renderer
	scanner      *FullScanner
	reconciler   *Reconciler
	tracker      *Tracker

	box       *mailbox
	ctx       context.Context
	cancel    context.CancelFunc
	actorDone chan struct{}
	workers   sync.WaitGroup
	closeOnce sync.Once

	// Actor-owned.
	state   State
	target  *target
	initSeq int64
	pass    int64
	unified *Unified
	columns []Column
	history HistoryOptions
	filters *FilterCache
	waiters []passWaiter

	stateMirror atomic.Int32
	snapshot    atomic.Pointer[Snapshot]
}

// NewView creates a View and starts its actor. A nil listener is replaced
// by NopListener.
func NewView(deps Deps, opts Options, listener Listener) *View {
	if listener == nil {
		listener = NopListener{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		deps:         deps,
		logger:       logger,
		listener:     listener,
		unifier:      NewUnifier(deps.Store, deps.Schemas, logger),
		materializer: NewMaterializer(deps.Store, logger),
		renderer:     NewRenderer(deps.Store, opts.ViewCoordinate, logger),
		tracker:      NewTracker(deps.Store, deps.Schemas, logger),
		box:          newMailbox(),
		ctx:          ctx,
		cancel:       cancel,
		actorDone:    make(chan struct{}),
		history:      opts.History,
		filters:      NewFilterCache(opts.FilterRetainGenerations),
	}
	if deps.Source != nil {
		v.scanner = NewFullScanner(deps.Source, opts.ScanParallelism, logger)
	}
	v.reconciler = NewReconciler(deps.Store, deps.Index, v.scanner, opts.MaxIndexResults, logger)

	go v.run()
	return v
}

func (v *View) run() {
	defer close(v.actorDone)
	for {
		for {
			msg, ok := v.box.TryDequeue()
			if !ok {
				break
			}
			msg(v)
		}
		select {
		case <-v.ctx.Done():
			return
		case _, ok := <-v.box.Wait():
			if !ok {
				return
			}
		}
	}
}

func (v *View) post(msg message) bool {
	return v.box.Enqueue(msg)
}

// goWorker runs fn off the actor. Called only from the actor.
func (v *View) goWorker(fn func()) {
	v.workers.Add(1)
	go func() {
		defer v.workers.Done()
		fn()
	}()
}

func (v *View) setState(s State) {
	v.state = s
	v.stateMirror.Store(int32(s))
}

// State returns the most recent materialization state.
func (v *View) State() State { return State(v.stateMirror.Load()) }

// Snapshot returns the latest published materialization, or nil.
func (v *View) Snapshot() *Snapshot { return v.snapshot.Load() }

// Renderer returns the View's renderer.
func (v *View) Renderer() *Renderer { return v.renderer }

// SetComponent shows the annotations of one component.
func (v *View) SetComponent(nid model.NID) {
	v.post(func(v *View) { v.setTarget(&target{mode: ModeComponent, nid: nid}) })
}

// SetAssemblage shows the members of one assemblage. hint may be nil.
func (v *View) SetAssemblage(assemblage model.NID, hint *Hint) {
	v.post(func(v *View) { v.setTarget(&target{mode: ModeAssemblage, nid: assemblage, hint: hint}) })
}

// Refresh rebuilds the rows. Requests made while a rebuild is running are
// coalesced into one follow-up; requests during column initialization are
// dropped, since initialization ends with a rebuild.
func (v *View) Refresh() {
	v.post(func(v *View) { v.refresh() })
}

// SetShowFullHistory toggles historical versions and refreshes.
func (v *View) SetShowFullHistory(show bool) {
	v.post(func(v *View) {
		v.history.ShowFullHistory = show
		v.refresh()
	})
}

// SetActiveOnly toggles hiding inactive versions and refreshes.
func (v *View) SetActiveOnly(activeOnly bool) {
	v.post(func(v *View) {
		v.history.ActiveOnly = activeOnly
		v.refresh()
	})
}

// PreferencesChanged refreshes after a watched user preference changed.
func (v *View) PreferencesChanged() { v.Refresh() }

// SetFilter replaces a column's accepted values and refreshes.
func (v *View) SetFilter(col ColumnID, values []string) {
	v.post(func(v *View) {
		v.filters.Set(col, values)
		v.refresh()
	})
}

// ClearFilters empties every filter, keeps the cached entries, and
// refreshes.
func (v *View) ClearFilters() {
	v.post(func(v *View) {
		v.filters.Clear()
		v.refresh()
	})
}

// Filter returns the accepted values of a cached filter.
// The result is delivered on the actor and may lag pending SetFilter calls.
func (v *View) Filter(ctx context.Context, col ColumnID) ([]string, error) {
	reply := make(chan []string, 1)
	if !v.post(func(v *View) {
		if f, ok := v.filters.Lookup(col); ok {
			reply <- f.Values()
			return
		}
		reply <- nil
	}) {
		return nil, ErrViewClosed
	}
	select {
	case vals := <-reply:
		return vals, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FilterCandidates returns the distinct rendered values of a column in the
// latest snapshot.
func (v *View) FilterCandidates(ctx context.Context, col ColumnID) []string {
	snap := v.Snapshot()
	if snap == nil {
		return nil
	}
	c, ok := FindColumn(snap.Columns, col)
	if !ok {
		return nil
	}
	return Candidates(ctx, v.renderer, snap.Rows, c)
}

// SortedRows returns the latest snapshot's rows sorted by a column.
func (v *View) SortedRows(col ColumnID, descending bool) []*Row {
	snap := v.Snapshot()
	if snap == nil {
		return nil
	}
	c, ok := FindColumn(snap.Columns, col)
	if !ok {
		return snap.Rows
	}
	return v.renderer.SortRows(snap.Rows, c, descending)
}

// RequestCell delivers a cell's text through OnCell. Cells that name a
// component first report LoadingPlaceholder, then the resolved text.
func (v *View) RequestCell(row *Row, col ColumnID) {
	v.post(func(v *View) {
		c, ok := FindColumn(v.columns, col)
		if !ok {
			return
		}
		text, pending := v.renderer.CachedCell(row, c)
		if !pending {
			v.listener.OnCell(CellUpdate{Row: row, Column: col, Text: text})
			return
		}
		v.listener.OnCell(CellUpdate{Row: row, Column: col, Text: LoadingPlaceholder, Pending: true})
		v.goWorker(func() {
			text := v.renderer.Cell(v.ctx, row, c)
			v.post(func(v *View) {
				v.listener.OnCell(CellUpdate{Row: row, Column: col, Text: text})
			})
		})
	})
}

// Stage adds an uncommitted refex to the store, submits it to the index
// when the index accepts submissions, and refreshes. When the View shows
// the refex's assemblage, the refex becomes the view's hint so the next
// index query waits for it. Stage returns once the refreshed snapshot is
// published, so a following Commit or Cancel covers the staged refex.
func (v *View) Stage(ctx context.Context, c *model.Chronicle) error {
	if err := v.deps.Store.AddUncommitted(ctx, c); err != nil {
		return fmt.Errorf("stage refex: %w", err)
	}

	var gen int64
	if ix, ok := v.deps.Index.(Indexer); ok {
		var err error
		if gen, err = ix.Submit(c); err != nil {
			v.logger.Warn("index submit failed", "nid", c.NID, "assemblage", c.AssemblageNID, "error", err)
		}
	}

	queued := make(chan chan struct{}, 1)
	if !v.post(func(v *View) {
		if v.target != nil && v.target.mode == ModeAssemblage && v.target.nid == c.AssemblageNID {
			t := *v.target
			t.hint = NewHint(c.NID, gen)
			v.target = &t
		}
		before := v.state
		v.refresh()
		queued <- v.awaitPass(before)
	}) {
		return ErrViewClosed
	}

	var done chan struct{}
	select {
	case done = <-queued:
	case <-ctx.Done():
		return ctx.Err()
	case <-v.ctx.Done():
		return ErrViewClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-v.ctx.Done():
		return ErrViewClosed
	}
}

// awaitPass returns a channel closed when the pass started or queued by
// the refresh just made ends. before is the state prior to that refresh.
func (v *View) awaitPass(before State) chan struct{} {
	done := make(chan struct{})
	switch {
	case v.state == StateIdle:
		close(done)
		return done
	case before == StateIdle && v.state == StateMaterializing:
		v.waiters = append(v.waiters, passWaiter{pass: v.pass, done: done})
	default:
		// The next materialize call numbers its pass v.pass+1.
		v.waiters = append(v.waiters, passWaiter{pass: v.pass + 1, done: done})
	}
	return done
}

// release frees the waiters of every pass up to and including pass.
func (v *View) release(pass int64) {
	kept := v.waiters[:0]
	for _, w := range v.waiters {
		if w.pass <= pass {
			close(w.done)
			continue
		}
		kept = append(kept, w)
	}
	v.waiters = kept
}

// HasUncommitted reports whether the latest snapshot shows uncommitted
// edits.
func (v *View) HasUncommitted() bool {
	snap := v.Snapshot()
	return snap != nil && snap.Transaction.HasUncommitted
}

// Commit makes the latest published snapshot's uncommitted edits durable,
// then refreshes. With nothing uncommitted it does nothing.
func (v *View) Commit(ctx context.Context) error {
	return v.finish(ctx, v.tracker.Commit)
}

// Cancel discards the latest published snapshot's uncommitted edits,
// then refreshes. With nothing uncommitted it does nothing.
func (v *View) Cancel(ctx context.Context) error {
	return v.finish(ctx, v.tracker.Cancel)
}

func (v *View) finish(ctx context.Context, fn func(context.Context, TransactionSet) error) error {
	snap := v.Snapshot()
	if snap == nil || snap.Transaction.Empty() {
		return nil
	}
	if err := fn(ctx, snap.Transaction); err != nil {
		return err
	}
	v.Refresh()
	return nil
}

// CancelScan stops a running fallback scan. Rows found so far are kept.
func (v *View) CancelScan() {
	if v.scanner != nil {
		v.scanner.Stop()
	}
}

// Close stops the actor and waits for every worker to return.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancel()
		v.box.Close()
		<-v.actorDone
		v.workers.Wait()
	})
}

// setTarget switches the view and recomputes its columns.
func (v *View) setTarget(t *target) {
	v.target = t
	v.initSeq++
	v.pass++ // results of in-flight passes are now stale
	v.setState(StateInitializing)

	seq := v.initSeq
	v.goWorker(func() {
		var (
			u   *Unified
			err error
		)
		if t.mode == ModeAssemblage {
			u, err = v.unifier.Project(v.ctx, t.nid)
		} else {
			u, err = v.unifier.Unify(v.ctx, t.nid)
		}
		v.post(func(v *View) { v.columnsReady(seq, u, err) })
	})
}

func (v *View) columnsReady(seq int64, u *Unified, err error) {
	if seq != v.initSeq {
		return
	}
	if err != nil {
		v.logger.Error("column initialization failed", "target", v.target.nid, "mode", v.target.mode.String(), "error", err)
		// The previous target's columns must not be reused for this one.
		v.unified = nil
		v.columns = nil
		v.setState(StateIdle)
		v.release(math.MaxInt64)
		v.listener.OnError(err)
		return
	}

	v.unified = u
	v.columns = BuildColumns(u, v.target.mode)
	v.filters.Rebuild()
	for _, c := range v.columns {
		v.filters.Bind(c.ID)
	}
	v.setState(StateIdle)
	if len(u.Cycles) > 0 {
		v.listener.OnError(cycleError(&model.Chronicle{NID: u.Cycles[0]}))
	}
	v.materialize()
}

func (v *View) refresh() {
	switch v.state {
	case StateInitializing:
		v.logger.Debug("refresh suppressed during initialization")
	case StateMaterializing:
		v.setState(StateRefreshQueued)
	case StateRefreshQueued:
	case StateIdle:
		switch {
		case v.target == nil:
		case v.unified == nil:
			// Column initialization failed; retry it.
			v.setTarget(v.target)
		default:
			v.materialize()
		}
	}
}

// materialize starts a pass from an immutable copy of the actor's state.
func (v *View) materialize() {
	v.pass++
	pass := v.pass
	v.setState(StateMaterializing)

	t := *v.target
	hint := t.hint
	columns := v.columns
	history := v.history
	filters := v.filters.Snapshot()
	u := v.unified

	label := ""
	if s, ok := u.Schema(t.nid); ok {
		label = s.Name
	}

	v.goWorker(func() {
		ctx := v.ctx
		var (
			chronicles []*model.Chronicle
			err        error
		)
		switch t.mode {
		case ModeAssemblage:
			chronicles, err = v.reconciler.Members(ctx, MembersRequest{
				Assemblage: t.nid,
				Label:      label,
				Hint:       hint,
				Prompt:     v.prompt,
				Progress:   v.progress,
			})
		default:
			chronicles, err = v.deps.Store.Annotations(ctx, t.nid)
		}

		var partial error
		if err != nil {
			if !IsScanFailure(err) {
				v.post(func(v *View) { v.failed(pass, err) })
				return
			}
			partial = err
		}

		rows, err := v.materializer.Materialize(ctx, chronicles, history, filters.Predicate(ctx, v.renderer, columns))
		if err != nil {
			v.post(func(v *View) { v.failed(pass, err) })
			return
		}

		snap := &Snapshot{
			Pass:         pass,
			Mode:         t.mode,
			Target:       t.nid,
			History:      history,
			Columns:      columns,
			Rows:         rows,
			Transaction:  CollectTransaction(rows),
			Unusable:     u.Unusable,
			Cycles:       u.Cycles,
			NoDataFields: u.NoDataFields,
			Err:          partial,
		}
		v.post(func(v *View) { v.materialized(pass, snap) })
	})
}

func (v *View) materialized(pass int64, snap *Snapshot) {
	if pass != v.pass {
		return
	}
	v.snapshot.Store(snap)
	v.listener.OnSnapshot(snap)
	if snap.Err != nil {
		v.listener.OnError(snap.Err)
	}
	v.release(pass)
	v.finishPass()
}

func (v *View) failed(pass int64, err error) {
	if pass != v.pass {
		return
	}
	if !errors.Is(err, context.Canceled) {
		v.logger.Error("materialization failed", "target", v.target.nid, "error", err)
	}
	v.listener.OnError(err)
	v.release(pass)
	v.finishPass()
}

func (v *View) finishPass() {
	if v.state == StateRefreshQueued {
		v.setState(StateIdle)
		v.materialize()
		return
	}
	v.setState(StateIdle)
}

// prompt asks the listener on the actor and waits on the worker.
func (v *View) prompt(ctx context.Context, question string) (bool, error) {
	d := newDecision()
	if !v.post(func(v *View) { v.listener.Confirm(question, d.Resolve) }) {
		return false, ErrViewClosed
	}
	return d.Await(ctx)
}

func (v *View) progress(done, total int) {
	v.post(func(v *View) { v.listener.OnScanProgress(done, total) })
}

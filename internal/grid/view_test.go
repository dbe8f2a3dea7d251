package grid

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refexgrid/internal/model"
)

const waitTimeout = 2 * time.Second

// recorder is a Listener that forwards every event to a buffered channel.
type recorder struct {
	snaps     chan *Snapshot
	errs      chan error
	cells     chan CellUpdate
	progress  chan [2]int
	questions chan string

	approve atomic.Bool
}

func newRecorder() *recorder {
	return &recorder{
		snaps:     make(chan *Snapshot, 64),
		errs:      make(chan error, 64),
		cells:     make(chan CellUpdate, 64),
		progress:  make(chan [2]int, 256),
		questions: make(chan string, 8),
	}
}

func (r *recorder) OnSnapshot(s *Snapshot) { r.snaps <- s }
func (r *recorder) OnCell(u CellUpdate) { r.cells <- u }
func (r *recorder) OnError(err error) { r.errs <- err }
func (r *recorder) OnScanProgress(done, total int) { r.progress <- [2]int{done, total} }

func (r *recorder) Confirm(question string, reply func(bool)) {
	r.questions <- question
	reply(r.approve.Load())
}

func (r *recorder) nextSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	select {
	case s := <-r.snaps:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a snapshot")
		return nil
	}
}

func (r *recorder) nextError(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.errs:
		return err
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for an error")
		return nil
	}
}

func (r *recorder) nextCell(t *testing.T) CellUpdate {
	t.Helper()
	select {
	case u := <-r.cells:
		return u
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a cell")
		return CellUpdate{}
	}
}

func (r *recorder) noSnapshot(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case s := <-r.snaps:
		t.Fatalf("unexpected snapshot for pass %d", s.Pass)
	case <-time.After(within):
	}
}

func newTestView(t *testing.T, deps Deps, opts Options) (*View, *recorder) {
	t.Helper()
	rec := newRecorder()
	v := NewView(deps, opts, rec)
	t.Cleanup(v.Close)
	return v, rec
}

func labelledComponent() (*memStore, model.NID, model.NID) {
	s := newMemStore()
	comp := s.addConcept("Aspirin")
	asm := s.addAssemblage("Labels", model.StyleAnnotation, colSpec{name: "Name", typ: model.TypeString})
	s.addRefex(asm, comp,
		versionAt(10, model.StatusActive, model.DynString("A0")),
		versionAt(20, model.StatusActive, model.DynString("A")),
	)
	s.addRefex(asm, comp, committed(model.DynString("B")))
	return s, comp, asm
}

func TestView_ComponentSnapshot(t *testing.T) {
	s, comp, _ := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	snap := rec.nextSnapshot(t)

	assert.Equal(t, ModeComponent, snap.Mode)
	assert.Equal(t, comp, snap.Target)
	assert.Equal(t, []string{"Assemblage", "Name", "Status", "Time", "Author", "Module", "Path"}, columnNames(snap.Columns))
	assert.Len(t, snap.Rows, 2)
	assert.False(t, snap.Transaction.HasUncommitted)
	assert.Same(t, snap, v.Snapshot())
	assert.Eventually(t, func() bool { return v.State() == StateIdle }, waitTimeout, time.Millisecond)
}

func TestView_HistoryToggle(t *testing.T) {
	s, comp, _ := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	first := rec.nextSnapshot(t)
	require.Len(t, first.Rows, 2)

	v.SetShowFullHistory(true)
	snap := rec.nextSnapshot(t)
	assert.Len(t, snap.Rows, 3)
	assert.True(t, snap.History.ShowFullHistory)
	assert.Greater(t, snap.Pass, first.Pass)
}

func TestView_FilterRefresh(t *testing.T) {
	s, comp, _ := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	snap := rec.nextSnapshot(t)
	name, ok := FindColumnByName(snap.Columns, "Name")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B"}, v.FilterCandidates(context.Background(), name.ID))

	v.SetFilter(name.ID, []string{"A"})
	snap = rec.nextSnapshot(t)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, model.DynString("A"), snap.Rows[0].Data()[0])

	values, err := v.Filter(context.Background(), name.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, values)

	v.ClearFilters()
	snap = rec.nextSnapshot(t)
	assert.Len(t, snap.Rows, 2)
	values, err = v.Filter(context.Background(), name.ID)
	require.NoError(t, err)
	assert.Empty(t, values)
}

func TestView_FilterSurvivesRetarget(t *testing.T) {
	s, comp, asm := labelledComponent()
	other := s.addConcept("Ibuprofen")
	s.addRefex(asm, other, committed(model.DynString("A")))
	s.addRefex(asm, other, committed(model.DynString("C")))
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	snap := rec.nextSnapshot(t)
	name, _ := FindColumnByName(snap.Columns, "Name")
	v.SetFilter(name.ID, []string{"A"})
	require.Len(t, rec.nextSnapshot(t).Rows, 1)

	v.SetComponent(other)
	snap = rec.nextSnapshot(t)
	assert.Equal(t, other, snap.Target)
	require.Len(t, snap.Rows, 1, "the same column keeps its filter")
	assert.Equal(t, model.DynString("A"), snap.Rows[0].Data()[0])
}

func TestView_SortedRows(t *testing.T) {
	s, comp, _ := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	snap := rec.nextSnapshot(t)
	name, _ := FindColumnByName(snap.Columns, "Name")

	sorted := v.SortedRows(name.ID, true)
	require.Len(t, sorted, 2)
	assert.Equal(t, model.DynString("B"), sorted[0].Data()[0])
	assert.Equal(t, model.DynString("A"), sorted[1].Data()[0])
}

func TestView_RequestCell(t *testing.T) {
	s, comp, _ := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	snap := rec.nextSnapshot(t)
	row := snap.Rows[0]

	name, _ := FindColumnByName(snap.Columns, "Name")
	v.RequestCell(row, name.ID)
	u := rec.nextCell(t)
	assert.Equal(t, "A", u.Text)
	assert.False(t, u.Pending)

	v.RequestCell(row, BuiltinColumnID(BuiltinAssemblage))
	u = rec.nextCell(t)
	assert.True(t, u.Pending)
	assert.Equal(t, LoadingPlaceholder, u.Text)
	u = rec.nextCell(t)
	assert.False(t, u.Pending)
	assert.Equal(t, "Labels", u.Text)
	assert.Same(t, row, u.Row)
}

func TestView_RefreshCoalescing(t *testing.T) {
	s, comp, _ := labelledComponent()
	var gated atomic.Bool
	release := make(chan struct{})
	s.annotationsHook = func(nid model.NID) {
		if nid == comp && gated.Load() {
			<-release
		}
	}
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	first := rec.nextSnapshot(t)

	gated.Store(true)
	v.Refresh()
	require.Eventually(t, func() bool { return v.State() == StateMaterializing }, waitTimeout, time.Millisecond)
	v.Refresh()
	v.Refresh()
	v.Refresh()
	require.Eventually(t, func() bool { return v.State() == StateRefreshQueued }, waitTimeout, time.Millisecond)

	gated.Store(false)
	close(release)

	second := rec.nextSnapshot(t)
	third := rec.nextSnapshot(t)
	assert.Greater(t, second.Pass, first.Pass)
	assert.Greater(t, third.Pass, second.Pass)
	rec.noSnapshot(t, 100*time.Millisecond)
	assert.Equal(t, StateIdle, v.State())
}

func TestView_RetargetDropsStaleResults(t *testing.T) {
	s, comp, asm := labelledComponent()
	other := s.addConcept("Ibuprofen")
	s.addRefex(asm, other, committed(model.DynString("X")))

	release := make(chan struct{})
	var blockOnce atomic.Bool
	s.annotationsHook = func(nid model.NID) {
		if nid == comp && blockOnce.CompareAndSwap(false, true) {
			<-release
		}
	}
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	require.Eventually(t, func() bool { return blockOnce.Load() }, waitTimeout, time.Millisecond)
	v.SetComponent(other)
	snap := rec.nextSnapshot(t)
	assert.Equal(t, other, snap.Target)

	close(release)
	rec.noSnapshot(t, 100*time.Millisecond)
	assert.Equal(t, other, v.Snapshot().Target)
}

func TestView_IndexedAssemblage(t *testing.T) {
	s, asm := scanStore(t)
	ix := newFakeIndex()
	ix.indexed[asm] = true
	ix.members[asm] = []model.NID{3, 5}
	v, rec := newTestView(t, Deps{Store: s, Schemas: s, Index: ix, Source: s}, Options{})

	v.SetAssemblage(asm, nil)
	snap := rec.nextSnapshot(t)
	assert.Equal(t, ModeAssemblage, snap.Mode)
	assert.Equal(t, []model.NID{3, 5}, nids(snap.Rows))
	assert.True(t, snap.NoDataFields)
	assert.Equal(t, "Component", snap.Columns[0].Name)
	assert.Empty(t, rec.questions)
}

func TestView_ScanPrompt(t *testing.T) {
	s, asm := scanStore(t)
	v, rec := newTestView(t, Deps{Store: s, Schemas: s, Source: s}, Options{ScanParallelism: 2})

	rec.approve.Store(true)
	v.SetAssemblage(asm, nil)
	snap := rec.nextSnapshot(t)
	assert.Len(t, snap.Rows, 8)
	assert.Contains(t, <-rec.questions, `"Members"`)
	assert.NotEmpty(t, rec.progress)

	rec.approve.Store(false)
	v.Refresh()
	snap = rec.nextSnapshot(t)
	assert.Empty(t, snap.Rows, "a declined scan shows only the hint")
}

func TestView_ScanFailureKeepsPartialRows(t *testing.T) {
	s, asm := scanStore(t)
	s.componentErr[7] = assert.AnError
	v, rec := newTestView(t, Deps{Store: s, Schemas: s, Source: s}, Options{ScanParallelism: 1})

	rec.approve.Store(true)
	v.SetAssemblage(asm, nil)
	snap := rec.nextSnapshot(t)
	assert.Equal(t, []model.NID{3, 4, 5, 6}, nids(snap.Rows))
	require.Error(t, snap.Err)
	assert.True(t, IsScanFailure(rec.nextError(t)))
}

func TestView_StageCommitFlow(t *testing.T) {
	s := newMemStore()
	asm := s.addAssemblage("Workflow", model.StyleMember, colSpec{name: "Instructions", typ: model.TypeString})
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetAssemblage(asm, nil)
	require.Empty(t, rec.nextSnapshot(t).Rows)

	ctx := context.Background()
	refex := model.NewRefex(s.uuids.Next(), asm, asm, model.Stamp{Status: model.StatusActive}, model.DynString("A"))
	require.NoError(t, v.Stage(ctx, refex))
	require.NotZero(t, refex.NID)

	snap := rec.nextSnapshot(t)
	require.Equal(t, []model.NID{refex.NID}, nids(snap.Rows), "the staged refex is shown through its hint")
	assert.True(t, v.HasUncommitted())

	require.NoError(t, v.Commit(ctx))
	assert.Contains(t, s.commitCalls(), asm)

	snap = rec.nextSnapshot(t)
	require.Len(t, snap.Rows, 1)
	assert.False(t, v.HasUncommitted())
}

func TestView_StageWaitsForIndexGeneration(t *testing.T) {
	s := newMemStore()
	asm := s.addAssemblage("Workflow", model.StyleMember, colSpec{name: "Instructions", typ: model.TypeString})
	ix := newFakeIndex()
	ix.indexed[asm] = true
	v, rec := newTestView(t, Deps{Store: s, Schemas: s, Index: ix}, Options{})

	v.SetAssemblage(asm, nil)
	rec.nextSnapshot(t)

	refex := model.NewRefex(s.uuids.Next(), asm, asm, model.Stamp{Status: model.StatusActive}, model.DynString("A"))
	require.NoError(t, v.Stage(context.Background(), refex))
	snap := rec.nextSnapshot(t)

	assert.Equal(t, []model.NID{refex.NID}, nids(snap.Rows))
	assert.Equal(t, []int64{0, 1}, ix.waits())
}

func TestView_CancelDiscardsStagedRefex(t *testing.T) {
	s, comp, asm := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	rec.nextSnapshot(t)

	ctx := context.Background()
	refex := model.NewRefex(s.uuids.Next(), asm, comp, model.Stamp{Status: model.StatusActive}, model.DynString("C"))
	require.NoError(t, v.Stage(ctx, refex))
	require.Len(t, rec.nextSnapshot(t).Rows, 3)

	require.NoError(t, v.Cancel(ctx))
	assert.Equal(t, []model.NID{comp}, s.cancelCalls())
	assert.Len(t, rec.nextSnapshot(t).Rows, 2)
}

func TestView_CommitRightAfterStage(t *testing.T) {
	s, comp, asm := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(comp)
	rec.nextSnapshot(t)

	ctx := context.Background()
	refex := model.NewRefex(s.uuids.Next(), asm, comp, model.Stamp{Status: model.StatusActive}, model.DynString("C"))
	require.NoError(t, v.Stage(ctx, refex))
	assert.True(t, v.HasUncommitted(), "Stage returns after its snapshot is published")

	require.NoError(t, v.Commit(ctx))
	assert.Equal(t, []model.NID{comp}, s.commitCalls())
}

func TestView_FailedRetargetRecomputesColumns(t *testing.T) {
	s, first, _ := labelledComponent()
	second := s.addConcept("Ibuprofen")
	codes := s.addAssemblage("Codes", model.StyleAnnotation, colSpec{name: "Code", typ: model.TypeString})
	s.addRefex(codes, second, committed(model.DynString("M01AE01")))
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(first)
	require.Contains(t, columnNames(rec.nextSnapshot(t).Columns), "Name")

	s.mu.Lock()
	s.componentErr[second] = assert.AnError
	s.mu.Unlock()
	v.SetComponent(second)
	assert.ErrorIs(t, rec.nextError(t), assert.AnError)
	rec.noSnapshot(t, 50*time.Millisecond)

	s.mu.Lock()
	delete(s.componentErr, second)
	s.mu.Unlock()
	v.Refresh()

	snap := rec.nextSnapshot(t)
	assert.Equal(t, second, snap.Target)
	assert.Equal(t, []string{"Assemblage", "Code", "Status", "Time", "Author", "Module", "Path"}, columnNames(snap.Columns))
	require.Len(t, snap.Rows, 1)
}

func TestView_CommitWithNothingUncommitted(t *testing.T) {
	s, comp, _ := labelledComponent()
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	require.NoError(t, v.Commit(context.Background()), "no snapshot yet")

	v.SetComponent(comp)
	rec.nextSnapshot(t)
	require.NoError(t, v.Commit(context.Background()))
	assert.Empty(t, s.commitCalls())
	rec.noSnapshot(t, 50*time.Millisecond)
}

func TestView_ReportsCycles(t *testing.T) {
	s := newMemStore()
	asm := s.addAssemblage("Loop", model.StyleAnnotation)
	r0 := s.addRefex(asm, 0, committed())
	r1 := s.addRefex(asm, r0, committed())
	s.components[r0].ReferencedNID = r1
	v, rec := newTestView(t, Deps{Store: s, Schemas: s}, Options{})

	v.SetComponent(r0)
	err := rec.nextError(t)
	assert.True(t, IsAnnotationCycle(err))
	snap := rec.nextSnapshot(t)
	assert.Equal(t, []model.NID{r0}, snap.Cycles)
}

func TestView_Close(t *testing.T) {
	s, comp, _ := labelledComponent()
	v := NewView(Deps{Store: s, Schemas: s}, Options{}, nil)
	v.SetComponent(comp)
	v.Close()
	v.Close()

	_, err := v.Filter(context.Background(), BuiltinColumnID(BuiltinStatus))
	assert.ErrorIs(t, err, ErrViewClosed)
}

package store

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refexgrid/internal/model"
)

func TestCreateConcept(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	nid, err := s.CreateConcept(ctx, id, "Heart", activeStamp(10))
	require.NoError(t, err)

	c, err := s.Component(ctx, nid)
	require.NoError(t, err)
	assert.Equal(t, id, c.UUID)
	assert.Equal(t, model.KindConcept, c.Kind)
	assert.Equal(t, nid, c.EnclosingNID, "concepts enclose themselves")
	require.Len(t, c.Versions, 1)
	assert.True(t, c.Versions[0].Committed)
	assert.Equal(t, int64(10), c.Versions[0].Stamp.Time)
}

func TestCreateConcept_DuplicateUUID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := s.CreateConcept(ctx, id, "a", activeStamp(1))
	require.NoError(t, err)
	_, err = s.CreateConcept(ctx, id, "b", activeStamp(1))
	assert.Error(t, err)
}

func TestDefineAssemblage_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	asm := mustConcept(t, s, "Bad")
	col := mustConcept(t, s, "Column")

	err := s.DefineAssemblage(ctx, model.AssemblageSchema{
		NID:     asm,
		Columns: []model.ColumnInfo{{ColumnNID: col, Order: 1, Type: model.TypeString}},
	})
	assert.Error(t, err, "orders must start at 0")

	err = s.DefineAssemblage(ctx, model.AssemblageSchema{
		NID:     asm,
		Columns: []model.ColumnInfo{{ColumnNID: col, Order: 0}},
	})
	assert.Error(t, err, "columns need a type")
}

func TestAddUncommitted_Annotation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	concept := mustConcept(t, s, "Target")
	asm := mustAssemblage(t, s, "Notes", model.StyleAnnotation, model.TypeString)

	r := model.NewRefex(uuid.New(), asm, concept, activeStamp(5), model.DynString("hello"))
	require.NoError(t, s.AddUncommitted(ctx, r))

	assert.NotZero(t, r.NID)
	assert.Equal(t, concept, r.EnclosingNID)
	require.Len(t, r.Versions, 1)
	assert.NotZero(t, r.Versions[0].ID)

	got, err := s.Component(ctx, r.NID)
	require.NoError(t, err)
	assert.True(t, got.Uncommitted())
	assert.Equal(t, []model.Data{model.DynString("hello")}, got.Versions[0].Data)
}

func TestAddUncommitted_NestedEnclosure(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	concept := mustConcept(t, s, "Target")
	asm := mustAssemblage(t, s, "Notes", model.StyleAnnotation, model.TypeString)

	outer := model.NewRefex(uuid.New(), asm, concept, activeStamp(5), model.DynString("outer"))
	require.NoError(t, s.AddUncommitted(ctx, outer))

	inner := model.NewRefex(uuid.New(), asm, outer.NID, activeStamp(6), model.DynString("inner"))
	require.NoError(t, s.AddUncommitted(ctx, inner))
	assert.Equal(t, concept, inner.EnclosingNID, "a refex on a refex shares its concept")
}

func TestAddUncommitted_MemberStyle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	concept := mustConcept(t, s, "Target")
	asm := mustAssemblage(t, s, "Members", model.StyleMember)

	r := model.NewRefex(uuid.New(), asm, concept, activeStamp(5))
	require.NoError(t, s.AddUncommitted(ctx, r))
	assert.Equal(t, asm, r.EnclosingNID)
}

func TestAddUncommitted_NewVersionOnExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	concept := mustConcept(t, s, "Target")
	asm := mustAssemblage(t, s, "Notes", model.StyleAnnotation, model.TypeString)

	r := model.NewRefex(uuid.New(), asm, concept, activeStamp(5), model.DynString("v1"))
	require.NoError(t, s.AddUncommitted(ctx, r))
	require.NoError(t, s.Commit(ctx, r.NID))

	// Re-stage through a fresh chronicle that knows only the UUID.
	edit := model.NewRefex(r.UUID, asm, concept, activeStamp(9), model.DynString("v2"))
	require.NoError(t, s.AddUncommitted(ctx, edit))
	assert.Equal(t, r.NID, edit.NID)

	got, err := s.Component(ctx, r.NID)
	require.NoError(t, err)
	require.Len(t, got.Versions, 2)
	assert.True(t, got.Versions[0].Committed)
	assert.False(t, got.Versions[1].Committed)
}

func TestAddUncommitted_UnknownAssemblage(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	concept := mustConcept(t, s, "Target")
	plain := mustConcept(t, s, "Not an assemblage")

	err := s.AddUncommitted(ctx, model.NewRefex(uuid.New(), plain, concept, activeStamp(1)))
	assert.ErrorIs(t, err, ErrNotAssemblage)
}

func TestAddUncommitted_UnknownReferenced(t *testing.T) {
	s := createTestStore(t)
	asm := mustAssemblage(t, s, "Notes", model.StyleAnnotation)

	err := s.AddUncommitted(context.Background(), model.NewRefex(uuid.New(), asm, 9999, activeStamp(1)))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCommit(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	concept := mustConcept(t, s, "Target")
	asm := mustAssemblage(t, s, "Notes", model.StyleAnnotation, model.TypeString)

	a := model.NewRefex(uuid.New(), asm, concept, activeStamp(5), model.DynString("a"))
	b := model.NewRefex(uuid.New(), asm, concept, activeStamp(6), model.DynString("b"))
	require.NoError(t, s.AddUncommitted(ctx, a))
	require.NoError(t, s.AddUncommitted(ctx, b))

	// Committing through the concept covers both refexes.
	require.NoError(t, s.Commit(ctx, concept))

	for _, nid := range []model.NID{a.NID, b.NID} {
		c, err := s.Component(ctx, nid)
		require.NoError(t, err)
		assert.False(t, c.Uncommitted(), "nid %d", nid)
	}
}

func TestCommit_UnknownNID(t *testing.T) {
	s := createTestStore(t)
	err := s.Commit(context.Background(), 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCancel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	concept := mustConcept(t, s, "Target")
	asm := mustAssemblage(t, s, "Notes", model.StyleAnnotation, model.TypeString)

	kept := model.NewRefex(uuid.New(), asm, concept, activeStamp(5), model.DynString("kept"))
	require.NoError(t, s.AddUncommitted(ctx, kept))
	require.NoError(t, s.Commit(ctx, kept.NID))

	edit := model.NewRefex(kept.UUID, asm, concept, activeStamp(7), model.DynString("edit"))
	require.NoError(t, s.AddUncommitted(ctx, edit))

	fresh := model.NewRefex(uuid.New(), asm, concept, activeStamp(8), model.DynString("fresh"))
	require.NoError(t, s.AddUncommitted(ctx, fresh))

	require.NoError(t, s.Cancel(ctx, fresh.NID))

	got, err := s.Component(ctx, kept.NID)
	require.NoError(t, err)
	require.Len(t, got.Versions, 1, "the staged edit is discarded")
	assert.Equal(t, []model.Data{model.DynString("kept")}, got.Versions[0].Data)

	_, err = s.Component(ctx, fresh.NID)
	assert.ErrorIs(t, err, ErrNotFound, "a component with no versions left is removed")

	c, err := s.Component(ctx, concept)
	require.NoError(t, err, "the enclosing concept keeps its committed version")
	assert.Len(t, c.Versions, 1)
}

func TestWaitTillWritesFinished(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.WaitTillWritesFinished(context.Background()))

	s.writes.begin()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.WaitTillWritesFinished(ctx), context.Canceled)
	s.writes.end()

	require.NoError(t, s.WaitTillWritesFinished(context.Background()))
}

package grid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refexgrid/internal/model"
)

func TestUnify_NestedDiscoveryOrder(t *testing.T) {
	s := newMemStore()
	comp := s.addConcept("Aspirin")
	outer := s.addAssemblage("Outer", model.StyleAnnotation, colSpec{name: "Note", typ: model.TypeString})
	inner := s.addAssemblage("Inner", model.StyleAnnotation, colSpec{name: "Score", typ: model.TypeDouble})

	r1 := s.addRefex(outer, comp, committed(model.DynString("n")))
	s.addRefex(inner, r1, committed(model.DynDouble(0.5)))

	u, err := NewUnifier(s, s, nil).Unify(context.Background(), comp)
	require.NoError(t, err)

	assert.Equal(t, []model.NID{outer, inner}, u.Assemblages)
	assert.Empty(t, u.Unusable)
	assert.Empty(t, u.Cycles)
	assert.False(t, u.NoDataFields)

	schema, ok := u.Schema(inner)
	require.True(t, ok)
	assert.Equal(t, "Inner", schema.Name)
}

func TestUnify_ReadsEachSchemaOnce(t *testing.T) {
	s := newMemStore()
	comp := s.addConcept("Aspirin")
	asm := s.addAssemblage("Labels", model.StyleAnnotation, colSpec{name: "Name", typ: model.TypeString})
	s.addRefex(asm, comp, committed(model.DynString("a")))
	s.addRefex(asm, comp, committed(model.DynString("b")))

	u, err := NewUnifier(s, s, nil).Unify(context.Background(), comp)
	require.NoError(t, err)

	assert.Equal(t, []model.NID{asm}, u.Assemblages)
	assert.Equal(t, 1, s.schemaReads[asm])
	assert.Len(t, u.ByConcept[s.column(asm, 0)][asm], 1)
}

func TestUnify_Deterministic(t *testing.T) {
	s := newMemStore()
	comp := s.addConcept("Aspirin")
	var asms []model.NID
	for _, name := range []string{"A", "B", "C", "D"} {
		asm := s.addAssemblage(name, model.StyleAnnotation, colSpec{name: name + " value", typ: model.TypeString})
		s.addRefex(asm, comp, committed(model.DynString(name)))
		asms = append(asms, asm)
	}

	unifier := NewUnifier(s, s, nil)
	first, err := unifier.Unify(context.Background(), comp)
	require.NoError(t, err)
	second, err := unifier.Unify(context.Background(), comp)
	require.NoError(t, err)

	assert.Equal(t, asms, first.Assemblages)
	assert.Equal(t, first.Assemblages, second.Assemblages)
	assert.Equal(t, columnNames(BuildColumns(first, ModeComponent)), columnNames(BuildColumns(second, ModeComponent)))
}

func TestUnify_UnusableSchema(t *testing.T) {
	s := newMemStore()
	comp := s.addConcept("Aspirin")
	plain := s.addConcept("Plain")
	s.addRefex(plain, comp, committed())

	u, err := NewUnifier(s, s, nil).Unify(context.Background(), comp)
	require.NoError(t, err)

	require.Contains(t, u.Unusable, plain)
	assert.True(t, IsSchemaError(u.Unusable[plain]))
	assert.Empty(t, u.Assemblages)
}

func TestUnify_CycleIsRecordedNotFollowed(t *testing.T) {
	s := newMemStore()
	asm := s.addAssemblage("Loop", model.StyleAnnotation)

	// r0 and r1 reference each other.
	r0 := s.addRefex(asm, 0, committed())
	r1 := s.addRefex(asm, r0, committed())
	s.components[r0].ReferencedNID = r1

	u, err := NewUnifier(s, s, nil).Unify(context.Background(), r0)
	require.NoError(t, err)
	assert.Equal(t, []model.NID{r0}, u.Cycles)
	assert.Equal(t, []model.NID{asm}, u.Assemblages)
}

func TestUnify_AnnotationErrorFails(t *testing.T) {
	s := newMemStore()
	comp := s.addConcept("Aspirin")
	s.componentErr[comp] = errors.New("disk gone")

	_, err := NewUnifier(s, s, nil).Unify(context.Background(), comp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk gone")
}

func TestUnify_CancelledContext(t *testing.T) {
	s := newMemStore()
	comp := s.addConcept("Aspirin")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewUnifier(s, s, nil).Unify(ctx, comp)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProject(t *testing.T) {
	s := newMemStore()
	empty := s.addAssemblage("Empty", model.StyleMember)
	full := s.addAssemblage("Full", model.StyleMember, colSpec{name: "Value", typ: model.TypeLong})
	plain := s.addConcept("Plain")

	u, err := NewUnifier(s, s, nil).Project(context.Background(), empty)
	require.NoError(t, err)
	assert.True(t, u.NoDataFields)

	u, err = NewUnifier(s, s, nil).Project(context.Background(), full)
	require.NoError(t, err)
	assert.False(t, u.NoDataFields)
	assert.Equal(t, []model.NID{full}, u.Assemblages)

	u, err = NewUnifier(s, s, nil).Project(context.Background(), plain)
	require.NoError(t, err)
	assert.Contains(t, u.Unusable, plain)
	assert.False(t, u.NoDataFields)
}

package grid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refexgrid/internal/model"
)

func TestHint_GenerationIsUsedOnce(t *testing.T) {
	h := NewHint(7, 3)
	assert.Equal(t, model.NID(7), h.NID())
	assert.Equal(t, int64(3), h.take())
	assert.Equal(t, int64(0), h.take())
	assert.Equal(t, model.NID(7), h.NID(), "the NID survives")

	var nilHint *Hint
	assert.Equal(t, model.NID(0), nilHint.NID())
	assert.Equal(t, int64(0), nilHint.take())
}

func TestDecision(t *testing.T) {
	d := newDecision()
	go d.Resolve(true)
	ok, err := d.Await(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	d = newDecision()
	d.Resolve(false)
	d.Resolve(true)
	ok, err = d.Await(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "only the first answer counts")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = newDecision().Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReconciler_IndexedPath(t *testing.T) {
	s, asm := scanStore(t)
	ix := newFakeIndex()
	ix.indexed[asm] = true
	ix.members[asm] = []model.NID{3, 4, 99, 1}

	prompted := false
	rc := NewReconciler(s, ix, NewFullScanner(s, 1, nil), 0, nil)
	members, err := rc.Members(context.Background(), MembersRequest{
		Assemblage: asm,
		Hint:       NewHint(4, 12),
		Prompt: func(context.Context, string) (bool, error) {
			prompted = true
			return true, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.NID{3, 4}, chronicleNIDs(members), "missing and non-member entries are skipped")
	assert.False(t, prompted)

	_, err = rc.Members(context.Background(), MembersRequest{Assemblage: asm})
	require.NoError(t, err)
	assert.Equal(t, []int64{12, 0}, ix.waits())
}

func TestReconciler_IndexedPathHonorsLimit(t *testing.T) {
	s, asm := scanStore(t)
	ix := newFakeIndex()
	ix.indexed[asm] = true
	ix.members[asm] = []model.NID{3, 4, 5}

	members, err := NewReconciler(s, ix, nil, 2, nil).Members(context.Background(), MembersRequest{Assemblage: asm})
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestReconciler_IndexQueryError(t *testing.T) {
	s, asm := scanStore(t)
	ix := newFakeIndex()
	ix.indexed[asm] = true
	ix.queryErr = errors.New("index closed")

	_, err := NewReconciler(s, ix, nil, 0, nil).Members(context.Background(), MembersRequest{Assemblage: asm})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "index closed")
}

func TestReconciler_ScanApproved(t *testing.T) {
	s, asm := scanStore(t)

	var question string
	rc := NewReconciler(s, newFakeIndex(), NewFullScanner(s, 2, nil), 0, nil)
	members, err := rc.Members(context.Background(), MembersRequest{
		Assemblage: asm,
		Label:      "Members",
		Prompt: func(_ context.Context, q string) (bool, error) {
			question = q
			return true, nil
		},
	})
	require.NoError(t, err)
	assert.Len(t, members, 8)
	assert.Contains(t, question, `"Members"`)
}

func TestReconciler_ScanDeclinedUsesHint(t *testing.T) {
	s, asm := scanStore(t)
	decline := func(context.Context, string) (bool, error) { return false, nil }
	rc := NewReconciler(s, nil, NewFullScanner(s, 2, nil), 0, nil)

	members, err := rc.Members(context.Background(), MembersRequest{Assemblage: asm, Prompt: decline, Hint: NewHint(6, 0)})
	require.NoError(t, err)
	assert.Equal(t, []model.NID{6}, chronicleNIDs(members))

	members, err = rc.Members(context.Background(), MembersRequest{Assemblage: asm, Prompt: decline})
	require.NoError(t, err)
	assert.NotNil(t, members)
	assert.Empty(t, members)

	members, err = rc.Members(context.Background(), MembersRequest{Assemblage: asm, Prompt: decline, Hint: NewHint(1, 0)})
	require.NoError(t, err)
	assert.Empty(t, members, "a hint outside the assemblage is ignored")
}

func TestReconciler_NoScannerSkipsPrompt(t *testing.T) {
	s, asm := scanStore(t)
	members, err := NewReconciler(s, nil, nil, 0, nil).Members(context.Background(), MembersRequest{
		Assemblage: asm,
		Hint:       NewHint(3, 0),
		Prompt: func(context.Context, string) (bool, error) {
			t.Fatal("prompted without a scanner")
			return false, nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []model.NID{3}, chronicleNIDs(members))
}

func TestReconciler_PromptError(t *testing.T) {
	s, asm := scanStore(t)
	_, err := NewReconciler(s, nil, NewFullScanner(s, 1, nil), 0, nil).Members(context.Background(), MembersRequest{
		Assemblage: asm,
		Prompt:     func(context.Context, string) (bool, error) { return false, context.Canceled },
	})
	assert.ErrorIs(t, err, context.Canceled)
}

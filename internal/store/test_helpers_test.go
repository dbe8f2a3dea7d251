package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/roach88/refexgrid/internal/model"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func activeStamp(time int64) model.Stamp {
	return model.Stamp{Status: model.StatusActive, Time: time}
}

// mustConcept creates a committed concept and returns its NID.
func mustConcept(t *testing.T, s *Store, description string) model.NID {
	t.Helper()
	nid, err := s.CreateConcept(context.Background(), uuid.New(), description, activeStamp(1))
	require.NoError(t, err)
	return nid
}

// mustAssemblage creates an assemblage concept with one column per type.
func mustAssemblage(t *testing.T, s *Store, name string, style model.Style, types ...model.DataType) model.NID {
	t.Helper()
	ctx := context.Background()
	asm := mustConcept(t, s, name)

	schema := model.AssemblageSchema{NID: asm, Style: style}
	for i, typ := range types {
		col := mustConcept(t, s, name+" column "+typ.String())
		schema.Columns = append(schema.Columns, model.ColumnInfo{
			AssemblageNID: asm,
			ColumnNID:     col,
			Order:         i,
			Type:          typ,
		})
	}
	require.NoError(t, s.DefineAssemblage(ctx, schema))
	return asm
}

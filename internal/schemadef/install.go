package schemadef

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
)

// Definer is the part of the store an Installer writes to.
type Definer interface {
	CreateConcept(ctx context.Context, id uuid.UUID, description string, stamp model.Stamp) (model.NID, error)
	DefineAssemblage(ctx context.Context, schema model.AssemblageSchema) error
}

// Installer creates the concepts and assemblage schemas of compiled
// definitions.
type Installer struct {
	Store Definer
	Stamp model.Stamp

	// NewUUID generates identities for definitions without a uuid and for
	// column concepts. Defaults to uuid.New.
	NewUUID func() uuid.UUID

	// Concepts maps preferred descriptions to existing concept NIDs. Column
	// concepts found here are reused; new ones are added to it.
	Concepts map[string]model.NID
}

// Install defines every assemblage in order and returns their NIDs by name.
func (in *Installer) Install(ctx context.Context, defs []AssemblageDef) (map[string]model.NID, error) {
	if in.NewUUID == nil {
		in.NewUUID = uuid.New
	}
	if in.Concepts == nil {
		in.Concepts = make(map[string]model.NID)
	}

	out := make(map[string]model.NID, len(defs))
	for _, def := range defs {
		nid, err := in.install(ctx, def)
		if err != nil {
			return out, fmt.Errorf("install assemblage %s: %w", def.Name, err)
		}
		out[def.Name] = nid
	}
	return out, nil
}

func (in *Installer) install(ctx context.Context, def AssemblageDef) (model.NID, error) {
	id := def.UUID
	if id == uuid.Nil {
		id = in.NewUUID()
	}
	asm, err := in.Store.CreateConcept(ctx, id, def.Name, in.Stamp)
	if err != nil {
		return 0, err
	}
	in.Concepts[def.Name] = asm

	schema := model.AssemblageSchema{
		NID:     asm,
		UUID:    id,
		Name:    def.Name,
		Style:   def.Style,
		Indexed: def.Indexed,
	}
	for i, col := range def.Columns {
		concept, err := in.concept(ctx, col.Concept)
		if err != nil {
			return 0, fmt.Errorf("column %d: %w", i, err)
		}
		schema.Columns = append(schema.Columns, model.ColumnInfo{
			AssemblageNID: asm,
			ColumnNID:     concept,
			Name:          col.Concept,
			Order:         i,
			Type:          col.Type,
			Description:   col.Description,
			Default:       col.Default,
		})
	}
	if err := in.Store.DefineAssemblage(ctx, schema); err != nil {
		return 0, err
	}
	return asm, nil
}

// concept returns the NID of a column concept, creating it on first use.
func (in *Installer) concept(ctx context.Context, name string) (model.NID, error) {
	if nid, ok := in.Concepts[name]; ok {
		return nid, nil
	}
	nid, err := in.Store.CreateConcept(ctx, in.NewUUID(), name, in.Stamp)
	if err != nil {
		return 0, err
	}
	in.Concepts[name] = nid
	return nid, nil
}

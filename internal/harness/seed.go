package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
	"github.com/roach88/refexgrid/internal/schemadef"
)

// Store is the part of the terminology store a Seeder writes to.
type Store interface {
	schemadef.Definer
	Component(ctx context.Context, nid model.NID) (*model.Chronicle, error)
	ReadAssemblageSchema(ctx context.Context, nid model.NID) (*model.AssemblageSchema, error)
	AddUncommitted(ctx context.Context, c *model.Chronicle) error
	Commit(ctx context.Context, nid model.NID) error
}

// Seeder writes fixtures into a store.
type Seeder struct {
	Store Store

	// DefinedAt stamps concepts and assemblages. Zero uses Now.
	DefinedAt int64

	// Now stamps refex versions that carry no time. Defaults to the wall
	// clock in unix milliseconds.
	Now func() int64

	// NewUUID defaults to uuid.New.
	NewUUID func() uuid.UUID

	Logger *slog.Logger
}

// Seeded records what a fixture created, by name.
type Seeded struct {
	Concepts    map[string]model.NID
	Assemblages map[string]*model.AssemblageSchema
	Refexes     map[string]model.NID

	// uuids caches component identities used by UUID columns.
	uuids map[model.NID]uuid.UUID
}

// Lookup resolves a concept name or refex id.
func (s *Seeded) Lookup(name string) (model.NID, bool) {
	if nid, ok := s.Refexes[name]; ok {
		return nid, true
	}
	nid, ok := s.Concepts[name]
	return nid, ok
}

// pendingVersion is a refex version waiting to be written.
type pendingVersion struct {
	c *model.Chronicle
	v model.Version
}

// Seed creates the fixture's concepts, then its assemblages, then its
// refexes. Committed versions are written and committed first, in
// declaration order; uncommitted versions are staged afterwards so that
// commits never pick them up.
func (sd *Seeder) Seed(ctx context.Context, f *Fixture) (*Seeded, error) {
	sd.defaults()
	stamp := model.Stamp{Status: model.StatusActive, Time: sd.DefinedAt}
	if stamp.Time == 0 {
		stamp.Time = sd.Now()
	}

	out := &Seeded{
		Concepts:    make(map[string]model.NID),
		Assemblages: make(map[string]*model.AssemblageSchema),
		Refexes:     make(map[string]model.NID),
		uuids:       make(map[model.NID]uuid.UUID),
	}

	for _, name := range f.Concepts {
		if _, ok := out.Concepts[name]; ok {
			return nil, fmt.Errorf("seed: duplicate concept %q", name)
		}
		id := sd.NewUUID()
		nid, err := sd.Store.CreateConcept(ctx, id, name, stamp)
		if err != nil {
			return nil, fmt.Errorf("seed concept %s: %w", name, err)
		}
		out.Concepts[name] = nid
		out.uuids[nid] = id
	}

	defs, err := assemblageDefs(f)
	if err != nil {
		return nil, err
	}
	installer := &schemadef.Installer{
		Store:    sd.Store,
		Stamp:    stamp,
		NewUUID:  sd.NewUUID,
		Concepts: out.Concepts,
	}
	installed, err := installer.Install(ctx, defs)
	if err != nil {
		return nil, fmt.Errorf("seed: %w", err)
	}
	for _, def := range defs {
		schema, err := sd.Store.ReadAssemblageSchema(ctx, installed[def.Name])
		if err != nil {
			return nil, fmt.Errorf("seed assemblage %s: %w", def.Name, err)
		}
		out.Assemblages[def.Name] = schema
		out.uuids[schema.NID] = schema.UUID
	}

	refStamp, err := sd.versionStamp(out, f.Stamp)
	if err != nil {
		return nil, err
	}

	chronicles := make([]*model.Chronicle, len(f.Refexes))
	var staged []pendingVersion
	for i := range f.Refexes {
		spec := &f.Refexes[i]
		c, versions, err := sd.buildRefex(ctx, out, spec, refStamp)
		if err != nil {
			return nil, fmt.Errorf("seed refex %d (%s): %w", i, spec.ID, err)
		}
		chronicles[i] = c

		for j, v := range versions {
			if spec.Versions[j].Uncommitted {
				staged = append(staged, pendingVersion{c: c, v: v})
				continue
			}
			c.Versions = append(c.Versions, v)
			if err := sd.Store.AddUncommitted(ctx, c); err != nil {
				return nil, fmt.Errorf("seed refex %s: %w", spec.ID, err)
			}
			if err := sd.Store.Commit(ctx, c.NID); err != nil {
				return nil, fmt.Errorf("seed refex %s: %w", spec.ID, err)
			}
		}
		if c.NID != 0 && spec.ID != "" {
			out.Refexes[spec.ID] = c.NID
		}
	}

	for _, p := range staged {
		p.c.Versions = append(p.c.Versions, p.v)
		if err := sd.Store.AddUncommitted(ctx, p.c); err != nil {
			return nil, fmt.Errorf("seed staged version: %w", err)
		}
	}
	for i, spec := range f.Refexes {
		if spec.ID != "" {
			out.Refexes[spec.ID] = chronicles[i].NID
		}
	}

	sd.Logger.Debug("fixture seeded",
		"concepts", len(out.Concepts),
		"assemblages", len(out.Assemblages),
		"refexes", len(f.Refexes),
		"staged", len(staged))
	return out, nil
}

func (sd *Seeder) defaults() {
	if sd.Now == nil {
		sd.Now = func() int64 { return time.Now().UnixMilli() }
	}
	if sd.NewUUID == nil {
		sd.NewUUID = uuid.New
	}
	if sd.Logger == nil {
		sd.Logger = slog.Default()
	}
}

// assemblageDefs compiles the schema file and the inline assemblages.
func assemblageDefs(f *Fixture) ([]schemadef.AssemblageDef, error) {
	var defs []schemadef.AssemblageDef
	if f.SchemaFile != "" {
		loaded, err := schemadef.LoadFile(f.SchemaFile)
		if err != nil {
			return nil, fmt.Errorf("seed schema file %s: %w", f.SchemaFile, err)
		}
		defs = append(defs, loaded...)
	}

	for _, a := range f.Assemblages {
		def := schemadef.AssemblageDef{
			Name:        a.Name,
			Description: a.Description,
			Style:       model.StyleAnnotation,
			Indexed:     a.Indexed,
			Columns:     []schemadef.ColumnDef{},
		}
		if def.Description == "" {
			def.Description = a.Name
		}
		if a.UUID != "" {
			id, err := uuid.Parse(a.UUID)
			if err != nil {
				return nil, fmt.Errorf("assemblage %s: uuid: %w", a.Name, err)
			}
			def.UUID = id
		}
		if a.Style != "" {
			style, err := model.ParseStyle(a.Style)
			if err != nil {
				return nil, fmt.Errorf("assemblage %s: %w", a.Name, err)
			}
			def.Style = style
		}
		for i, c := range a.Columns {
			typ, err := model.ParseDataType(c.Type)
			if err != nil {
				return nil, fmt.Errorf("assemblage %s: column %d: %w", a.Name, i, err)
			}
			col := schemadef.ColumnDef{Concept: c.Concept, Type: typ, Description: c.Description}
			if c.Default != "" {
				if col.Default, err = model.ParseData(typ, c.Default); err != nil {
					return nil, fmt.Errorf("assemblage %s: column %d default: %w", a.Name, i, err)
				}
			}
			def.Columns = append(def.Columns, col)
		}
		defs = append(defs, def)
	}

	seen := make(map[string]bool, len(defs))
	for _, d := range defs {
		if seen[d.Name] {
			return nil, fmt.Errorf("seed: duplicate assemblage %q", d.Name)
		}
		seen[d.Name] = true
	}
	return defs, nil
}

func (sd *Seeder) versionStamp(s *Seeded, spec StampSpec) (model.Stamp, error) {
	var st model.Stamp
	for _, f := range []struct {
		name string
		dst  *model.NID
	}{
		{spec.Author, &st.Author},
		{spec.Module, &st.Module},
		{spec.Path, &st.Path},
	} {
		if f.name == "" {
			continue
		}
		nid, ok := s.Concepts[f.name]
		if !ok {
			return st, fmt.Errorf("seed stamp: unknown concept %q", f.name)
		}
		*f.dst = nid
	}
	return st, nil
}

// BuildRefex resolves a refex definition against seeded names. The returned
// chronicle has no versions; they are returned in order, each stamped
// from base.
func (sd *Seeder) BuildRefex(ctx context.Context, s *Seeded, spec *RefexSpec, base model.Stamp) (*model.Chronicle, []model.Version, error) {
	sd.defaults()
	return sd.buildRefex(ctx, s, spec, base)
}

func (sd *Seeder) buildRefex(ctx context.Context, s *Seeded, spec *RefexSpec, base model.Stamp) (*model.Chronicle, []model.Version, error) {
	schema, ok := s.Assemblages[spec.Assemblage]
	if !ok {
		return nil, nil, fmt.Errorf("unknown assemblage %q", spec.Assemblage)
	}
	referenced, ok := s.Lookup(spec.Referenced)
	if !ok || referenced == 0 {
		return nil, nil, fmt.Errorf("unknown referenced component %q", spec.Referenced)
	}

	c := &model.Chronicle{
		UUID:          sd.NewUUID(),
		Kind:          model.KindRefex,
		AssemblageNID: schema.NID,
		ReferencedNID: referenced,
	}

	versions := make([]model.Version, 0, len(spec.Versions))
	for i, vs := range spec.Versions {
		status, err := model.ParseStatus(vs.Status)
		if err != nil {
			return nil, nil, fmt.Errorf("versions[%d]: %w", i, err)
		}
		if len(vs.Values) > len(schema.Columns) {
			return nil, nil, fmt.Errorf("versions[%d]: %d values for %d columns", i, len(vs.Values), len(schema.Columns))
		}

		st := base
		st.Status = status
		st.Time = vs.Time
		if st.Time == 0 {
			st.Time = sd.Now()
		}

		data := make([]model.Data, len(vs.Values))
		for j, raw := range vs.Values {
			if data[j], err = sd.value(ctx, s, schema.Columns[j].Type, raw); err != nil {
				return nil, nil, fmt.Errorf("versions[%d] column %s: %w", i, schema.Columns[j].Name, err)
			}
		}
		versions = append(versions, model.Version{Stamp: st, Data: data})
	}
	return c, versions, nil
}

// value converts one YAML value for a column type. Null stays unset.
func (sd *Seeder) value(ctx context.Context, s *Seeded, typ model.DataType, raw any) (model.Data, error) {
	if raw == nil {
		return nil, nil
	}
	text := fmt.Sprint(raw)

	switch typ {
	case model.TypeNID:
		if nid, ok := s.Lookup(text); ok {
			return model.DynNID(nid), nil
		}
	case model.TypeUUID:
		if nid, ok := s.Lookup(text); ok {
			id, err := sd.identity(ctx, s, nid)
			if err != nil {
				return nil, err
			}
			return model.DynUUID(id), nil
		}
	}
	return model.ParseData(typ, text)
}

func (sd *Seeder) identity(ctx context.Context, s *Seeded, nid model.NID) (uuid.UUID, error) {
	if id, ok := s.uuids[nid]; ok {
		return id, nil
	}
	c, err := sd.Store.Component(ctx, nid)
	if err != nil {
		return uuid.Nil, fmt.Errorf("identity of %d: %w", nid, err)
	}
	s.uuids[nid] = c.UUID
	return c.UUID, nil
}

package grid

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
	"github.com/roach88/refexgrid/internal/testutil"
)

// memStore is an in-memory Store, SchemaRegistry and ComponentSource.
// Reads return deep copies so tests observe the same isolation as the
// SQLite store.
type memStore struct {
	mu sync.Mutex

	uuids        *testutil.UUIDSequence
	clock        *testutil.DeterministicClock
	nextNID      model.NID
	components   map[model.NID]*model.Chronicle
	descriptions map[model.NID]string
	schemas      map[model.NID]*model.AssemblageSchema

	schemaReads map[model.NID]int
	commits     []model.NID
	cancels     []model.NID
	waits       int

	commitErr    error
	cancelErr    error
	componentErr map[model.NID]error

	// annotationsHook runs before every Annotations call, outside the lock.
	annotationsHook func(nid model.NID)
	// componentHook runs before every Component call, outside the lock.
	componentHook func(nid model.NID)
}

func newMemStore() *memStore {
	return &memStore{
		uuids:        testutil.NewUUIDSequence(),
		clock:        testutil.NewDeterministicClock(),
		nextNID:      1,
		components:   make(map[model.NID]*model.Chronicle),
		descriptions: make(map[model.NID]string),
		schemas:      make(map[model.NID]*model.AssemblageSchema),
		schemaReads:  make(map[model.NID]int),
		componentErr: make(map[model.NID]error),
	}
}

func cloneChronicle(c *model.Chronicle) *model.Chronicle {
	cp := *c
	cp.Versions = make([]model.Version, len(c.Versions))
	for i, v := range c.Versions {
		v.Data = slices.Clone(v.Data)
		cp.Versions[i] = v
	}
	return &cp
}

func (m *memStore) allocate() model.NID {
	nid := m.nextNID
	m.nextNID++
	return nid
}

// addConcept creates a committed concept with a preferred description.
func (m *memStore) addConcept(desc string) model.NID {
	m.mu.Lock()
	defer m.mu.Unlock()
	nid := m.allocate()
	m.components[nid] = &model.Chronicle{
		NID:          nid,
		UUID:         m.uuids.Next(),
		Kind:         model.KindConcept,
		EnclosingNID: nid,
		Versions: []model.Version{{
			ID:        int64(nid),
			Stamp:     model.Stamp{Status: model.StatusActive, Time: m.clock.Next()},
			Committed: true,
		}},
	}
	m.descriptions[nid] = desc
	return nid
}

type colSpec struct {
	name string
	typ  model.DataType
	// concept reuses an existing column concept; 0 creates one from name.
	concept model.NID
	def     model.Data
}

// addAssemblage creates an assemblage concept and its schema.
func (m *memStore) addAssemblage(name string, style model.Style, cols ...colSpec) model.NID {
	asm := m.addConcept(name)

	m.mu.Lock()
	defer m.mu.Unlock()
	schema := &model.AssemblageSchema{
		NID:   asm,
		UUID:  m.components[asm].UUID,
		Name:  name,
		Style: style,
	}
	for i, spec := range cols {
		concept := spec.concept
		if concept == 0 {
			concept = m.allocate()
			m.components[concept] = &model.Chronicle{
				NID: concept, UUID: m.uuids.Next(), Kind: model.KindConcept, EnclosingNID: concept,
				Versions: []model.Version{{Stamp: model.Stamp{Status: model.StatusActive, Time: m.clock.Next()}, Committed: true}},
			}
			m.descriptions[concept] = spec.name
		}
		schema.Columns = append(schema.Columns, model.ColumnInfo{
			AssemblageNID: asm,
			ColumnNID:     concept,
			ColumnUUID:    m.components[concept].UUID,
			Name:          m.descriptions[concept],
			Order:         i,
			Type:          spec.typ,
			Default:       spec.def,
		})
	}
	m.schemas[asm] = schema
	return asm
}

// column returns the concept NID of an assemblage's i-th column.
func (m *memStore) column(asm model.NID, i int) model.NID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schemas[asm].Columns[i].ColumnNID
}

func (m *memStore) columnUUID(asm model.NID, i int) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schemas[asm].Columns[i].ColumnUUID
}

// addRefex stores a refex with the given versions and returns its NID.
// Versions without a stamp time get one from the clock.
func (m *memStore) addRefex(asm, referenced model.NID, versions ...model.Version) model.NID {
	m.mu.Lock()
	defer m.mu.Unlock()
	nid := m.allocate()
	c := &model.Chronicle{
		NID:           nid,
		UUID:          m.uuids.Next(),
		Kind:          model.KindRefex,
		AssemblageNID: asm,
		ReferencedNID: referenced,
		EnclosingNID:  referenced,
	}
	for i, v := range versions {
		if v.Stamp.Time == 0 {
			v.Stamp.Time = m.clock.Next()
		}
		if v.Stamp.Status == 0 {
			v.Stamp.Status = model.StatusActive
		}
		v.ID = int64(nid)*100 + int64(i)
		c.Versions = append(c.Versions, v)
	}
	m.components[nid] = c
	return nid
}

// committed builds a committed active version.
func committed(data ...model.Data) model.Version {
	return model.Version{Committed: true, Data: data}
}

func versionAt(t int64, status model.Status, data ...model.Data) model.Version {
	return model.Version{Committed: true, Stamp: model.Stamp{Status: status, Time: t}, Data: data}
}

func (m *memStore) Component(ctx context.Context, nid model.NID) (*model.Chronicle, error) {
	if m.componentHook != nil {
		m.componentHook(nid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.componentErr[nid]; err != nil {
		return nil, err
	}
	c, ok := m.components[nid]
	if !ok {
		return nil, fmt.Errorf("component %d: not found", nid)
	}
	return cloneChronicle(c), nil
}

func (m *memStore) ComponentByUUID(ctx context.Context, id uuid.UUID) (*model.Chronicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.components {
		if c.UUID == id {
			return cloneChronicle(c), nil
		}
	}
	return nil, fmt.Errorf("component %s: not found", id)
}

func (m *memStore) Annotations(ctx context.Context, nid model.NID) ([]*model.Chronicle, error) {
	if m.annotationsHook != nil {
		m.annotationsHook(nid)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.componentErr[nid]; err != nil {
		return nil, err
	}
	out := []*model.Chronicle{}
	for _, c := range m.components {
		if c.IsRefex() && c.ReferencedNID == nid {
			out = append(out, cloneChronicle(c))
		}
	}
	slices.SortFunc(out, func(a, b *model.Chronicle) int { return int(a.NID - b.NID) })
	return out, nil
}

func (m *memStore) ConceptVersion(ctx context.Context, vc model.ViewCoordinate, nid model.NID) (*model.ConceptVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.components[nid]
	if !ok {
		return nil, fmt.Errorf("concept %d: not found", nid)
	}
	return &model.ConceptVersion{NID: nid, UUID: c.UUID, Description: m.descriptions[nid], Status: model.StatusActive}, nil
}

func (m *memStore) AddUncommitted(ctx context.Context, c *model.Chronicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.NID == 0 {
		c.NID = m.allocate()
	}
	if c.UUID == uuid.Nil {
		c.UUID = m.uuids.Next()
	}
	if c.EnclosingNID == 0 {
		c.EnclosingNID = c.ReferencedNID
	}
	for i := range c.Versions {
		if c.Versions[i].Stamp.Time == 0 {
			c.Versions[i].Stamp.Time = m.clock.Next()
		}
	}
	if existing, ok := m.components[c.NID]; ok {
		for _, v := range c.Versions {
			existing.Append(v)
		}
		return nil
	}
	m.components[c.NID] = cloneChronicle(c)
	return nil
}

// enclosedBy reports whether a commit or cancel of nid covers c.
func (m *memStore) enclosedBy(c *model.Chronicle, nid model.NID) bool {
	if c.NID == nid || c.EnclosingNID == nid {
		return true
	}
	s, ok := m.schemas[c.AssemblageNID]
	return ok && s.Style == model.StyleMember && c.AssemblageNID == nid
}

func (m *memStore) Commit(ctx context.Context, nid model.NID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, nid)
	if m.commitErr != nil {
		return m.commitErr
	}
	for _, c := range m.components {
		if !m.enclosedBy(c, nid) {
			continue
		}
		for i := range c.Versions {
			c.Versions[i].Committed = true
		}
	}
	return nil
}

func (m *memStore) Cancel(ctx context.Context, nid model.NID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels = append(m.cancels, nid)
	if m.cancelErr != nil {
		return m.cancelErr
	}
	for id, c := range m.components {
		if !m.enclosedBy(c, nid) {
			continue
		}
		kept := c.Versions[:0]
		for _, v := range c.Versions {
			if v.Committed {
				kept = append(kept, v)
			}
		}
		c.Versions = kept
		if len(kept) == 0 {
			delete(m.components, id)
		}
	}
	return nil
}

func (m *memStore) WaitTillWritesFinished(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.waits++
	return nil
}

func (m *memStore) ReadAssemblageSchema(ctx context.Context, nid model.NID) (*model.AssemblageSchema, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schemaReads[nid]++
	s, ok := m.schemas[nid]
	if !ok {
		return nil, fmt.Errorf("concept %d is not configured as an assemblage", nid)
	}
	cp := *s
	cp.Columns = slices.Clone(s.Columns)
	return &cp, nil
}

func (m *memStore) NIDs(ctx context.Context) ([]model.NID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.NID, 0, len(m.components))
	for nid := range m.components {
		out = append(out, nid)
	}
	slices.Sort(out)
	return out, nil
}

func (m *memStore) commitCalls() []model.NID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.commits)
}

func (m *memStore) cancelCalls() []model.NID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.cancels)
}

// fakeIndex is an Index and Indexer over an explicit membership table.
type fakeIndex struct {
	mu       sync.Mutex
	indexed  map[model.NID]bool
	members  map[model.NID][]model.NID
	gen      int64
	waited   []int64
	queryErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{indexed: map[model.NID]bool{}, members: map[model.NID][]model.NID{}}
}

func (f *fakeIndex) IsAssemblageIndexed(asm model.NID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.indexed[asm]
}

func (f *fakeIndex) QueryAssemblageUsage(ctx context.Context, asm model.NID, limit int, waitGen int64) ([]model.NID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waited = append(f.waited, waitGen)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	out := slices.Clone(f.members[asm])
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeIndex) Submit(c *model.Chronicle) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
	f.members[c.AssemblageNID] = append(f.members[c.AssemblageNID], c.NID)
	return f.gen, nil
}

func (f *fakeIndex) waits() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.waited)
}

func nids(rows []*Row) []model.NID {
	out := make([]model.NID, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.NID())
	}
	return out
}

func chronicleNIDs(cs []*model.Chronicle) []model.NID {
	out := make([]model.NID, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.NID)
	}
	return out
}

func mustAnnotations(t *testing.T, s *memStore, nid model.NID) []*model.Chronicle {
	t.Helper()
	cs, err := s.Annotations(context.Background(), nid)
	if err != nil {
		t.Fatalf("annotations of %d: %v", nid, err)
	}
	return cs
}

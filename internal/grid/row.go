package grid

import (
	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
)

// Row is one node of the grid tree: a refex version with its current flag,
// or a placeholder for a row that is not yet persisted. Rows are immutable
// once built; callers must not modify slices they return.
type Row struct {
	chronicle *model.Chronicle
	version   *model.Version
	current   bool

	placeholder           bool
	referenceNID          model.NID
	referenceIsAssemblage bool

	children []*Row
}

func newRow(c *model.Chronicle, v *model.Version, current bool, children []*Row) *Row {
	return &Row{chronicle: c, version: v, current: current, children: children}
}

// NewPlaceholderRow builds a row that stands for a refex not yet created.
// referenceNID is the assemblage when isAssemblage is true, otherwise the
// component the new refex will annotate.
func NewPlaceholderRow(referenceNID model.NID, isAssemblage bool) *Row {
	return &Row{
		placeholder:           true,
		referenceNID:          referenceNID,
		referenceIsAssemblage: isAssemblage,
	}
}

// IsPlaceholder reports whether the row has no stored refex behind it.
func (r *Row) IsPlaceholder() bool { return r.placeholder }

// Chronicle returns the refex chronicle, or nil for a placeholder.
func (r *Row) Chronicle() *model.Chronicle { return r.chronicle }

// Version returns the refex version shown by the row, or nil.
func (r *Row) Version() *model.Version { return r.version }

// Current reports whether this is the newest version of its refex.
func (r *Row) Current() bool { return r.current }

// Children returns the rows of nested annotations.
func (r *Row) Children() []*Row { return r.children }

// NID returns the refex NID, or 0 for a placeholder.
func (r *Row) NID() model.NID {
	if r.chronicle == nil {
		return 0
	}
	return r.chronicle.NID
}

// UUID returns the refex's primordial UUID.
func (r *Row) UUID() uuid.UUID {
	if r.chronicle == nil {
		return uuid.Nil
	}
	return r.chronicle.UUID
}

// AssemblageNID returns the assemblage the row conforms to.
func (r *Row) AssemblageNID() model.NID {
	if r.placeholder {
		if r.referenceIsAssemblage {
			return r.referenceNID
		}
		return 0
	}
	return r.chronicle.AssemblageNID
}

// ReferencedNID returns the component the row annotates.
func (r *Row) ReferencedNID() model.NID {
	if r.placeholder {
		if r.referenceIsAssemblage {
			return 0
		}
		return r.referenceNID
	}
	return r.chronicle.ReferencedNID
}

// Stamp returns the version stamp; the zero Stamp for a placeholder.
func (r *Row) Stamp() model.Stamp {
	if r.version == nil {
		return model.Stamp{}
	}
	return r.version.Stamp
}

// Data returns the version's column values.
func (r *Row) Data() []model.Data {
	if r.version == nil {
		return nil
	}
	return r.version.Data
}

// Uncommitted reports whether the row's refex carries uncommitted edits.
func (r *Row) Uncommitted() bool {
	return r.chronicle != nil && r.chronicle.Uncommitted()
}

// Value returns the row's value for a column. The second result is false
// when the row has no value there, for example because it belongs to an
// assemblage that does not contribute to the column.
func (r *Row) Value(col Column) (model.Data, bool) {
	switch col.ID.Builtin {
	case BuiltinComponent:
		return nidValue(r.ReferencedNID())
	case BuiltinAssemblage:
		return nidValue(r.AssemblageNID())
	}
	if r.version == nil {
		return nil, false
	}

	st := r.version.Stamp
	switch col.ID.Builtin {
	case BuiltinStatus:
		return model.DynString(st.Status.String()), true
	case BuiltinTime:
		return model.DynLong(st.Time), true
	case BuiltinAuthor:
		return nidValue(st.Author)
	case BuiltinModule:
		return nidValue(st.Module)
	case BuiltinPath:
		return nidValue(st.Path)
	case BuiltinNone:
	default:
		return nil, false
	}

	info, ok := col.Source(r.AssemblageNID())
	if !ok {
		return nil, false
	}
	data := r.version.Data
	if info.Order < len(data) && data[info.Order] != nil {
		return data[info.Order], true
	}
	if info.Default != nil {
		return info.Default, true
	}
	return nil, false
}

func nidValue(nid model.NID) (model.Data, bool) {
	if nid == 0 {
		return nil, false
	}
	return model.DynNID(nid), true
}

// withChildren returns a shallow copy of r with a new child list.
func (r *Row) withChildren(children []*Row) *Row {
	cp := *r
	cp.children = children
	return &cp
}

// Walk visits every row of a tree depth first, parents before children.
func Walk(rows []*Row, fn func(r *Row, depth int)) {
	var visit func([]*Row, int)
	visit = func(rows []*Row, depth int) {
		for _, r := range rows {
			fn(r, depth)
			visit(r.children, depth+1)
		}
	}
	visit(rows, 0)
}

// CountRows returns the number of rows in a tree, nested rows included.
func CountRows(rows []*Row) int {
	n := 0
	Walk(rows, func(*Row, int) { n++ })
	return n
}

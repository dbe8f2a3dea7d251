package grid

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
)

// BuiltinColumn names a column that every grid shows regardless of schema.
type BuiltinColumn int

const (
	// BuiltinNone marks a data column.
	BuiltinNone BuiltinColumn = iota
	BuiltinComponent
	BuiltinAssemblage
	BuiltinStatus
	BuiltinTime
	BuiltinAuthor
	BuiltinModule
	BuiltinPath
)

var builtinNames = map[BuiltinColumn]string{
	BuiltinComponent:  "Component",
	BuiltinAssemblage: "Assemblage",
	BuiltinStatus:     "Status",
	BuiltinTime:       "Time",
	BuiltinAuthor:     "Author",
	BuiltinModule:     "Module",
	BuiltinPath:       "Path",
}

// String returns the column header of a builtin.
func (b BuiltinColumn) String() string {
	if name, ok := builtinNames[b]; ok {
		return name
	}
	return fmt.Sprintf("builtin(%d)", int(b))
}

// ColumnID identifies a grid column across rebuilds. A data column is
// identified by its column description concept and the ordinal of that
// concept's occurrence within an assemblage; a builtin by its kind alone.
// ColumnID is comparable and is used as a map key.
type ColumnID struct {
	Concept uuid.UUID
	Builtin BuiltinColumn
	Ordinal int
}

// DataColumnID returns the identity of the ordinal-th use of a column
// concept.
func DataColumnID(concept uuid.UUID, ordinal int) ColumnID {
	return ColumnID{Concept: concept, Ordinal: ordinal}
}

// BuiltinColumnID returns the identity of a builtin column.
func BuiltinColumnID(b BuiltinColumn) ColumnID {
	return ColumnID{Builtin: b}
}

// IsBuiltin reports whether the column is a builtin.
func (id ColumnID) IsBuiltin() bool { return id.Builtin != BuiltinNone }

func (id ColumnID) String() string {
	if id.IsBuiltin() {
		return id.Builtin.String()
	}
	return fmt.Sprintf("%s#%d", id.Concept, id.Ordinal)
}

// Mode says what a view is showing.
type Mode int

const (
	// ModeComponent shows the annotations of one component.
	ModeComponent Mode = iota + 1
	// ModeAssemblage shows every member of one assemblage.
	ModeAssemblage
)

func (m Mode) String() string {
	switch m {
	case ModeComponent:
		return "component"
	case ModeAssemblage:
		return "assemblage"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Column is one grid column.
type Column struct {
	ID   ColumnID
	Name string
	Type model.DataType

	// Description is the column description from the first contributing
	// assemblage; empty for builtins.
	Description string

	// Sources maps each assemblage that contributes to this column to the
	// ColumnInfo giving the value's position. Nil for builtins.
	Sources map[model.NID]model.ColumnInfo
}

// Source returns the ColumnInfo of the column for one assemblage.
func (c Column) Source(assemblage model.NID) (model.ColumnInfo, bool) {
	info, ok := c.Sources[assemblage]
	return info, ok
}

func builtinColumn(b BuiltinColumn) Column {
	typ := model.TypeNID
	switch b {
	case BuiltinStatus:
		typ = model.TypeString
	case BuiltinTime:
		typ = model.TypeLong
	}
	return Column{ID: BuiltinColumnID(b), Name: b.String(), Type: typ}
}

// trailingBuiltins close every column list, in this order.
var trailingBuiltins = []BuiltinColumn{
	BuiltinStatus,
	BuiltinTime,
	BuiltinAuthor,
	BuiltinModule,
	BuiltinPath,
}

// BuildColumns lays out the grid columns for a unified schema. Component
// mode leads with the assemblage of each row, assemblage mode with the
// referenced component. Data columns follow, one per (concept, ordinal),
// ordered by lowest column order, then name, then concept UUID. Columns
// whose sources disagree on type are polymorphic. Unusable assemblages
// contribute no data columns.
func BuildColumns(u *Unified, mode Mode) []Column {
	var cols []Column
	if mode == ModeAssemblage {
		cols = append(cols, builtinColumn(BuiltinComponent))
	} else {
		cols = append(cols, builtinColumn(BuiltinAssemblage))
	}

	type dataColumn struct {
		Column
		minOrder int
	}
	var data []dataColumn

	for _, byAsm := range u.ByConcept {
		// Merge the k-th occurrence of the concept across assemblages.
		merged := map[int]*dataColumn{}
		for _, asm := range u.Assemblages {
			infos, ok := byAsm[asm]
			if !ok {
				continue
			}
			for k, info := range infos {
				dc, ok := merged[k]
				if !ok {
					dc = &dataColumn{
						Column: Column{
							ID:          DataColumnID(info.ColumnUUID, k),
							Name:        info.Name,
							Type:        info.Type,
							Description: info.Description,
							Sources:     map[model.NID]model.ColumnInfo{},
						},
						minOrder: info.Order,
					}
					merged[k] = dc
				}
				dc.Sources[asm] = info
				dc.minOrder = min(dc.minOrder, info.Order)
				if dc.Type != info.Type {
					dc.Type = model.TypePolymorphic
				}
				if dc.Name == "" {
					dc.Name = info.Name
				}
			}
		}
		for _, dc := range merged {
			if dc.Name == "" {
				dc.Name = dc.ID.Concept.String()
			}
			data = append(data, *dc)
		}
	}

	slices.SortFunc(data, func(a, b dataColumn) int {
		return cmp.Or(
			cmp.Compare(a.minOrder, b.minOrder),
			cmp.Compare(a.Name, b.Name),
			cmp.Compare(a.ID.Concept.String(), b.ID.Concept.String()),
			cmp.Compare(a.ID.Ordinal, b.ID.Ordinal),
		)
	})
	for _, dc := range data {
		cols = append(cols, dc.Column)
	}

	for _, b := range trailingBuiltins {
		cols = append(cols, builtinColumn(b))
	}
	return cols
}

// FindColumn returns the column with the given identity.
func FindColumn(columns []Column, id ColumnID) (Column, bool) {
	for _, c := range columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// FindColumnByName returns the first column whose header matches name.
func FindColumnByName(columns []Column, name string) (Column, bool) {
	for _, c := range columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Package schemadef compiles assemblage schema definitions written in CUE.
//
// A definition file declares one struct per assemblage:
//
//	assemblage: Workflow: {
//		uuid:        "9e2c6b1a-3d4f-4a8e-b7c5-1f0e2d3c4b5a"
//		description: "Workflow instructions"
//		style:       "member"
//		indexed:     true
//		columns: [
//			{concept: "Instructions", type: "string"},
//			{concept: "EditCoordinate", type: "uuid", description: "Edit target"},
//		]
//	}
//
// Only columns is required. Column order is list order.
package schemadef

import (
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
)

// AssemblageDef is one compiled assemblage definition.
type AssemblageDef struct {
	Name string
	// UUID is uuid.Nil when the definition leaves it to the installer.
	UUID        uuid.UUID
	Description string
	Style       model.Style
	Indexed     bool
	Columns     []ColumnDef
}

// ColumnDef is one column of an assemblage definition.
type ColumnDef struct {
	// Concept is the preferred description of the column concept.
	Concept     string
	Type        model.DataType
	Description string
	Default     model.Data
}

// LoadFile reads and compiles a CUE definition file.
func LoadFile(path string) ([]AssemblageDef, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema file: %w", err)
	}
	return CompileString(string(src), path)
}

// CompileString compiles every assemblage declared in src, in declaration
// order. filename is used in error positions.
func CompileString(src, filename string) ([]AssemblageDef, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	asmVal := v.LookupPath(cue.ParsePath("assemblage"))
	if !asmVal.Exists() {
		return nil, &CompileError{
			Field:   "assemblage",
			Message: "no assemblage definitions found",
			Pos:     v.Pos(),
		}
	}

	iter, err := asmVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var defs []AssemblageDef
	for iter.Next() {
		def, err := CompileAssemblage(iter.Value())
		if err != nil {
			return nil, err
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// CompileAssemblage parses one assemblage struct. The assemblage name is
// the struct label.
func CompileAssemblage(v cue.Value) (*AssemblageDef, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &AssemblageDef{Style: model.StyleAnnotation}
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Name = labels[len(labels)-1].String()
	}
	def.Description = def.Name

	if s, ok, err := optionalString(v, "uuid"); err != nil {
		return nil, err
	} else if ok {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, &CompileError{Field: "uuid", Message: fmt.Sprintf("invalid uuid %q", s), Pos: v.LookupPath(cue.ParsePath("uuid")).Pos()}
		}
		def.UUID = id
	}

	if s, ok, err := optionalString(v, "description"); err != nil {
		return nil, err
	} else if ok {
		def.Description = s
	}

	if s, ok, err := optionalString(v, "style"); err != nil {
		return nil, err
	} else if ok {
		style, err := model.ParseStyle(s)
		if err != nil {
			return nil, &CompileError{Field: "style", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("style")).Pos()}
		}
		def.Style = style
	}

	if idxVal := v.LookupPath(cue.ParsePath("indexed")); idxVal.Exists() {
		indexed, err := idxVal.Bool()
		if err != nil {
			return nil, &CompileError{Field: "indexed", Message: "must be a boolean", Pos: idxVal.Pos()}
		}
		def.Indexed = indexed
	}

	columns, err := parseColumns(v)
	if err != nil {
		return nil, err
	}
	def.Columns = columns
	return def, nil
}

func parseColumns(v cue.Value) ([]ColumnDef, error) {
	colsVal := v.LookupPath(cue.ParsePath("columns"))
	if !colsVal.Exists() {
		return nil, &CompileError{
			Field:   "columns",
			Message: "columns is required (use [] for an assemblage without data fields)",
			Pos:     v.Pos(),
		}
	}

	iter, err := colsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	columns := []ColumnDef{}
	for iter.Next() {
		col, err := parseColumn(iter.Value())
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, nil
}

func parseColumn(v cue.Value) (ColumnDef, error) {
	var col ColumnDef

	concept, ok, err := optionalString(v, "concept")
	if err != nil {
		return col, err
	}
	if !ok || concept == "" {
		return col, &CompileError{Field: "columns.concept", Message: "concept is required", Pos: v.Pos()}
	}
	col.Concept = concept

	typeName, ok, err := optionalString(v, "type")
	if err != nil {
		return col, err
	}
	if !ok {
		return col, &CompileError{Field: "columns.type", Message: "type is required", Pos: v.Pos()}
	}
	typ, err := model.ParseDataType(typeName)
	if err != nil {
		return col, &CompileError{Field: "columns.type", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("type")).Pos()}
	}
	col.Type = typ

	if s, ok, err := optionalString(v, "description"); err != nil {
		return col, err
	} else if ok {
		col.Description = s
	}

	if defVal := v.LookupPath(cue.ParsePath("default")); defVal.Exists() {
		text, err := scalarText(defVal)
		if err != nil {
			return col, err
		}
		d, err := model.ParseData(typ, text)
		if err != nil {
			return col, &CompileError{Field: "columns.default", Message: err.Error(), Pos: defVal.Pos()}
		}
		col.Default = d
	}
	return col, nil
}

func optionalString(v cue.Value, field string) (string, bool, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", false, nil
	}
	s, err := fv.String()
	if err != nil {
		return "", false, &CompileError{Field: field, Message: "must be a string", Pos: fv.Pos()}
	}
	return s, true, nil
}

// scalarText renders a concrete CUE scalar the way model.ParseData reads it.
func scalarText(v cue.Value) (string, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatBool(b), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatInt(n, 10), nil
	case cue.FloatKind:
		f, err := v.Float64()
		if err != nil {
			return "", formatCUEError(err)
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	default:
		return "", &CompileError{
			Field:   "columns.default",
			Message: fmt.Sprintf("default must be a concrete scalar, got %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}
	return err
}

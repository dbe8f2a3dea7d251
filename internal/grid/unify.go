package grid

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/refexgrid/internal/model"
)

// Unified is the union of column schemas discovered for one view target.
type Unified struct {
	// ByConcept maps column concept NID, then assemblage NID, to the
	// ColumnInfo occurrences of that concept in that assemblage, in column
	// order. An assemblage's entry is written once, on first discovery.
	ByConcept map[model.NID]map[model.NID][]model.ColumnInfo

	// Assemblages lists usable assemblages in discovery order.
	Assemblages []model.NID
	Schemas     map[model.NID]*model.AssemblageSchema

	// Unusable holds the schema error of each assemblage that could not be
	// read. Their refexes still appear as rows, without data columns.
	Unusable map[model.NID]error

	// Cycles lists refex NIDs reached a second time during the walk.
	Cycles []model.NID

	// NoDataFields is set in assemblage mode when the schema defines zero
	// columns.
	NoDataFields bool
}

func newUnified() *Unified {
	return &Unified{
		ByConcept: make(map[model.NID]map[model.NID][]model.ColumnInfo),
		Schemas:   make(map[model.NID]*model.AssemblageSchema),
		Unusable:  make(map[model.NID]error),
	}
}

// Schema returns a usable assemblage schema discovered in the pass.
func (u *Unified) Schema(assemblage model.NID) (*model.AssemblageSchema, bool) {
	s, ok := u.Schemas[assemblage]
	return s, ok
}

// Unifier discovers the columns a grid needs.
type Unifier struct {
	store   Store
	schemas SchemaRegistry
	logger  *slog.Logger
}

// NewUnifier creates a Unifier.
func NewUnifier(store Store, schemas SchemaRegistry, logger *slog.Logger) *Unifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Unifier{store: store, schemas: schemas, logger: logger}
}

// Unify walks root's annotations depth first, and recursively their
// annotations, reading each assemblage schema once. A refex reached twice
// is logged, recorded in Cycles and not descended into again.
func (u *Unifier) Unify(ctx context.Context, root model.NID) (*Unified, error) {
	ctx, span := tracer.Start(ctx, "grid.Unify",
		trace.WithAttributes(attribute.Int("root", int(root))),
	)
	defer span.End()

	out := newUnified()
	visited := map[model.NID]bool{root: true}
	if err := u.walk(ctx, root, visited, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("assemblages", len(out.Assemblages)),
		attribute.Int("unusable", len(out.Unusable)),
	)
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (u *Unifier) walk(ctx context.Context, nid model.NID, visited map[model.NID]bool, out *Unified) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	annotations, err := u.store.Annotations(ctx, nid)
	if err != nil {
		return fmt.Errorf("unify: annotations of %d: %w", nid, err)
	}

	for _, r := range annotations {
		if visited[r.NID] {
			annotationCycles.Inc()
			u.logger.Warn("annotation reached twice", cycleError(r).LogAttrs()...)
			out.Cycles = append(out.Cycles, r.NID)
			continue
		}
		visited[r.NID] = true

		u.discover(ctx, r.AssemblageNID, out)
		if err := u.walk(ctx, r.NID, visited, out); err != nil {
			return err
		}
	}
	return nil
}

// Project reads a single assemblage's schema without walking any
// annotations. A schema error marks the assemblage unusable rather than
// failing.
func (u *Unifier) Project(ctx context.Context, assemblage model.NID) (*Unified, error) {
	ctx, span := tracer.Start(ctx, "grid.Project",
		trace.WithAttributes(attribute.Int("assemblage", int(assemblage))),
	)
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := newUnified()
	u.discover(ctx, assemblage, out)
	if s, ok := out.Schemas[assemblage]; ok && len(s.Columns) == 0 {
		out.NoDataFields = true
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// discover records an assemblage's columns the first time it is seen.
func (u *Unifier) discover(ctx context.Context, assemblage model.NID, out *Unified) {
	if _, ok := out.Schemas[assemblage]; ok {
		return
	}
	if _, ok := out.Unusable[assemblage]; ok {
		return
	}

	schema, err := u.schemas.ReadAssemblageSchema(ctx, assemblage)
	if err != nil {
		gerr := schemaError(assemblage, err)
		u.logger.Warn("assemblage schema unusable", gerr.LogAttrs()...)
		out.Unusable[assemblage] = gerr
		return
	}
	out.Schemas[assemblage] = schema
	out.Assemblages = append(out.Assemblages, assemblage)

	for _, col := range schema.Columns {
		col.AssemblageNID = assemblage
		byAsm, ok := out.ByConcept[col.ColumnNID]
		if !ok {
			byAsm = make(map[model.NID][]model.ColumnInfo)
			out.ByConcept[col.ColumnNID] = byAsm
		}
		byAsm[assemblage] = append(byAsm[assemblage], col)
	}
}

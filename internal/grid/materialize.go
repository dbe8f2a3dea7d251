package grid

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/roach88/refexgrid/internal/model"
)

// HistoryOptions gate which versions become rows.
type HistoryOptions struct {
	ShowFullHistory bool
	ActiveOnly      bool
}

// Predicate decides whether a row (and its subtree) is kept.
// A nil Predicate keeps every row.
type Predicate func(*Row) bool

// Materializer consolidates refex chronicles into a row tree.
type Materializer struct {
	store  Store
	logger *slog.Logger
}

// NewMaterializer creates a Materializer that loads nested annotations
// from store.
func NewMaterializer(store Store, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: store, logger: logger}
}

type versionRef struct {
	c *model.Chronicle
	v *model.Version
}

// Materialize builds the row tree for a set of chronicles. At every level
// it flattens all versions, groups them by UUID newest first,
// marks the first version of each UUID current, drops historical versions
// unless ShowFullHistory, drops inactive versions when ActiveOnly, and
// keeps a row only if accept passes. Nested annotations are materialized
// the same way for every kept row.
//
// Current marking is computed before either gate, so a refex whose newest
// version is inactive yields no row with ActiveOnly and without full
// history, even if an older version is active.
func (m *Materializer) Materialize(ctx context.Context, chronicles []*model.Chronicle, opts HistoryOptions, accept Predicate) ([]*Row, error) {
	ctx, span := tracer.Start(ctx, "grid.Materialize")
	defer span.End()
	start := time.Now()

	ancestors := map[model.NID]bool{}
	rows, err := m.level(ctx, chronicles, opts, accept, ancestors, map[model.NID][]*model.Chronicle{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	n := CountRows(rows)
	materializeDuration.Observe(time.Since(start).Seconds())
	rowsMaterialized.Add(float64(n))
	span.SetAttributes(attribute.Int("rows", n))
	span.SetStatus(codes.Ok, "")
	return rows, nil
}

func (m *Materializer) level(
	ctx context.Context,
	chronicles []*model.Chronicle,
	opts HistoryOptions,
	accept Predicate,
	ancestors map[model.NID]bool,
	annotations map[model.NID][]*model.Chronicle,
) ([]*Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var refs []versionRef
	for _, c := range chronicles {
		for i := range c.Versions {
			refs = append(refs, versionRef{c: c, v: &c.Versions[i]})
		}
	}
	sortNewestFirst(refs)

	rows := []*Row{}
	var (
		lastUUID uuid.UUID
		seen     bool
	)
	for _, ref := range refs {
		current := !seen || ref.c.UUID != lastUUID
		lastUUID, seen = ref.c.UUID, true

		if !current && !opts.ShowFullHistory {
			continue
		}
		if opts.ActiveOnly && !ref.v.Stamp.Active() {
			continue
		}

		row := newRow(ref.c, ref.v, current, nil)
		if accept != nil && !accept(row) {
			continue
		}

		children, err := m.children(ctx, ref.c, opts, accept, ancestors, annotations)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row.withChildren(children))
	}
	return rows, nil
}

// children materializes the annotations nested under one refex. A nested
// refex that is already on the ancestor chain is skipped and logged.
func (m *Materializer) children(
	ctx context.Context,
	parent *model.Chronicle,
	opts HistoryOptions,
	accept Predicate,
	ancestors map[model.NID]bool,
	annotations map[model.NID][]*model.Chronicle,
) ([]*Row, error) {
	nested, ok := annotations[parent.NID]
	if !ok {
		var err error
		nested, err = m.store.Annotations(ctx, parent.NID)
		if err != nil {
			return nil, fmt.Errorf("materialize: annotations of %d: %w", parent.NID, err)
		}
		annotations[parent.NID] = nested
	}
	if len(nested) == 0 {
		return nil, nil
	}

	ancestors[parent.NID] = true
	defer delete(ancestors, parent.NID)

	safe := nested[:0:0]
	for _, c := range nested {
		if ancestors[c.NID] {
			annotationCycles.Inc()
			m.logger.Warn("nested annotation skipped", append(cycleError(c).LogAttrs(), "referenced", parent.NID)...)
			continue
		}
		safe = append(safe, c)
	}
	return m.level(ctx, safe, opts, accept, ancestors, annotations)
}

// sortNewestFirst groups versions by UUID and orders each group by
// descending (time, version ID). Groups run in ascending UUID order,
// which is the row order at every level of the grid.
func sortNewestFirst(refs []versionRef) {
	slices.SortStableFunc(refs, func(a, b versionRef) int {
		return cmp.Or(
			bytes.Compare(a.c.UUID[:], b.c.UUID[:]),
			cmp.Compare(b.v.Stamp.Time, a.v.Stamp.Time),
			cmp.Compare(b.v.ID, a.v.ID),
		)
	})
}

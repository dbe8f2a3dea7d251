package grid

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/refexgrid/internal/model"
)

// TransactionSet is what a row tree touches: the distinct referenced
// components and assemblages of its refexes, and whether any of those
// refexes carries uncommitted edits.
type TransactionSet struct {
	Referenced     []model.NID
	Assemblages    []model.NID
	HasUncommitted bool
}

// Empty reports whether there is nothing to commit or cancel.
func (t TransactionSet) Empty() bool { return !t.HasUncommitted }

// CollectTransaction walks a whole row tree, nested rows included.
// Placeholder rows are skipped. The NID lists are sorted.
func CollectTransaction(rows []*Row) TransactionSet {
	refs := map[model.NID]bool{}
	asms := map[model.NID]bool{}
	var set TransactionSet

	Walk(rows, func(r *Row, _ int) {
		if r.IsPlaceholder() {
			return
		}
		if nid := r.ReferencedNID(); nid != 0 {
			refs[nid] = true
		}
		if nid := r.AssemblageNID(); nid != 0 {
			asms[nid] = true
		}
		if r.Uncommitted() {
			set.HasUncommitted = true
		}
	})

	set.Referenced = sortedNIDs(refs)
	set.Assemblages = sortedNIDs(asms)
	return set
}

func sortedNIDs(m map[model.NID]bool) []model.NID {
	out := make([]model.NID, 0, len(m))
	for nid := range m {
		out = append(out, nid)
	}
	slices.Sort(out)
	return out
}

// Tracker commits or cancels the uncommitted edits of a TransactionSet.
type Tracker struct {
	store   Store
	schemas SchemaRegistry
	logger  *slog.Logger
}

// NewTracker creates a Tracker.
func NewTracker(store Store, schemas SchemaRegistry, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, schemas: schemas, logger: logger}
}

// Commit makes every edit in set durable and waits for the store to finish
// writing. It does nothing when the set has no uncommitted edits.
func (t *Tracker) Commit(ctx context.Context, set TransactionSet) error {
	return t.apply(ctx, set, "commit", ErrCodeCommitFailure, t.store.Commit)
}

// Cancel discards every edit in set and waits for the store to finish
// writing. It does nothing when the set has no uncommitted edits.
func (t *Tracker) Cancel(ctx context.Context, set TransactionSet) error {
	return t.apply(ctx, set, "cancel", ErrCodeCancelFailure, t.store.Cancel)
}

func (t *Tracker) apply(
	ctx context.Context,
	set TransactionSet,
	op string,
	code ErrorCode,
	fn func(context.Context, model.NID) error,
) error {
	if set.Empty() {
		t.logger.Debug(op+" skipped: nothing uncommitted")
		return nil
	}

	ctx, span := tracer.Start(ctx, "grid."+op,
		trace.WithAttributes(
			attribute.Int("referenced", len(set.Referenced)),
			attribute.Int("assemblages", len(set.Assemblages)),
		),
	)
	defer span.End()

	fail := func(nid model.NID, err error) error {
		gerr := &Error{Code: code, Message: op + " rejected by store", NID: nid, Err: err}
		transactionsTotal.WithLabelValues(op, "failed").Inc()
		t.logger.Error(op+" failed", gerr.LogAttrs()...)
		span.RecordError(gerr)
		span.SetStatus(codes.Error, gerr.Error())
		return gerr
	}

	for _, nid := range set.Referenced {
		if err := fn(ctx, nid); err != nil {
			return fail(nid, err)
		}
	}
	for _, asm := range set.Assemblages {
		if !t.memberStyle(ctx, asm) {
			continue
		}
		if err := fn(ctx, asm); err != nil {
			return fail(asm, err)
		}
	}

	if err := t.store.WaitTillWritesFinished(ctx); err != nil {
		return fail(0, err)
	}

	transactionsTotal.WithLabelValues(op, "ok").Inc()
	t.logger.Info(op+" finished", "referenced", len(set.Referenced), "assemblages", len(set.Assemblages))
	span.SetStatus(codes.Ok, "")
	return nil
}

// memberStyle reports whether refexes of an assemblage are stored under the
// assemblage concept. Unreadable schemas count as annotation style.
func (t *Tracker) memberStyle(ctx context.Context, asm model.NID) bool {
	schema, err := t.schemas.ReadAssemblageSchema(ctx, asm)
	if err != nil {
		t.logger.Warn("assemblage style unknown", "assemblage", asm, "error", err)
		return false
	}
	return schema.Style == model.StyleMember
}

package grid

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/roach88/refexgrid/internal/model"
)

const (
	// BinaryPlaceholder is shown for byte-array values.
	BinaryPlaceholder = "[Binary]"

	// ErrorPlaceholder is shown for values that cannot be rendered.
	ErrorPlaceholder = "-ERROR-"

	// TimeLayout formats the Time builtin column, in UTC.
	TimeLayout = "2006-01-02 15:04:05"
)

// Renderer turns typed values into display text and orders rows by column.
// UUID and NID values render as the description of the component they
// name; resolved descriptions are cached for the life of the Renderer.
// A Renderer is safe for concurrent use.
type Renderer struct {
	store  Store
	vc     model.ViewCoordinate
	logger *slog.Logger

	mu    sync.Mutex
	names map[model.NID]string
	uuids map[uuid.UUID]string

	collMu   sync.Mutex
	collator *collate.Collator
}

// NewRenderer creates a Renderer that resolves descriptions under vc.
func NewRenderer(store Store, vc model.ViewCoordinate, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{
		store:    store,
		vc:       vc,
		logger:   logger,
		names:    make(map[model.NID]string),
		uuids:    make(map[uuid.UUID]string),
		collator: collate.New(language.Und),
	}
}

// RenderValue renders one typed value. A nil value renders as "".
// Undecodable values return a decode error.
func (r *Renderer) RenderValue(ctx context.Context, d model.Data) (string, error) {
	switch v := d.(type) {
	case nil:
		return "", nil
	case model.DynBoolean:
		return strconv.FormatBool(bool(v)), nil
	case model.DynInteger:
		return strconv.FormatInt(int64(v), 10), nil
	case model.DynLong:
		return strconv.FormatInt(int64(v), 10), nil
	case model.DynFloat:
		return strconv.FormatFloat(float64(v), 'g', -1, 32), nil
	case model.DynDouble:
		return strconv.FormatFloat(float64(v), 'g', -1, 64), nil
	case model.DynString:
		return string(v), nil
	case model.DynUUID:
		return r.describeUUID(ctx, uuid.UUID(v)), nil
	case model.DynNID:
		return r.describe(ctx, model.NID(v)), nil
	case model.DynByteArray:
		return BinaryPlaceholder, nil
	case model.DynUndecodable:
		return "", fmt.Errorf("undecodable value: %w", v.Err)
	default:
		return "", fmt.Errorf("unknown Data type: %T", d)
	}
}

// Cell renders a row's value for a column. Missing values render as "".
// Values that fail to decode, or that do not match the column's declared
// type, render as ErrorPlaceholder and are logged.
func (r *Renderer) Cell(ctx context.Context, row *Row, col Column) string {
	v, ok := row.Value(col)
	if !ok {
		return ""
	}
	if col.ID.Builtin == BuiltinTime {
		return formatTime(int64(v.(model.DynLong)))
	}

	if err := checkType(row, col, v); err != nil {
		r.reportDecode(row, col, err)
		return ErrorPlaceholder
	}
	text, err := r.RenderValue(ctx, v)
	if err != nil {
		r.reportDecode(row, col, err)
		return ErrorPlaceholder
	}
	return text
}

// CachedCell renders a cell without touching the store. pending is true
// when the value names a component whose description is not cached yet;
// Cell (on a worker) resolves it.
func (r *Renderer) CachedCell(row *Row, col Column) (text string, pending bool) {
	v, ok := row.Value(col)
	if !ok {
		return "", false
	}
	r.mu.Lock()
	switch val := v.(type) {
	case model.DynNID:
		_, ok = r.names[model.NID(val)]
	case model.DynUUID:
		_, ok = r.uuids[uuid.UUID(val)]
	default:
		ok = true
	}
	r.mu.Unlock()
	if !ok {
		return "", true
	}
	return r.Cell(context.Background(), row, col), false
}

// NeedsResolution reports whether a cell's text comes from the store.
func NeedsResolution(row *Row, col Column) bool {
	v, ok := row.Value(col)
	if !ok {
		return false
	}
	switch v.(type) {
	case model.DynNID, model.DynUUID:
		return true
	}
	return false
}

func (r *Renderer) reportDecode(row *Row, col Column, err error) {
	decodeErrors.Inc()
	gerr := decodeError(row.NID(), row.AssemblageNID(), col.Name, err)
	r.logger.Error("cell render failed", gerr.LogAttrs()...)
}

// checkType verifies a data column value against its declared type.
func checkType(row *Row, col Column, v model.Data) error {
	if col.ID.IsBuiltin() {
		return nil
	}
	if u, ok := v.(model.DynUndecodable); ok {
		return fmt.Errorf("undecodable value: %w", u.Err)
	}
	info, ok := col.Source(row.AssemblageNID())
	if !ok {
		return nil
	}
	if !info.Type.Accepts(v.Type()) {
		return fmt.Errorf("value of type %s in %s column", v.Type(), info.Type)
	}
	return nil
}

func formatTime(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(TimeLayout)
}

// describe resolves a NID to its concept description. Unresolvable NIDs
// render as their number and are not cached.
func (r *Renderer) describe(ctx context.Context, nid model.NID) string {
	r.mu.Lock()
	name, ok := r.names[nid]
	r.mu.Unlock()
	if ok {
		return name
	}

	cv, err := r.store.ConceptVersion(ctx, r.vc, nid)
	if err != nil {
		r.logger.Debug("describe failed", "nid", nid, "error", err)
		return strconv.Itoa(int(nid))
	}
	name = cv.Description
	if name == "" {
		name = cv.UUID.String()
	}

	r.mu.Lock()
	r.names[nid] = name
	r.mu.Unlock()
	return name
}

func (r *Renderer) describeUUID(ctx context.Context, id uuid.UUID) string {
	r.mu.Lock()
	name, ok := r.uuids[id]
	r.mu.Unlock()
	if ok {
		return name
	}

	c, err := r.store.ComponentByUUID(ctx, id)
	if err != nil {
		r.logger.Debug("describe failed", "uuid", id, "error", err)
		return id.String()
	}
	name = r.describe(ctx, c.NID)

	r.mu.Lock()
	r.uuids[id] = name
	r.mu.Unlock()
	return name
}

// Compare orders two rows by a column. Rows without a value sort after
// rows with one. Numeric, UUID and NID values compare by decoded value;
// strings and booleans compare by collated text; byte arrays compare equal.
// Values of different types (polymorphic columns) order by type first.
func (r *Renderer) Compare(a, b *Row, col Column) int {
	va, oka := sortValue(a, col)
	vb, okb := sortValue(b, col)
	switch {
	case !oka && !okb:
		return 0
	case !oka:
		return 1
	case !okb:
		return -1
	}
	return r.compareValues(va, vb)
}

// sortValue returns a row's value with undecodable values treated as
// missing.
func sortValue(row *Row, col Column) (model.Data, bool) {
	v, ok := row.Value(col)
	if !ok {
		return nil, false
	}
	if _, bad := v.(model.DynUndecodable); bad {
		return nil, false
	}
	return v, true
}

func (r *Renderer) compareValues(a, b model.Data) int {
	if ia, ok := integral(a); ok {
		if ib, ok := integral(b); ok {
			return cmp.Compare(ia, ib)
		}
	}
	if na, ok := numeric(a); ok {
		if nb, ok := numeric(b); ok {
			return cmp.Compare(na, nb)
		}
	}
	if c := cmp.Compare(a.Type(), b.Type()); c != 0 {
		return c
	}

	switch va := a.(type) {
	case model.DynUUID:
		vb := b.(model.DynUUID)
		return bytes.Compare(va[:], vb[:])
	case model.DynNID:
		return cmp.Compare(va, b.(model.DynNID))
	case model.DynString:
		return r.collate(string(va), string(b.(model.DynString)))
	case model.DynBoolean:
		return r.collate(strconv.FormatBool(bool(va)), strconv.FormatBool(bool(b.(model.DynBoolean))))
	case model.DynByteArray:
		return 0
	default:
		return 0
	}
}

func (r *Renderer) collate(a, b string) int {
	r.collMu.Lock()
	defer r.collMu.Unlock()
	return r.collator.CompareString(a, b)
}

func integral(d model.Data) (int64, bool) {
	switch v := d.(type) {
	case model.DynInteger:
		return int64(v), true
	case model.DynLong:
		return int64(v), true
	}
	return 0, false
}

func numeric(d model.Data) (float64, bool) {
	switch v := d.(type) {
	case model.DynInteger:
		return float64(v), true
	case model.DynLong:
		return float64(v), true
	case model.DynFloat:
		return float64(v), true
	case model.DynDouble:
		return float64(v), true
	}
	return 0, false
}

// SortRows returns a new tree sorted by a column at every level. Rows
// without a value stay last in both directions. The input is not modified.
func (r *Renderer) SortRows(rows []*Row, col Column, descending bool) []*Row {
	out := make([]*Row, len(rows))
	for i, row := range rows {
		if len(row.children) > 0 {
			row = row.withChildren(r.SortRows(row.children, col, descending))
		}
		out[i] = row
	}
	slices.SortStableFunc(out, func(a, b *Row) int {
		_, oka := sortValue(a, col)
		_, okb := sortValue(b, col)
		if !oka || !okb {
			return r.Compare(a, b, col)
		}
		c := r.Compare(a, b, col)
		if descending {
			return -c
		}
		return c
	})
	return out
}

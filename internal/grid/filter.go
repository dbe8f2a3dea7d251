package grid

import (
	"context"
	"maps"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// Filter is the set of rendered values accepted in one column. An empty
// set accepts everything.
type Filter struct {
	id        ColumnID
	values    map[string]struct{}
	lastBound int
}

// ID returns the column the filter belongs to.
func (f *Filter) ID() ColumnID { return f.id }

// Active reports whether the filter restricts anything.
func (f *Filter) Active() bool { return len(f.values) > 0 }

// Values returns the accepted values, sorted.
func (f *Filter) Values() []string {
	return slices.Sorted(maps.Keys(f.values))
}

// Accept reports whether a rendered value passes the filter.
func (f *Filter) Accept(rendered string) bool {
	return accepts(f.values, rendered)
}

func accepts(values map[string]struct{}, rendered string) bool {
	if len(values) == 0 {
		return true
	}
	_, ok := values[norm.NFC.String(rendered)]
	return ok
}

// FilterCache keeps per-column filters across grid rebuilds, keyed by
// ColumnID, so a column that reappears keeps its selection. Each Rebuild
// starts a generation; filters not bound for more than retain generations
// are evicted.
//
// FilterCache is not safe for concurrent use. A View mutates it only on
// its actor goroutine and hands workers a FilterSet snapshot.
type FilterCache struct {
	entries    map[ColumnID]*Filter
	generation int
	retain     int
}

// DefaultFilterRetainGenerations is the retention configured views start
// from.
const DefaultFilterRetainGenerations = 3

// NewFilterCache creates a cache that keeps unbound filters for retain
// rebuilds. retain is at least 1, so filters survive the rebuild that
// rebinds them.
func NewFilterCache(retain int) *FilterCache {
	return &FilterCache{
		entries: make(map[ColumnID]*Filter),
		retain:  max(retain, 1),
	}
}

// Rebuild starts a new generation and evicts stale filters.
func (c *FilterCache) Rebuild() {
	c.generation++
	for id, f := range c.entries {
		if c.generation-f.lastBound > c.retain {
			delete(c.entries, id)
		}
	}
}

// Bind returns the filter for a column, creating it if needed, and marks
// it as in use by the current generation.
func (c *FilterCache) Bind(id ColumnID) *Filter {
	f, ok := c.entries[id]
	if !ok {
		f = &Filter{id: id, values: map[string]struct{}{}}
		c.entries[id] = f
	}
	f.lastBound = c.generation
	return f
}

// Lookup returns a cached filter without binding it.
func (c *FilterCache) Lookup(id ColumnID) (*Filter, bool) {
	f, ok := c.entries[id]
	return f, ok
}

// Set replaces a column's accepted values and binds the filter. Values
// are NFC-normalized. An empty list accepts everything.
func (c *FilterCache) Set(id ColumnID, values []string) {
	f := c.Bind(id)
	f.values = make(map[string]struct{}, len(values))
	for _, v := range values {
		f.values[norm.NFC.String(v)] = struct{}{}
	}
}

// Clear empties every filter but keeps the entries.
func (c *FilterCache) Clear() {
	for _, f := range c.entries {
		f.values = map[string]struct{}{}
	}
}

// Len returns the number of cached filters.
func (c *FilterCache) Len() int { return len(c.entries) }

// Snapshot returns an immutable copy of the active filters bound in the
// current generation.
func (c *FilterCache) Snapshot() FilterSet {
	set := FilterSet{values: map[ColumnID]map[string]struct{}{}}
	for id, f := range c.entries {
		if f.lastBound != c.generation || !f.Active() {
			continue
		}
		set.values[id] = maps.Clone(f.values)
	}
	return set
}

// FilterSet is a read-only snapshot of active filters. A row passes when
// every filter accepts its rendered value.
type FilterSet struct {
	values map[ColumnID]map[string]struct{}
}

// Empty reports whether no filter is active.
func (s FilterSet) Empty() bool { return len(s.values) == 0 }

// Columns returns the filtered column IDs.
func (s FilterSet) Columns() []ColumnID {
	return slices.Collect(maps.Keys(s.values))
}

// Predicate binds the snapshot to a column layout and renderer. Filters on
// columns absent from the layout are ignored. A nil Predicate is returned
// when nothing is filtered.
func (s FilterSet) Predicate(ctx context.Context, r *Renderer, columns []Column) Predicate {
	type bound struct {
		col    Column
		values map[string]struct{}
	}
	var active []bound
	for _, col := range columns {
		if values, ok := s.values[col.ID]; ok {
			active = append(active, bound{col: col, values: values})
		}
	}
	if len(active) == 0 {
		return nil
	}
	return func(row *Row) bool {
		for _, b := range active {
			if !accepts(b.values, r.Cell(ctx, row, b.col)) {
				return false
			}
		}
		return true
	}
}

// Candidates returns the distinct rendered values of a column across a row
// tree, sorted, for a filter selection prompt.
func Candidates(ctx context.Context, r *Renderer, rows []*Row, col Column) []string {
	seen := map[string]struct{}{}
	Walk(rows, func(row *Row, _ int) {
		seen[norm.NFC.String(r.Cell(ctx, row, col))] = struct{}{}
	})
	return slices.Sorted(maps.Keys(seen))
}

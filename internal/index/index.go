// Package index maintains a bleve index of which refexes belong to which
// assemblage, so that a grid can list an assemblage's members without a
// full store scan.
//
// Ingestion is asynchronous. Submit returns a generation token; a reader
// that must see its own write calls WaitForGeneration (or passes the token
// to QueryAssemblageUsage) before searching.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/roach88/refexgrid/internal/model"
)

const (
	fieldAssemblage = "assemblage"
	fieldReferenced = "referenced"

	// queueSize bounds how many submissions may wait for the ingest loop.
	queueSize = 256

	// DefaultMaxResults is used when a query passes a non-positive max.
	DefaultMaxResults = 10000
)

// ErrClosed is returned by operations on a closed index.
var ErrClosed = errors.New("index closed")

// Source is the store view needed to rebuild the index.
type Source interface {
	IndexedAssemblages(ctx context.Context) ([]model.NID, error)
	RefexesByAssemblage(ctx context.Context, assemblage model.NID) ([]*model.Chronicle, error)
}

// Index is a generation-tracked assemblage-usage index.
type Index struct {
	idx    bleve.Index
	logger *slog.Logger

	jobs chan job
	wg   sync.WaitGroup

	// submitMu orders generations with queue sends.
	submitMu  sync.Mutex
	submitted int64
	closed    bool

	mu      sync.Mutex
	indexed map[model.NID]bool
	applied int64
	changed chan struct{} // closed and replaced each time applied advances
	lastErr error
}

type job struct {
	gen int64
	id  string
	doc map[string]any // nil means delete
}

// NewMemOnly creates an index held entirely in memory.
func NewMemOnly(logger *slog.Logger) (*Index, error) {
	idx, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("create in-memory index: %w", err)
	}
	return newIndex(idx, logger), nil
}

// Open opens the index at path, creating it if it does not exist.
func Open(path string, logger *slog.Logger) (*Index, error) {
	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return newIndex(idx, logger), nil
}

func newIndex(idx bleve.Index, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	ix := &Index{
		idx:     idx,
		logger:  logger,
		jobs:    make(chan job, queueSize),
		indexed: make(map[model.NID]bool),
		changed: make(chan struct{}),
	}
	ix.wg.Add(1)
	go ix.ingest()
	return ix
}

// buildMapping indexes the two NID fields as single keyword terms.
func buildMapping() mapping.IndexMapping {
	nidField := bleve.NewTextFieldMapping()
	nidField.Analyzer = keyword.Name
	nidField.Store = false
	nidField.IncludeInAll = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(fieldAssemblage, nidField)
	doc.AddFieldMappingsAt(fieldReferenced, nidField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = keyword.Name
	return m
}

// MarkIndexed records that an assemblage's refexes are kept in the index.
func (ix *Index) MarkIndexed(assemblage model.NID) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.indexed[assemblage] = true
}

// IsAssemblageIndexed reports whether an assemblage is covered.
func (ix *Index) IsAssemblageIndexed(assemblage model.NID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.indexed[assemblage]
}

// Generation returns the token of the most recent submission.
func (ix *Index) Generation() int64 {
	ix.submitMu.Lock()
	defer ix.submitMu.Unlock()
	return ix.submitted
}

// Submit queues a refex for indexing and returns its generation token.
// Non-refex chronicles are ignored and yield the current generation.
func (ix *Index) Submit(c *model.Chronicle) (int64, error) {
	if !c.IsRefex() {
		return ix.Generation(), nil
	}
	return ix.enqueue(strconv.Itoa(int(c.NID)), map[string]any{
		fieldAssemblage: strconv.Itoa(int(c.AssemblageNID)),
		fieldReferenced: strconv.Itoa(int(c.ReferencedNID)),
	})
}

// Remove queues deletion of a refex and returns its generation token.
func (ix *Index) Remove(nid model.NID) (int64, error) {
	return ix.enqueue(strconv.Itoa(int(nid)), nil)
}

func (ix *Index) enqueue(id string, doc map[string]any) (int64, error) {
	ix.submitMu.Lock()
	defer ix.submitMu.Unlock()
	if ix.closed {
		return 0, ErrClosed
	}
	ix.submitted++
	ix.jobs <- job{gen: ix.submitted, id: id, doc: doc}
	return ix.submitted, nil
}

func (ix *Index) ingest() {
	defer ix.wg.Done()
	for j := range ix.jobs {
		var err error
		if j.doc == nil {
			err = ix.idx.Delete(j.id)
		} else {
			err = ix.idx.Index(j.id, j.doc)
		}
		if err != nil {
			ix.logger.Error("index write failed", "id", j.id, "generation", j.gen, "error", err)
		}

		ix.mu.Lock()
		ix.applied = j.gen
		if err != nil {
			ix.lastErr = err
		}
		close(ix.changed)
		ix.changed = make(chan struct{})
		ix.mu.Unlock()
	}
}

// WaitForGeneration blocks until every submission up to gen is ingested.
func (ix *Index) WaitForGeneration(ctx context.Context, gen int64) error {
	for {
		ix.mu.Lock()
		applied, changed := ix.applied, ix.changed
		ix.mu.Unlock()

		if applied >= gen {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return fmt.Errorf("wait for index generation %d: %w", gen, ctx.Err())
		}
	}
}

// QueryAssemblageUsage returns up to max refex NIDs of an assemblage,
// ordered by NID. A positive waitGen first waits for that generation.
func (ix *Index) QueryAssemblageUsage(ctx context.Context, assemblage model.NID, max int, waitGen int64) ([]model.NID, error) {
	if waitGen > 0 {
		if err := ix.WaitForGeneration(ctx, waitGen); err != nil {
			return nil, err
		}
	}

	if max <= 0 {
		max = DefaultMaxResults
	}
	q := bleve.NewTermQuery(strconv.Itoa(int(assemblage)))
	q.SetField(fieldAssemblage)
	req := bleve.NewSearchRequestOptions(q, max, 0, false)

	res, err := ix.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("query assemblage %d: %w", assemblage, err)
	}

	nids := make([]model.NID, 0, len(res.Hits))
	for _, hit := range res.Hits {
		n, err := strconv.Atoi(hit.ID)
		if err != nil {
			return nil, fmt.Errorf("query assemblage %d: bad document id %q: %w", assemblage, hit.ID, err)
		}
		nids = append(nids, model.NID(n))
	}
	slices.Sort(nids)
	return nids, nil
}

// Rebuild re-submits every refex of every indexed assemblage in the source
// and marks those assemblages as covered. It returns the last generation.
func (ix *Index) Rebuild(ctx context.Context, src Source) (int64, error) {
	assemblages, err := src.IndexedAssemblages(ctx)
	if err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}

	gen := ix.Generation()
	for _, asm := range assemblages {
		refexes, err := src.RefexesByAssemblage(ctx, asm)
		if err != nil {
			return gen, fmt.Errorf("rebuild index: assemblage %d: %w", asm, err)
		}
		for _, r := range refexes {
			if gen, err = ix.Submit(r); err != nil {
				return gen, err
			}
		}
		ix.MarkIndexed(asm)
		ix.logger.Debug("assemblage indexed", "assemblage", asm, "refexes", len(refexes))
	}
	return gen, nil
}

// Err returns the most recent ingest failure, if any.
func (ix *Index) Err() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.lastErr
}

// Close drains pending submissions and closes the underlying index.
func (ix *Index) Close() error {
	ix.submitMu.Lock()
	if ix.closed {
		ix.submitMu.Unlock()
		return nil
	}
	ix.closed = true
	close(ix.jobs)
	ix.submitMu.Unlock()

	ix.wg.Wait()
	return ix.idx.Close()
}

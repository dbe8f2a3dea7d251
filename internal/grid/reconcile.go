package grid

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/refexgrid/internal/model"
)

// DefaultMaxIndexResults caps an assemblage usage query.
const DefaultMaxIndexResults = 10000

// Hint names a refex the caller expects to see, typically one it just
// created, with the index generation at which it becomes visible. The
// generation is handed out once: only the first query waits for it.
type Hint struct {
	nid  model.NID
	gen  int64
	used atomic.Bool
}

// NewHint creates a hint. gen may be 0 when no wait is needed.
func NewHint(nid model.NID, gen int64) *Hint {
	return &Hint{nid: nid, gen: gen}
}

// NID returns the hinted refex.
func (h *Hint) NID() model.NID {
	if h == nil {
		return 0
	}
	return h.nid
}

// take returns the generation to wait for the first time it is called and
// 0 afterwards.
func (h *Hint) take() int64 {
	if h == nil || h.used.Swap(true) {
		return 0
	}
	return h.gen
}

// decision is a one-shot yes/no answer passed from the actor to a waiting
// worker.
type decision struct {
	ch   chan bool
	once sync.Once
}

func newDecision() *decision {
	return &decision{ch: make(chan bool, 1)}
}

// Resolve delivers the answer. Later calls are ignored.
func (d *decision) Resolve(ok bool) {
	d.once.Do(func() { d.ch <- ok })
}

// Await blocks until the answer arrives or ctx ends.
func (d *decision) Await(ctx context.Context) (bool, error) {
	select {
	case ok := <-d.ch:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Prompter asks the user a yes/no question and waits for the answer.
type Prompter func(ctx context.Context, question string) (bool, error)

// MembersRequest describes one assemblage membership lookup.
type MembersRequest struct {
	Assemblage model.NID
	// Label names the assemblage in the scan prompt.
	Label    string
	Hint     *Hint
	Prompt   Prompter
	Progress ProgressFunc
}

// Reconciler finds the member refexes of an assemblage, through the usage
// index when the assemblage is covered and through a confirmed full scan
// otherwise.
type Reconciler struct {
	store      Store
	index      Index
	scanner    *FullScanner
	maxResults int
	logger     *slog.Logger
}

// NewReconciler creates a Reconciler. index may be nil, in which case
// every assemblage takes the scan path.
func NewReconciler(store Store, index Index, scanner *FullScanner, maxResults int, logger *slog.Logger) *Reconciler {
	if maxResults <= 0 {
		maxResults = DefaultMaxIndexResults
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, index: index, scanner: scanner, maxResults: maxResults, logger: logger}
}

// Members returns the member refexes of req.Assemblage. On a failed scan
// it returns the partial hits and the scan error.
func (rc *Reconciler) Members(ctx context.Context, req MembersRequest) ([]*model.Chronicle, error) {
	if rc.index != nil && rc.index.IsAssemblageIndexed(req.Assemblage) {
		return rc.fromIndex(ctx, req)
	}
	return rc.fromScan(ctx, req)
}

func (rc *Reconciler) fromIndex(ctx context.Context, req MembersRequest) ([]*model.Chronicle, error) {
	gen := req.Hint.take()
	nids, err := rc.index.QueryAssemblageUsage(ctx, req.Assemblage, rc.maxResults, gen)
	if err != nil {
		return nil, fmt.Errorf("query assemblage %d: %w", req.Assemblage, err)
	}

	members := make([]*model.Chronicle, 0, len(nids))
	for _, nid := range nids {
		c, err := rc.store.Component(ctx, nid)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			rc.logger.Warn("stale index entry", "nid", nid, "assemblage", req.Assemblage, "error", err)
			continue
		}
		if !c.IsRefex() || c.AssemblageNID != req.Assemblage {
			rc.logger.Warn("stale index entry", "nid", nid, "assemblage", req.Assemblage, "actual", c.AssemblageNID)
			continue
		}
		members = append(members, c)
	}
	return members, nil
}

func (rc *Reconciler) fromScan(ctx context.Context, req MembersRequest) ([]*model.Chronicle, error) {
	approved := false
	if req.Prompt != nil && rc.scanner != nil {
		label := req.Label
		if label == "" {
			label = fmt.Sprintf("%d", req.Assemblage)
		}
		question := fmt.Sprintf("Assemblage %q is not indexed. Scan the whole store for its members?", label)

		var err error
		approved, err = req.Prompt(ctx, question)
		if err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
	}

	if !approved {
		return rc.fromHint(ctx, req)
	}

	return rc.scanner.Scan(ctx, func(c *model.Chronicle) bool {
		return c.IsRefex() && c.AssemblageNID == req.Assemblage
	}, req.Progress)
}

// fromHint returns the hinted refex alone, when it belongs to the
// assemblage.
func (rc *Reconciler) fromHint(ctx context.Context, req MembersRequest) ([]*model.Chronicle, error) {
	nid := req.Hint.NID()
	if nid == 0 {
		return []*model.Chronicle{}, nil
	}
	c, err := rc.store.Component(ctx, nid)
	if err != nil {
		rc.logger.Warn("hinted component unavailable", "nid", nid, "assemblage", req.Assemblage, "error", err)
		return []*model.Chronicle{}, nil
	}
	if !c.IsRefex() || c.AssemblageNID != req.Assemblage {
		return []*model.Chronicle{}, nil
	}
	return []*model.Chronicle{c}, nil
}

package grid

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/refexgrid/internal/model"
)

// DefaultScanParallelism bounds concurrent component loads in a scan.
const DefaultScanParallelism = 8

// ProgressFunc receives scan progress. It may be called from several
// goroutines at once.
type ProgressFunc func(done, total int)

// FullScanner visits every component in the store, collecting those a
// predicate matches. Stop cancels the running scan cooperatively: the flag
// is checked before each component is dispatched and again before it is
// loaded, and loads already in flight complete.
type FullScanner struct {
	src         ComponentSource
	parallelism int
	logger      *slog.Logger

	mu   sync.Mutex
	stop *atomic.Bool // flag of the running scan; nil when idle
}

// NewFullScanner creates a scanner over src.
func NewFullScanner(src ComponentSource, parallelism int, logger *slog.Logger) *FullScanner {
	if parallelism <= 0 {
		parallelism = DefaultScanParallelism
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FullScanner{src: src, parallelism: parallelism, logger: logger}
}

// Stop requests that the running scan end early. It has no effect when no
// scan is running.
func (s *FullScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		s.stop.Store(true)
	}
}

// Scan returns every matching component, ordered by NID. A stopped scan
// returns the hits found so far and no error. A failed scan returns the
// partial hits together with a scan failure error.
func (s *FullScanner) Scan(ctx context.Context, match func(*model.Chronicle) bool, progress ProgressFunc) ([]*model.Chronicle, error) {
	ctx, span := tracer.Start(ctx, "grid.FullScan")
	defer span.End()

	stop := new(atomic.Bool)
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.stop == stop {
			s.stop = nil
		}
		s.mu.Unlock()
	}()

	nids, err := s.src.NIDs(ctx)
	if err != nil {
		scansTotal.WithLabelValues("failed").Inc()
		gerr := &Error{Code: ErrCodeScanFailure, Message: "cannot list components", Err: err}
		span.RecordError(gerr)
		span.SetStatus(codes.Error, gerr.Error())
		return nil, gerr
	}
	total := len(nids)

	var (
		hitsMu sync.Mutex
		hits   []*model.Chronicle
		done   atomic.Int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)

	for _, nid := range nids {
		if stop.Load() || gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if stop.Load() {
				return nil
			}
			c, err := s.src.Component(gctx, nid)
			if err != nil {
				return &Error{Code: ErrCodeScanFailure, Message: "cannot load component", NID: nid, Err: err}
			}
			scanComponentsVisited.Inc()
			if match(c) {
				hitsMu.Lock()
				hits = append(hits, c)
				hitsMu.Unlock()
			}
			if progress != nil {
				progress(int(done.Add(1)), total)
			}
			return nil
		})
	}
	err = g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	hitsMu.Lock()
	out := slices.Clone(hits)
	hitsMu.Unlock()
	slices.SortFunc(out, func(a, b *model.Chronicle) int { return cmp.Compare(a.NID, b.NID) })

	span.SetAttributes(
		attribute.Int("components", total),
		attribute.Int("hits", len(out)),
		attribute.Bool("stopped", stop.Load()),
	)

	switch {
	case err != nil:
		scansTotal.WithLabelValues("failed").Inc()
		s.logger.Error("fallback scan failed", "hits", len(out), "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out, fmt.Errorf("fallback scan: %w", err)
	case stop.Load():
		scansTotal.WithLabelValues("stopped").Inc()
		s.logger.Info("fallback scan stopped", "visited", done.Load(), "components", total, "hits", len(out))
	default:
		scansTotal.WithLabelValues("completed").Inc()
		s.logger.Debug("fallback scan completed", "components", total, "hits", len(out))
	}
	span.SetStatus(codes.Ok, "")
	return out, nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/config"
	"github.com/roach88/refexgrid/internal/grid"
	"github.com/roach88/refexgrid/internal/index"
	"github.com/roach88/refexgrid/internal/model"
	"github.com/roach88/refexgrid/internal/store"
)

// session is an open store and usage index.
type session struct {
	cfg    *config.Config
	store  *store.Store
	index  *index.Index
	logger *slog.Logger
}

// openSession opens the configured store and index and rebuilds the index
// from the store, so every indexed assemblage is covered.
func openSession(ctx context.Context, opts *RootOptions, logOut io.Writer) (*session, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}
	logger := opts.Logger(logOut)

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var ix *index.Index
	if cfg.Index.Path != "" {
		ix, err = index.Open(cfg.Index.Path, logger)
	} else {
		ix, err = index.NewMemOnly(logger)
	}
	if err != nil {
		st.Close()
		return nil, err
	}

	s := &session{cfg: cfg, store: st, index: ix, logger: logger}
	gen, err := ix.Rebuild(ctx, st)
	if err == nil {
		err = ix.WaitForGeneration(ctx, gen)
	}
	if err != nil {
		s.Close()
		return nil, err
	}
	logger.Debug("session opened", "store", cfg.Store.Path, "index", cfg.Index.Path, "generation", gen)
	return s, nil
}

func (s *session) Close() {
	if err := s.index.Close(); err != nil {
		s.logger.Warn("close index", "error", err)
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("close store", "error", err)
	}
}

// resolve accepts a NID or a component UUID.
func (s *session) resolve(ctx context.Context, ref string) (model.NID, error) {
	if n, err := strconv.ParseInt(ref, 10, 32); err == nil {
		c, err := s.store.Component(ctx, model.NID(n))
		if err != nil {
			return 0, fmt.Errorf("component %s: %w", ref, err)
		}
		return c.NID, nil
	}
	id, err := uuid.Parse(ref)
	if err != nil {
		return 0, fmt.Errorf("component %q: not a NID or UUID", ref)
	}
	c, err := s.store.ComponentByUUID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("component %s: %w", ref, err)
	}
	return c.NID, nil
}

// targetOptions selects what a grid shows.
type targetOptions struct {
	Component  string
	Assemblage string
}

func (t targetOptions) validate() error {
	if (t.Component == "") == (t.Assemblage == "") {
		return errors.New("exactly one of --component and --assemblage is required")
	}
	return nil
}

// liveView is a View whose listener events are read synchronously.
type liveView struct {
	view   *grid.View
	events chan error // nil for a snapshot
	logger *slog.Logger
}

// openView creates a view on the target and waits for its first
// snapshot. approve answers the scan prompt.
func (s *session) openView(ctx context.Context, t targetOptions, opts grid.Options, approve bool, progress func(done, total int)) (*liveView, error) {
	lv := &liveView{events: make(chan error, 64), logger: s.logger}
	lv.view = grid.NewView(grid.Deps{
		Store:   s.store,
		Schemas: s.store,
		Index:   s.index,
		Source:  s.store,
		Logger:  s.logger,
	}, opts, &viewListener{events: lv.events, approve: approve, progress: progress})

	var err error
	if t.Component != "" {
		var nid model.NID
		if nid, err = s.resolve(ctx, t.Component); err == nil {
			lv.view.SetComponent(nid)
		}
	} else {
		var nid model.NID
		if nid, err = s.resolve(ctx, t.Assemblage); err == nil {
			if _, err = s.store.ReadAssemblageSchema(ctx, nid); err == nil {
				lv.view.SetAssemblage(nid, nil)
			}
		}
	}
	if err != nil {
		lv.Close()
		return nil, WrapExitError(ExitCommandError, "resolve target", err)
	}

	if err := lv.await(ctx); err != nil {
		lv.Close()
		return nil, err
	}
	return lv, nil
}

// await blocks until the view publishes a snapshot. Annotation cycles and
// scan failures are logged and waiting continues; any other error ends
// the pass and is returned.
func (lv *liveView) await(ctx context.Context) error {
	for {
		select {
		case err := <-lv.events:
			if err == nil {
				return nil
			}
			if grid.IsAnnotationCycle(err) || grid.IsScanFailure(err) {
				lv.logger.Warn("grid", "error", err)
				continue
			}
			return err
		case <-ctx.Done():
			return fmt.Errorf("waiting for grid: %w", ctx.Err())
		}
	}
}

// Close stops the view. Events nobody read are drained so the actor can
// exit even when it is blocked delivering one.
func (lv *liveView) Close() {
	closed := make(chan struct{})
	go func() {
		lv.view.Close()
		close(closed)
	}()
	for {
		select {
		case <-lv.events:
		case <-closed:
			return
		}
	}
}

type viewListener struct {
	events   chan<- error
	approve  bool
	progress func(done, total int)
}

func (l *viewListener) OnSnapshot(*grid.Snapshot) { l.events <- nil }
func (l *viewListener) OnCell(grid.CellUpdate)   {}
func (l *viewListener) OnError(err error)        { l.events <- err }

func (l *viewListener) OnScanProgress(done, total int) {
	if l.progress != nil {
		l.progress(done, total)
	}
}

func (l *viewListener) Confirm(_ string, reply func(bool)) { reply(l.approve) }

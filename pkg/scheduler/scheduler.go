// Package scheduler implements the Scheduler component (spec.md §4.3): a
// fixed-capacity worker pool that consumes the Walker's entry stream and
// dispatches each file to the File Copier, gating per-directory
// finalization (attribute preservation) until every child — files and
// fully-finalized subdirectories alike — has completed, and enforcing
// cooperative cancellation plus FatalOnFirstError.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/arvgrant/cpx/pkg/copier"
	"github.com/arvgrant/cpx/pkg/cpxerr"
	"github.com/arvgrant/cpx/pkg/entry"
	"github.com/arvgrant/cpx/pkg/hints"
	"github.com/arvgrant/cpx/pkg/planner"
	"github.com/arvgrant/cpx/pkg/sink"
	"github.com/arvgrant/cpx/pkg/task"
	"github.com/arvgrant/cpx/pkg/walker"
	"golang.org/x/sync/errgroup"
)

// Stats accumulates run-wide counters surfaced to the caller once the
// Scheduler finishes.
type Stats struct {
	FilesCopied atomic.Int64
	BytesCopied atomic.Int64
	Skipped     atomic.Int64
	Warnings    atomic.Int64
	Errors      atomic.Int64
}

// Scheduler dispatches the Walker's entry stream to a bounded copy worker
// pool and tracks per-directory completion for finalization.
type Scheduler struct {
	opts   planner.Options
	copier *copier.Copier
	sink   sink.Sink
	stats  Stats
	walker *walker.Walker

	mu        sync.Mutex
	dirs      map[string]*dirState
	cancelled atomic.Bool
}

// dirState tracks one directory's outstanding children (files dispatched
// to the worker pool, plus subdirectories not yet fully finalized) and
// whether the Walker has finished enumerating it. A directory is ready
// to finalize once walkerDone is true and pending reaches zero.
type dirState struct {
	entry      entry.Entry
	dest       string
	hasEntry   bool
	pending    int
	walkerDone bool
}

// New builds a Scheduler bound to a single run's shared collaborators.
func New(opts planner.Options, w *walker.Walker, c *copier.Copier, s sink.Sink) *Scheduler {
	return &Scheduler{
		opts:   opts,
		walker: w,
		copier: c,
		sink:   s,
		dirs:   make(map[string]*dirState),
	}
}

// Run walks and copies every root, returning the first fatal error
// encountered (or nil). Per-file errors are reported through the sink and
// counted in Stats rather than aborting the run, unless FatalOnFirstError
// is set.
func (s *Scheduler) Run(ctx context.Context, roots []task.Root) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism(s.opts.Parallel))

	ds := &dispatchSink{s: s, g: g, ctx: gctx, cancel: cancel}
	for _, root := range roots {
		root := root
		if err := s.walker.Walk(gctx, root, ds); err != nil {
			if cpxErr, ok := err.(*cpxerr.Error); ok && cpxErr.Kind.IsFatal() {
				cancel()
				g.Wait()
				return err
			}
			s.stats.Errors.Add(1)
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	// g.Wait returning nil only means no worker returned an error; a
	// SIGINT/SIGTERM can still have cancelled ctx out from under workers
	// that were between task boundaries and simply returned early.
	if kind, interrupted := cpxerr.Interrupt(); interrupted {
		return cpxerr.New(kind, "", "run", ctx.Err())
	}
	return nil
}

func parallelism(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func (s *Scheduler) getOrCreate(relPath string) *dirState {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.dirs[relPath]
	if !ok {
		d = &dirState{}
		s.dirs[relPath] = d
	}
	return d
}

// addChild registers one outstanding child under parent's directory
// bookkeeping, creating the record if the Walker has not reported parent
// yet.
func (s *Scheduler) addChild(parent string) {
	s.mu.Lock()
	d, ok := s.dirs[parent]
	if !ok {
		d = &dirState{}
		s.dirs[parent] = d
	}
	d.pending++
	s.mu.Unlock()
}

// childDone decrements parent's outstanding-child count and finalizes it
// in place if the Walker has already finished enumerating it.
func (s *Scheduler) childDone(parent string) {
	s.mu.Lock()
	d, ok := s.dirs[parent]
	if !ok {
		s.mu.Unlock()
		return
	}
	if d.pending > 0 {
		d.pending--
	}
	ready := d.walkerDone && d.pending <= 0 && d.hasEntry
	if ready {
		delete(s.dirs, parent)
	}
	s.mu.Unlock()

	if ready {
		s.finalize(parent, d)
	}
}

// finalize applies the directory's preserved attributes now that every
// child has been placed, then recurses into its own parent, cascading a
// directory tree's finalization bottom-up.
func (s *Scheduler) finalize(relPath string, d *dirState) {
	if err := copier.ApplyAttributes(d.entry, d.dest, s.opts.Preserve); err != nil {
		s.stats.Warnings.Add(1)
	}
	if parent := parentOf(relPath); parent != relPath {
		s.childDone(parent)
	}
}

// dispatchSink adapts walker.Sink to submit copy work into the errgroup
// worker pool as entries are discovered, rather than buffering the whole
// stream before copying begins.
type dispatchSink struct {
	s      *Scheduler
	g      *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *dispatchSink) OnEntry(f task.File, e entry.Entry) {
	s := d.s

	if e.Kind == entry.Directory {
		rec := s.getOrCreate(f.RelPath)
		s.mu.Lock()
		rec.entry = e
		rec.dest = f.AbsDest
		rec.hasEntry = true
		s.mu.Unlock()

		if err := s.walker.EnsureDestDir(f.AbsDest); err != nil {
			s.sink.OnError(f.AbsDest, "mkdir", err)
			s.stats.Errors.Add(1)
		}
		if parent := parentOf(f.RelPath); parent != f.RelPath {
			s.addChild(parent)
		}
		return
	}

	parent := parentOf(f.RelPath)
	s.addChild(parent)
	d.g.Go(func() error {
		defer s.childDone(parent)

		if s.cancelled.Load() || d.ctx.Err() != nil {
			return nil
		}
		s.sink.OnEntryBegin(e)
		n, err := s.copier.Copy(d.ctx, e, f.AbsDest)
		if err != nil && hints.IsHint(err) {
			// A hint is a non-failure skip (resume already up to date,
			// an interactive prompt declined): the file is left alone
			// rather than retried or reported as broken.
			s.sink.OnEntryEnd(e, nil)
			s.stats.Skipped.Add(1)
			return nil
		}
		s.sink.OnEntryEnd(e, err)
		if err != nil {
			if cpxErr, ok := err.(*cpxerr.Error); ok {
				if cpxErr.Kind.IsWarning() {
					s.stats.Warnings.Add(1)
					s.sink.OnWarning(f.AbsSource, "copy", err)
					return nil
				}
				if cpxErr.Kind.IsFatal() {
					s.cancelled.Store(true)
					d.cancel()
					return err
				}
			}
			s.stats.Errors.Add(1)
			s.sink.OnError(f.AbsSource, "copy", err)
			if s.opts.FatalOnFirstError {
				d.cancel()
				return err
			}
			return nil
		}
		s.stats.FilesCopied.Add(1)
		s.stats.BytesCopied.Add(n)
		return nil
	})
}

func (d *dispatchSink) OnFinalizeDir(relPath string) {
	s := d.s
	s.mu.Lock()
	rec, ok := s.dirs[relPath]
	if !ok {
		rec = &dirState{}
		s.dirs[relPath] = rec
	}
	rec.walkerDone = true
	ready := rec.hasEntry && rec.pending <= 0
	if ready {
		delete(s.dirs, relPath)
	}
	s.mu.Unlock()

	if ready {
		s.finalize(relPath, rec)
	}
}

func (d *dispatchSink) OnError(path string, err error) {
	d.s.stats.Errors.Add(1)
	d.s.sink.OnError(path, "walk", err)
}

func parentOf(relPath string) string {
	if relPath == "." || relPath == "" {
		return "."
	}
	idx := -1
	for i := len(relPath) - 1; i >= 0; i-- {
		if relPath[i] == '/' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "."
	}
	return relPath[:idx]
}

// Stats exposes the accumulated run counters.
func (s *Scheduler) Stats() *Stats { return &s.stats }

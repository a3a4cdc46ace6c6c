// Package walker implements the Walker component (spec.md §4.2): parallel
// recursive directory traversal that turns a Root into an ordered stream
// of task.File entries, directories always preceding their descendants,
// followed by a FinalizeDir callback once every descendant has been
// observed. Fan-out across sibling subdirectories uses
// golang.org/x/sync/errgroup, the same pattern the teacher's native
// syncer uses for parallel directory recursion; duplicate directory
// creation across concurrent branches is deduplicated with
// golang.org/x/sync/singleflight.
package walker

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/arvgrant/cpx/pkg/cpxerr"
	"github.com/arvgrant/cpx/pkg/cliopts"
	"github.com/arvgrant/cpx/pkg/entry"
	"github.com/arvgrant/cpx/pkg/fsid"
	"github.com/arvgrant/cpx/pkg/task"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// maxSymlinkDepth bounds symlink-follow recursion (spec.md §9).
const maxSymlinkDepth = 40

// Sink receives traversal events. Walk calls OnEntry once per discovered
// object (files and directories alike, directories first) and
// OnFinalizeDir once a directory's direct children have all been visited.
type Sink interface {
	OnEntry(task.File, entry.Entry)
	OnFinalizeDir(relPath string)
	OnError(path string, err error)
}

// Walker traverses one or more Roots, applying the exclusion matcher and
// follow policy shared across the run.
type Walker struct {
	shared *task.Shared
	dirs   singleflight.Group
	seen   atomic.Pointer[map[fsid.ID]struct{}]
}

// New creates a Walker over the given shared run state.
func New(shared *task.Shared) *Walker {
	w := &Walker{shared: shared}
	seen := make(map[fsid.ID]struct{})
	w.seen.Store(&seen)
	return w
}

// Walk enumerates root and its descendants into sink, respecting ctx
// cancellation between directory visits.
func (w *Walker) Walk(ctx context.Context, root task.Root, sink Sink) error {
	rootInfo, rootID, err := fsid.Lstat(root.AbsSource)
	if err != nil {
		sink.OnError(root.AbsSource, err)
		return cpxerr.New(cpxerr.SourceMissing, root.AbsSource, "lstat", err)
	}

	rootEntry, err := entry.FromLstat(root.AbsSource, ".", rootInfo)
	if err != nil {
		sink.OnError(root.AbsSource, err)
		return err
	}

	if rootEntry.Kind == entry.Symlink && w.shouldFollowRoot() {
		rootEntry, rootInfo, rootID, err = w.followSymlink(root.AbsSource, ".", 0)
		if err != nil {
			sink.OnError(root.AbsSource, err)
			return err
		}
	}

	sink.OnEntry(task.File{AbsSource: root.AbsSource, AbsDest: root.AbsDest, RelPath: "."}, rootEntry)

	if rootEntry.Kind != entry.Directory {
		return nil
	}
	if !w.shared.Options.Recursive {
		return cpxerr.New(cpxerr.TypeMismatch, root.AbsSource, "walk", nil)
	}

	markVisited(w, rootID)
	err = w.walkDir(ctx, root.AbsSource, root.AbsDest, ".", sink, 0)
	sink.OnFinalizeDir(".")
	return err
}

func (w *Walker) shouldFollowRoot() bool {
	switch w.shared.Options.Follow {
	case cliopts.FollowAlways, cliopts.FollowCommandLine:
		return true
	default:
		return false
	}
}

func markVisited(w *Walker, id fsid.ID) {
	for {
		old := w.seen.Load()
		next := make(map[fsid.ID]struct{}, len(*old)+1)
		for k := range *old {
			next[k] = struct{}{}
		}
		next[id] = struct{}{}
		if w.seen.CompareAndSwap(old, &next) {
			return
		}
	}
}

func wasVisited(w *Walker, id fsid.ID) bool {
	m := w.seen.Load()
	_, ok := (*m)[id]
	return ok
}

func (w *Walker) followSymlink(absPath, relPath string, depth int) (entry.Entry, os.FileInfo, fsid.ID, error) {
	if depth > maxSymlinkDepth {
		return entry.Entry{}, nil, fsid.ID{}, cpxerr.New(cpxerr.Io, absPath, "follow-symlink", os.ErrInvalid)
	}
	info, id, err := func() (os.FileInfo, fsid.ID, error) {
		info, err := os.Stat(absPath)
		if err != nil {
			return nil, fsid.ID{}, err
		}
		id, err := fsid.Of(info)
		return info, id, err
	}()
	if err != nil {
		return entry.Entry{}, nil, fsid.ID{}, err
	}
	e, err := entry.FromLstat(absPath, relPath, info)
	return e, info, id, err
}

func (w *Walker) walkDir(ctx context.Context, absDir, absDestDir, relDir string, sink Sink, depth int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if w.shared.Cancelled != nil && w.shared.Cancelled() {
		return cpxerr.New(cpxerr.InterruptedByUser, absDir, "walk", nil)
	}

	dirEntries, err := os.ReadDir(absDir)
	if err != nil {
		sink.OnError(absDir, err)
		return nil // partial-failure semantics: this subtree fails, siblings continue
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, de := range dirEntries {
		de := de
		name := de.Name()
		childRel := filepath.Join(relDir, name)
		if relDir == "." {
			childRel = name
		}
		childAbsSrc := filepath.Join(absDir, name)
		childAbsDst := filepath.Join(absDestDir, name)
		relForMatch := filepath.ToSlash(childRel)

		if w.shared.Exclude != nil {
			isDir := de.IsDir()
			if w.shared.Exclude.Matches(relForMatch, name, isDir) {
				continue
			}
		}

		info, err := de.Info()
		if err != nil {
			sink.OnError(childAbsSrc, err)
			continue
		}

		childEntry, err := entry.FromLstat(childAbsSrc, relForMatch, info)
		if err != nil {
			sink.OnError(childAbsSrc, err)
			continue
		}

		childDepth := depth
		if childEntry.Kind == entry.Symlink && w.shared.Options.Follow == cliopts.FollowAlways {
			followed, followedInfo, followedID, err := w.followSymlink(childAbsSrc, relForMatch, depth+1)
			if err != nil {
				// -L requires every symlink to resolve; a dangling link
				// fails just this entry rather than falling back to
				// recreating the unfollowed link (spec.md §8).
				sink.OnError(childAbsSrc, cpxerr.New(cpxerr.SourceMissing, childAbsSrc, "follow-symlink", err))
				continue
			}
			if wasVisited(w, followedID) {
				sink.OnError(childAbsSrc, cpxerr.New(cpxerr.Io, childAbsSrc, "follow-symlink", os.ErrInvalid))
				continue
			}
			if followedInfo.IsDir() {
				markVisited(w, followedID)
			}
			childEntry = followed
			childDepth = depth + 1
		}

		sink.OnEntry(task.File{AbsSource: childAbsSrc, AbsDest: childAbsDst, RelPath: relForMatch}, childEntry)

		if childEntry.Kind == entry.Directory {
			if childDepth > maxSymlinkDepth {
				sink.OnError(childAbsSrc, cpxerr.New(cpxerr.Io, childAbsSrc, "walk", os.ErrInvalid))
				continue
			}
			g.Go(func() error {
				err := w.walkDir(gctx, childAbsSrc, childAbsDst, relForMatch, sink, childDepth)
				sink.OnFinalizeDir(relForMatch)
				return err
			})
		}
	}

	return g.Wait()
}

// EnsureDestDir creates dir and its parents once, deduplicating concurrent
// callers for the same path via singleflight — multiple files under a
// freshly-discovered directory would otherwise race MkdirAll for it.
func (w *Walker) EnsureDestDir(dir string) error {
	_, err, _ := w.dirs.Do(dir, func() (any, error) {
		return nil, os.MkdirAll(dir, 0o755)
	})
	return err
}

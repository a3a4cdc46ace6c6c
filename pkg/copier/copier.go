// Package copier implements the File Copier component (spec.md §4.4): for
// each task.File, selects the cheapest available copy primitive, places
// the result atomically, and preserves requested attributes.
//
// The primitive fallback chain (hard link -> symlink -> FICLONE reflink ->
// copy_file_range -> buffered read/write) mirrors original_source's
// perform_copy dispatch, using golang.org/x/sys/unix for the Linux-only
// syscalls FICLONE and copy_file_range need, since the standard library
// exposes neither.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/arvgrant/cpx/pkg/backupname"
	"github.com/arvgrant/cpx/pkg/cliopts"
	"github.com/arvgrant/cpx/pkg/cpxerr"
	"github.com/arvgrant/cpx/pkg/entry"
	"github.com/arvgrant/cpx/pkg/hints"
	"github.com/arvgrant/cpx/pkg/limiter"
	"github.com/arvgrant/cpx/pkg/linktracker"
	"github.com/arvgrant/cpx/pkg/planner"
	"github.com/arvgrant/cpx/pkg/pool"
	"github.com/arvgrant/cpx/pkg/resume"
	"github.com/arvgrant/cpx/pkg/sink"
	"golang.org/x/sys/unix"
)

const (
	minBufferSize = 64 * 1024
	maxBufferSize = 2 * 1024 * 1024
)

// Copier places one source file at its destination, selecting among the
// primitives the options permit.
type Copier struct {
	opts    planner.Options
	links   *linktracker.Tracker
	mem     *limiter.Memory
	buffers *pool.BucketedBufferPool
	resume  *resume.Index
	sink    sink.Sink
}

// New builds a Copier. mem bounds the total bytes concurrently resident in
// adaptive copy buffers across the whole run (spec.md §5: parallel x 2 MiB).
// resumeIdx is nil when -resume wasn't requested.
func New(opts planner.Options, links *linktracker.Tracker, mem *limiter.Memory, resumeIdx *resume.Index, s sink.Sink) *Copier {
	return &Copier{
		opts:    opts,
		links:   links,
		mem:     mem,
		buffers: pool.NewBucketedBufferPool(minBufferSize, maxBufferSize),
		resume:  resumeIdx,
		sink:    s,
	}
}

// Copy places src (already described by e) at dst, returning the number of
// bytes copied (0 for non-regular objects) and the resulting error, if any.
// ctx is polled between iterations of the long-running copy primitives so a
// cancelled run stops promptly instead of finishing an in-flight large file
// (spec.md §5).
func (c *Copier) Copy(ctx context.Context, e entry.Entry, dst string) (int64, error) {
	if ctx.Err() != nil {
		return 0, cpxerr.New(cpxerr.InterruptedByUser, dst, "copy", ctx.Err())
	}
	switch e.Kind {
	case entry.Directory:
		return 0, os.MkdirAll(dst, perm(e.Mode, 0o755))
	case entry.Symlink:
		return 0, c.copySymlink(e, dst)
	case entry.Fifo, entry.Socket, entry.BlockDevice, entry.CharDevice:
		return 0, c.copySpecial(e, dst)
	default:
		return c.copyRegular(ctx, e, dst)
	}
}

func perm(mode os.FileMode, fallback os.FileMode) os.FileMode {
	if mode == 0 {
		return fallback
	}
	return mode.Perm()
}

func (c *Copier) copySymlink(e entry.Entry, dst string) error {
	target, err := os.Readlink(e.AbsSourcePath)
	if err != nil {
		return cpxerr.New(cpxerr.SourceUnreadable, e.AbsSourcePath, "readlink", err)
	}
	if err := c.prepareDestination(e, dst); err != nil {
		return err
	}
	if err := os.Symlink(target, dst); err != nil {
		return cpxerr.New(cpxerr.Io, dst, "symlink", err)
	}
	return nil
}

func (c *Copier) copySpecial(e entry.Entry, dst string) error {
	var st unix.Stat_t
	if err := unix.Lstat(e.AbsSourcePath, &st); err != nil {
		return cpxerr.New(cpxerr.SourceUnreadable, e.AbsSourcePath, "lstat", err)
	}
	if err := c.prepareDestination(e, dst); err != nil {
		return err
	}
	if err := unix.Mknod(dst, uint32(e.Mode), int(st.Rdev)); err != nil {
		return cpxerr.New(cpxerr.Io, dst, "mknod", err)
	}
	return nil
}

// copyRegular handles plain files: attributes-only short-circuit, resume
// short-circuit, the hard-link/symlink policies, hard-link dedup, then the
// primitive fallback chain.
func (c *Copier) copyRegular(ctx context.Context, e entry.Entry, dst string) (int64, error) {
	if c.opts.AttributesOnly {
		// spec.md §6 attributes_only / §8 invariant 3: no data copy at all,
		// just refresh the preserved attributes on whatever is already there.
		if err := ApplyAttributes(e, dst, c.opts.Preserve); err != nil {
			return 0, cpxerr.New(cpxerr.Io, dst, "apply-attributes", err)
		}
		return 0, nil
	}

	if c.opts.Resume {
		skip, err := resume.ShouldSkip(c.resume, e.RelPath, e.AbsSourcePath, dst)
		if err == nil && skip {
			return e.Size, hints.New("resume: already up to date, skipped")
		}
	}

	if c.opts.HardLink {
		// spec.md §4.4 item 1 / §6 hard_link: every regular file becomes a
		// hard link to its source instead of being copied.
		if err := c.prepareDestination(e, dst); err != nil {
			return 0, err
		}
		if err := os.Link(e.AbsSourcePath, dst); err != nil {
			return 0, cpxerr.New(cpxerr.Io, dst, "link", err)
		}
		c.recordResume(e, dst)
		return e.Size, nil
	}

	if c.opts.Symlink != cliopts.SymlinkOff {
		n, err := c.copyAsSymlink(e, dst)
		if err != nil {
			return 0, err
		}
		c.recordResume(e, dst)
		return n, nil
	}

	if c.links != nil && e.LinkCount > 1 && c.opts.Preserve.Links {
		placement := c.links.RecordOrGet(e.ID, dst)
		if !placement.First {
			if err := c.prepareDestination(e, dst); err != nil {
				return 0, err
			}
			if err := os.Link(placement.Existing, dst); err == nil {
				c.recordResume(e, dst)
				return e.Size, nil
			}
			// Cross-device or unsupported: fall through to a normal copy.
		}
	}

	if err := c.prepareDestination(e, dst); err != nil {
		return 0, err
	}

	if c.opts.Reflink != cliopts.ReflinkNever {
		if n, err := c.tryReflink(e, dst); err == nil {
			if err := c.finishPlacement(e, dst); err != nil {
				return n, err
			}
			c.recordResume(e, dst)
			return n, nil
		} else if c.opts.Reflink == cliopts.ReflinkAlways {
			return 0, cpxerr.New(cpxerr.ReflinkUnsupported, dst, "ficlone", err)
		}
	}

	n, err := c.copyFileRangeOrFallback(ctx, e, dst)
	if err != nil {
		return n, err
	}
	if err := c.finishPlacement(e, dst); err != nil {
		return n, err
	}
	c.recordResume(e, dst)
	return n, nil
}

// copyAsSymlink implements the `symlink` policy (spec.md §4.4 item 2,
// SPEC_FULL.md's symlink target construction modes): dst becomes a symlink
// pointing at the source instead of a copy of its content, grounded on
// original_source's create_symlink/SymlinkKind dispatch.
func (c *Copier) copyAsSymlink(e entry.Entry, dst string) (int64, error) {
	if err := c.prepareDestination(e, dst); err != nil {
		return 0, err
	}
	target, err := symlinkTarget(e.AbsSourcePath, dst, c.opts.Symlink)
	if err != nil {
		return 0, cpxerr.New(cpxerr.Io, dst, "symlink-target", err)
	}
	if err := os.Symlink(target, dst); err != nil {
		return 0, cpxerr.New(cpxerr.Io, dst, "symlink", err)
	}
	return e.Size, nil
}

// symlinkTarget resolves the link text for the `symlink` policy: Auto
// preserves the source path exactly as given (original_source's
// PreserveExact), Absolute canonicalizes it (AbsoluteToSource), and
// Relative diffs it against dst's parent directory (RelativeToSource).
func symlinkTarget(src, dst string, mode cliopts.SymlinkMode) (string, error) {
	switch mode {
	case cliopts.SymlinkAbsolute:
		return filepath.Abs(src)
	case cliopts.SymlinkRelative:
		return filepath.Rel(filepath.Dir(dst), src)
	default: // SymlinkAuto
		return src, nil
	}
}

// recordResume persists a success record for e's relative path once resume
// tracking is enabled, so a later ShouldSkip call can short-circuit without
// re-deriving it from scratch (spec.md §4.6).
func (c *Copier) recordResume(e entry.Entry, dst string) {
	if c.resume == nil {
		return
	}
	hash, err := resume.Hash(dst)
	if err != nil {
		return
	}
	c.resume.Record(resume.Entry{
		RelPath: e.RelPath,
		Size:    e.Size,
		MtimeNs: e.Mtime.UnixNano(),
		HexHash: hash,
		Status:  resume.StatusOK,
	})
}

// prepareDestination handles the existing-destination dance: backup,
// remove_destination, or type-mismatch rejection, before any primitive
// attempts to create dst directly (spec.md §4.4, §4.6).
func (c *Copier) prepareDestination(e entry.Entry, dst string) error {
	info, err := os.Lstat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return cpxerr.New(cpxerr.Io, dst, "lstat", err)
	}

	if c.opts.Interactive {
		reply := c.sink.Prompt(dst, e.AbsSourcePath)
		if reply == sink.PromptNo {
			return hints.Wrap(cpxerr.New(cpxerr.PromptDeclined, dst, "overwrite", nil))
		}
		if reply == sink.PromptQuit {
			return cpxerr.New(cpxerr.InterruptedByUser, dst, "overwrite", nil)
		}
	} else if !c.opts.Force {
		return cpxerr.New(cpxerr.TypeMismatch, dst, "overwrite", fmt.Errorf("destination exists, use force to overwrite"))
	}

	if c.opts.Backup != cliopts.BackupNone {
		backupPath, err := backupname.For(dst, c.opts.Backup)
		if err != nil {
			return cpxerr.New(cpxerr.Io, dst, "backup", err)
		}
		if backupPath != "" {
			if err := os.Rename(dst, backupPath); err != nil {
				return cpxerr.New(cpxerr.Io, dst, "backup", err)
			}
			return nil
		}
	}

	if c.opts.RemoveDestination || info.IsDir() {
		if err := os.RemoveAll(dst); err != nil {
			return cpxerr.New(cpxerr.DestUnwritable, dst, "remove", err)
		}
	}
	return nil
}

// tryReflink attempts an FICLONE copy-on-write clone, the cheapest
// primitive on a same-filesystem Btrfs/XFS destination.
func (c *Copier) tryReflink(e entry.Entry, dst string) (int64, error) {
	src, err := os.Open(e.AbsSourcePath)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	tmp := tempPath(dst)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, perm(e.Mode, 0o644))
	if err != nil {
		return 0, err
	}
	defer out.Close()

	if err := unix.IoctlFileClone(int(out.Fd()), int(src.Fd())); err != nil {
		os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, err
	}
	return e.Size, nil
}

// copyFileRangeOrFallback uses copy_file_range when available, falling
// back to an adaptive-buffer read/write loop on error (e.g. cross-device,
// or a filesystem that doesn't implement it). Both loops poll ctx between
// iterations so a cancelled run stops mid-file rather than running to
// completion (spec.md §5).
func (c *Copier) copyFileRangeOrFallback(ctx context.Context, e entry.Entry, dst string) (int64, error) {
	src, err := os.Open(e.AbsSourcePath)
	if err != nil {
		return 0, cpxerr.New(cpxerr.SourceUnreadable, e.AbsSourcePath, "open", err)
	}
	defer src.Close()

	tmp := tempPath(dst)
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm(e.Mode, 0o644))
	if err != nil && c.opts.Force && os.IsPermission(err) {
		// -force: unlink the destination and retry the open once.
		os.Remove(dst)
		out, err = os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm(e.Mode, 0o644))
	}
	if err != nil {
		return 0, cpxerr.New(cpxerr.DestUnwritable, dst, "open", err)
	}

	n, cfrErr := c.viaCopyFileRange(ctx, src, out, e.Size)
	if cfrErr != nil {
		if ctx.Err() != nil {
			out.Close()
			os.Remove(tmp)
			return n, cpxerr.New(cpxerr.InterruptedByUser, dst, "copy", ctx.Err())
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			out.Close()
			os.Remove(tmp)
			return 0, cpxerr.New(cpxerr.Io, e.AbsSourcePath, "seek", err)
		}
		out.Close()
		out, err = os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm(e.Mode, 0o644))
		if err != nil {
			return 0, cpxerr.New(cpxerr.DestUnwritable, dst, "open", err)
		}
		n, err = c.viaBufferedCopy(ctx, src, out, e.Size)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			if ctx.Err() != nil {
				return n, cpxerr.New(cpxerr.InterruptedByUser, dst, "copy", ctx.Err())
			}
			return n, cpxerr.New(cpxerr.Io, dst, "copy", err)
		}
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return n, cpxerr.New(cpxerr.Io, dst, "close", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return n, cpxerr.New(cpxerr.Io, dst, "rename", err)
	}
	return n, nil
}

func (c *Copier) viaCopyFileRange(ctx context.Context, src, out *os.File, size int64) (int64, error) {
	var total int64
	for total < size {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := unix.CopyFileRange(int(src.Fd()), nil, int(out.Fd()), nil, int(size-total), 0)
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
		total += int64(n)
		if c.sink != nil {
			c.sink.OnBytes(out.Name(), int64(n))
		}
	}
	return total, nil
}

// viaBufferedCopy is the universal fallback: an adaptive read/write loop
// whose buffer doubles from 64 KiB toward 2 MiB as the copy proves itself
// worth a larger buffer (spec.md §5), bounded overall by the run's memory
// limiter.
func (c *Copier) viaBufferedCopy(ctx context.Context, src io.Reader, out io.Writer, size int64) (int64, error) {
	bufSize := int64(minBufferSize)
	if size > 0 && size < bufSize {
		bufSize = size
	}

	var total int64
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		if c.mem != nil && !c.mem.TryAcquire(bufSize) {
			bufSize = minBufferSize
			if !c.mem.TryAcquire(bufSize) {
				return total, errors.New("copier: memory limiter exhausted")
			}
		}
		bufPtr := c.buffers.Get(bufSize)
		n, err := src.Read(*bufPtr)
		if n > 0 {
			if _, werr := out.Write((*bufPtr)[:n]); werr != nil {
				c.buffers.Put(bufPtr)
				if c.mem != nil {
					c.mem.Release(bufSize)
				}
				return total, werr
			}
			total += int64(n)
			if c.sink != nil {
				c.sink.OnBytes("", int64(n))
			}
		}
		c.buffers.Put(bufPtr)
		if c.mem != nil {
			c.mem.Release(bufSize)
		}
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return total, err
		}
		if bufSize < maxBufferSize {
			bufSize *= 2
			if bufSize > maxBufferSize {
				bufSize = maxBufferSize
			}
		}
	}
}

func tempPath(dst string) string {
	return fmt.Sprintf("%s.cpx.tmp.%d%d", dst, os.Getpid(), rand.New(rand.NewSource(time.Now().UnixNano())).Int63())
}

// finishPlacement applies the preserve policy to the newly-placed dst.
func (c *Copier) finishPlacement(e entry.Entry, dst string) error {
	return ApplyAttributes(e, dst, c.opts.Preserve)
}

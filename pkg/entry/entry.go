// Package entry defines the filesystem object descriptor produced by the
// Walker and consumed by the Scheduler and File Copier (spec.md §3).
package entry

import (
	"os"
	"syscall"
	"time"

	"github.com/arvgrant/cpx/pkg/fsid"
)

// Kind classifies the filesystem object type of an Entry.
type Kind int

const (
	Regular Kind = iota
	Directory
	Symlink
	Fifo
	Socket
	BlockDevice
	CharDevice
)

func (k Kind) String() string {
	switch k {
	case Regular:
		return "regular"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	case Fifo:
		return "fifo"
	case Socket:
		return "socket"
	case BlockDevice:
		return "block"
	case CharDevice:
		return "char"
	default:
		return "unknown"
	}
}

// KindOf classifies os.FileMode into an Entry Kind.
func KindOf(mode os.FileMode) Kind {
	switch {
	case mode&os.ModeSymlink != 0:
		return Symlink
	case mode.IsDir():
		return Directory
	case mode&os.ModeNamedPipe != 0:
		return Fifo
	case mode&os.ModeSocket != 0:
		return Socket
	case mode&os.ModeDevice != 0:
		if mode&os.ModeCharDevice != 0 {
			return CharDevice
		}
		return BlockDevice
	default:
		return Regular
	}
}

// Entry is a single filesystem object discovered during traversal.
type Entry struct {
	AbsSourcePath string
	// RelPath is the path relative to the Entry's source root, using
	// forward slashes regardless of host convention.
	RelPath string
	Kind    Kind
	Size    int64
	Mode    os.FileMode
	UID     uint32
	GID     uint32
	Atime   time.Time
	Mtime   time.Time
	ID      fsid.ID
	// LinkCount is the hard-link count reported by lstat; LinkKey
	// registration (spec.md §3 invariant 3) only applies when > 1.
	LinkCount uint64
	// Xattr holds extended attributes for the copier to apply. Neither
	// FromLstat nor the Walker reads extended attributes, so it stays nil
	// unless a caller fills it in.
	Xattr map[string][]byte
	// SELinuxContext holds the SELinux context for the copier to apply.
	// Neither FromLstat nor the Walker reads it, so it stays empty unless
	// a caller fills it in.
	SELinuxContext string
}

// FromLstat builds an Entry from an os.FileInfo obtained via os.Lstat,
// sparing the copier a repeat stat call (spec.md §4.2).
func FromLstat(absPath, relPath string, info os.FileInfo) (Entry, error) {
	id, err := fsid.Of(info)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		AbsSourcePath: absPath,
		RelPath:       relPath,
		Kind:          KindOf(info.Mode()),
		Size:          info.Size(),
		Mode:          info.Mode(),
		Mtime:         info.ModTime(),
		ID:            id,
		LinkCount:     fsid.LinkCount(info),
	}
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		e.UID = st.Uid
		e.GID = st.Gid
		e.Atime = time.Unix(st.Atim.Sec, st.Atim.Nsec)
	}
	return e, nil
}

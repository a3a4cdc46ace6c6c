package copier

import (
	"os"
	"time"

	"github.com/arvgrant/cpx/pkg/cliopts"
	"github.com/arvgrant/cpx/pkg/cpxerr"
	"github.com/arvgrant/cpx/pkg/entry"
	"golang.org/x/sys/unix"
)

// ApplyAttributes preserves the attributes requested by preserve on the
// newly-placed dst, matching e's source metadata (spec.md §4.4, §6).
// Failures on unsupported attributes (xattr, SELinux context on a
// filesystem without them) are reported as cpxerr.AttributeUnsupported,
// a warning-only kind, rather than aborting the copy.
func ApplyAttributes(e entry.Entry, dst string, preserve cliopts.PreserveAttr) error {
	if preserve.Mode && e.Kind != entry.Symlink {
		if err := os.Chmod(dst, e.Mode.Perm()); err != nil {
			return cpxerr.New(cpxerr.AttributeUnsupported, dst, "chmod", err)
		}
	}

	if preserve.Ownership {
		if err := unix.Lchown(dst, int(e.UID), int(e.GID)); err != nil {
			return cpxerr.New(cpxerr.AttributeUnsupported, dst, "chown", err)
		}
	}

	if preserve.Timestamps {
		atime := e.Atime
		if atime.IsZero() {
			atime = e.Mtime
		}
		if err := lutimes(dst, atime, e.Mtime); err != nil {
			return cpxerr.New(cpxerr.AttributeUnsupported, dst, "utimes", err)
		}
	}

	if preserve.Xattr && len(e.Xattr) > 0 {
		for name, value := range e.Xattr {
			if err := unix.Setxattr(dst, name, value, 0); err != nil {
				return cpxerr.New(cpxerr.AttributeUnsupported, dst, "setxattr:"+name, err)
			}
		}
	}

	if preserve.Context && e.SELinuxContext != "" {
		if err := unix.Setxattr(dst, "security.selinux", []byte(e.SELinuxContext), 0); err != nil {
			return cpxerr.New(cpxerr.AttributeUnsupported, dst, "setxattr:security.selinux", err)
		}
	}

	return nil
}

// lutimes sets atime/mtime without following symlinks, since
// os.Chtimes always does.
func lutimes(path string, atime, mtime time.Time) error {
	ts := []unix.Timespec{
		unix.NsecToTimespec(atime.UnixNano()),
		unix.NsecToTimespec(mtime.UnixNano()),
	}
	return unix.UtimesNanoAt(unix.AT_FDCWD, path, ts, unix.AT_SYMLINK_NOFOLLOW)
}

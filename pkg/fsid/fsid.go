// Package fsid extracts device/inode identity from file metadata for the
// same-file check, cross-device hard-link detection, and the Link Tracker's
// LinkKey. Linux-only: it assumes os.FileInfo.Sys() returns *syscall.Stat_t.
package fsid

import (
	"fmt"
	"os"
	"syscall"
)

// ID identifies a filesystem object by device and inode, the pair spec.md
// calls LinkKey when used to track hard-link identity.
type ID struct {
	Dev   uint64
	Inode uint64
}

// Of extracts the device/inode pair from file metadata obtained via
// os.Lstat or os.Stat.
func Of(info os.FileInfo) (ID, error) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return ID{}, fmt.Errorf("fsid: unsupported platform, no syscall.Stat_t for %s", info.Name())
	}
	return ID{Dev: uint64(st.Dev), Inode: st.Ino}, nil
}

// Lstat is a convenience wrapper combining os.Lstat and Of.
func Lstat(path string) (os.FileInfo, ID, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, ID{}, err
	}
	id, err := Of(info)
	return info, id, err
}

// SameFile reports whether a and b refer to the identical inode.
func SameFile(a, b ID) bool {
	return a.Dev == b.Dev && a.Inode == b.Inode
}

// SameDevice reports whether a and b reside on the same filesystem, the
// precondition for hard_link and for the Link Tracker being meaningful
// across two paths.
func SameDevice(a, b ID) bool {
	return a.Dev == b.Dev
}

// LinkCount returns the hard-link count recorded for info, used to decide
// whether a file is eligible for Link Tracker registration
// (spec.md requires link_count > 1).
func LinkCount(info os.FileInfo) uint64 {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 1
	}
	return uint64(st.Nlink)
}

// Package cliopts defines the engine's enum-valued options and their
// string parsing, following the teacher's pattern of a typed enum plus
// an InvertMap-built reverse lookup (see pkg/planner's old mode/sort
// enums) for each CLI-settable choice in spec.md's §6 option table.
package cliopts

import (
	"fmt"
	"strings"

	"github.com/arvgrant/cpx/pkg/util"
)

// SymlinkMode controls whether the copier creates symlinks instead of
// copying file contents, and how the link target is constructed.
type SymlinkMode int

const (
	SymlinkOff SymlinkMode = iota
	SymlinkAuto
	SymlinkAbsolute
	SymlinkRelative
)

var symlinkModeNames = map[SymlinkMode]string{
	SymlinkOff:      "off",
	SymlinkAuto:     "auto",
	SymlinkAbsolute: "absolute",
	SymlinkRelative: "relative",
}

var stringToSymlinkMode = util.InvertMap(symlinkModeNames)

func (m SymlinkMode) String() string {
	if s, ok := symlinkModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("unknown_symlink_mode(%d)", m)
}

// ParseSymlinkMode parses the `symlink` option value.
func ParseSymlinkMode(s string) (SymlinkMode, error) {
	if m, ok := stringToSymlinkMode[s]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("invalid symlink mode %q: must be one of off, auto, absolute, relative", s)
}

// FollowMode is the symlink-dereference policy applied while traversing
// source trees.
type FollowMode int

const (
	FollowNever FollowMode = iota
	FollowAlways
	FollowCommandLine
)

var followModeNames = map[FollowMode]string{
	FollowNever:       "never",
	FollowAlways:      "always",
	FollowCommandLine: "command-line",
}

var stringToFollowMode = util.InvertMap(followModeNames)

func (m FollowMode) String() string {
	if s, ok := followModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("unknown_follow_mode(%d)", m)
}

// ParseFollowMode parses the `follow` option value.
func ParseFollowMode(s string) (FollowMode, error) {
	if m, ok := stringToFollowMode[s]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("invalid follow mode %q: must be one of never, always, command-line", s)
}

// ReflinkMode is the copy-on-write clone policy.
type ReflinkMode int

const (
	ReflinkAuto ReflinkMode = iota
	ReflinkAlways
	ReflinkNever
)

var reflinkModeNames = map[ReflinkMode]string{
	ReflinkAuto:   "auto",
	ReflinkAlways: "always",
	ReflinkNever:  "never",
}

var stringToReflinkMode = util.InvertMap(reflinkModeNames)

func (m ReflinkMode) String() string {
	if s, ok := reflinkModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("unknown_reflink_mode(%d)", m)
}

// ParseReflinkMode parses the `reflink` option value.
func ParseReflinkMode(s string) (ReflinkMode, error) {
	if m, ok := stringToReflinkMode[s]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("invalid reflink mode %q: must be one of never, auto, always", s)
}

// BackupMode is the existing-destination backup policy.
type BackupMode int

const (
	BackupNone BackupMode = iota
	BackupSimple
	BackupNumbered
	BackupExisting
)

var backupModeNames = map[BackupMode]string{
	BackupNone:     "none",
	BackupSimple:   "simple",
	BackupNumbered: "numbered",
	BackupExisting: "existing",
}

var stringToBackupMode = util.InvertMap(backupModeNames)

func (m BackupMode) String() string {
	if s, ok := backupModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("unknown_backup_mode(%d)", m)
}

// ParseBackupMode parses the `backup` option value.
func ParseBackupMode(s string) (BackupMode, error) {
	if m, ok := stringToBackupMode[s]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("invalid backup mode %q: must be one of none, simple, numbered, existing", s)
}

// PreserveAttr is the attribute-preservation set, ported in meaning from
// original_source's PreserveAttr (mode/ownership/timestamps default on,
// links/context/xattr default off).
type PreserveAttr struct {
	Mode       bool
	Ownership  bool
	Timestamps bool
	Links      bool
	Context    bool
	Xattr      bool
}

// DefaultPreserveAttr is the `default` preset: mode, ownership, timestamps.
func DefaultPreserveAttr() PreserveAttr {
	return PreserveAttr{Mode: true, Ownership: true, Timestamps: true}
}

// NonePreserveAttr is the `none` preset.
func NonePreserveAttr() PreserveAttr {
	return PreserveAttr{}
}

// AllPreserveAttr is the `all` preset: every attribute.
func AllPreserveAttr() PreserveAttr {
	return PreserveAttr{Mode: true, Ownership: true, Timestamps: true, Links: true, Context: true, Xattr: true}
}

// ParsePreserveAttr parses a comma-separated attribute list, the "all"
// keyword, or an empty string (meaning the default preset).
func ParsePreserveAttr(s string) (PreserveAttr, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultPreserveAttr(), nil
	}
	if s == "all" {
		return AllPreserveAttr(), nil
	}

	attr := NonePreserveAttr()
	for _, cur := range strings.Split(s, ",") {
		switch strings.TrimSpace(cur) {
		case "":
			continue
		case "mode":
			attr.Mode = true
		case "ownership":
			attr.Ownership = true
		case "timestamps":
			attr.Timestamps = true
		case "xattr":
			attr.Xattr = true
		case "context":
			attr.Context = true
		case "links":
			attr.Links = true
		case "all":
			return AllPreserveAttr(), nil
		default:
			return PreserveAttr{}, fmt.Errorf("unknown preserve attribute: %q", cur)
		}
	}
	return attr, nil
}

// Any reports whether at least one attribute bit is set.
func (p PreserveAttr) Any() bool {
	return p.Mode || p.Ownership || p.Timestamps || p.Links || p.Context || p.Xattr
}

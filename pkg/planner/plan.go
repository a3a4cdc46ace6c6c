// Package planner resolves a CopyPlan's (source, destination) pairs into
// root tasks for the Scheduler, the engine's Planner component
// (spec.md §4.1).
package planner

import (
	"github.com/arvgrant/cpx/pkg/cliopts"
)

// Options is the full resolved option set consumed by the engine
// (spec.md §6). It is built by the CLI layer and passed in unmutated.
type Options struct {
	Recursive          bool
	Parallel           int
	Resume             bool
	Force              bool
	Interactive        bool
	Parents            bool
	AttributesOnly     bool
	RemoveDestination  bool
	Symlink            cliopts.SymlinkMode
	HardLink           bool
	Follow             cliopts.FollowMode
	Preserve           cliopts.PreserveAttr
	Backup             cliopts.BackupMode
	Reflink            cliopts.ReflinkMode
	Exclude            []string
	FatalOnFirstError  bool
}

// DefaultOptions returns the engine's baseline option set.
func DefaultOptions() Options {
	return Options{
		Parallel: 4,
		Follow:   cliopts.FollowNever,
		Preserve: cliopts.DefaultPreserveAttr(),
		Reflink:  cliopts.ReflinkAuto,
	}
}

// CopyPlan is the input contract consumed once by the engine (spec.md §3).
type CopyPlan struct {
	Sources     []string
	Destination string
	// DestIsDir distinguishes destination-is-directory from
	// destination-is-target-path resolution.
	DestIsDir bool
	Options   Options
}

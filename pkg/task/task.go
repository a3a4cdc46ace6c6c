// Package task defines the unit of work handed from the Planner through
// the Walker to the Scheduler (spec.md §3, §4.1-§4.3): one (source,
// destination) pair plus the shared run-wide collaborators every stage
// needs — the exclusion matcher, the Link Tracker, and the event sink.
package task

import (
	"github.com/arvgrant/cpx/pkg/exclude"
	"github.com/arvgrant/cpx/pkg/linktracker"
	"github.com/arvgrant/cpx/pkg/planner"
	"github.com/arvgrant/cpx/pkg/resume"
	"github.com/arvgrant/cpx/pkg/sink"
)

// Root is a single resolved (source, destination) pair ready for the
// Walker to expand, one per command-line source argument (spec.md §4.1).
// The concrete type lives in pkg/planner (its producer); this alias lets
// downstream stages depend on pkg/task alone.
type Root = planner.Root

// Shared bundles the collaborators every Root's traversal consults,
// built once by the engine and passed down unmutated (spec.md §5's
// "shared, read-mostly state" framing for the Control Plane).
type Shared struct {
	Options    planner.Options
	Exclude    *exclude.Matcher
	Links      *linktracker.Tracker
	Sink       sink.Sink
	Resume     *resume.Index
	Cancelled  func() bool
}

// File is a single filesystem object queued to the Scheduler by the
// Walker, carrying its own absolute destination path already joined to
// the Root's AbsDest.
type File struct {
	AbsSource string
	AbsDest   string
	RelPath   string
}

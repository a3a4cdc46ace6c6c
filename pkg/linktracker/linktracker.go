// Package linktracker implements the Link Tracker (spec.md §4.5): a
// concurrency-safe mapping from source inode identity (fsid.ID) to the
// first destination path a worker placed it at, so later discoveries of
// the same inode create a hard link instead of copying again.
//
// Built on the teacher's generic sharded map (pkg/sharded), the same
// structure the teacher uses for its synced-path caches, because the
// record_or_get operation needs exactly the LoadOrStore linearizability
// a sharded lock-striped map gives for free.
package linktracker

import (
	"fmt"

	"github.com/arvgrant/cpx/pkg/fsid"
	"github.com/arvgrant/cpx/pkg/sharded"
)

const numShards = 64

// Tracker is the concurrency-safe LinkKey -> destination-path map.
type Tracker struct {
	m *sharded.Map
}

// New creates an empty Tracker. A single Tracker spans an entire run
// unless two top-level sources are known to be on different devices, in
// which case the caller may use independent Trackers (spec.md §4.5).
func New() *Tracker {
	return &Tracker{m: sharded.NewMap(numShards)}
}

func key(id fsid.ID) string {
	return fmt.Sprintf("%d:%d", id.Dev, id.Inode)
}

// Placement is the outcome of RecordOrGet.
type Placement struct {
	// Existing is the previously recorded destination path. Empty when
	// this call performed the first placement.
	Existing string
	// First is true when this call inserted proposed as the recorded
	// destination (the caller should copy normally); false means the
	// caller should hard-link from Existing to proposed instead.
	First bool
}

// RecordOrGet atomically checks whether id has already been placed. If
// not, it records proposed as its destination and reports First placement
// so the caller copies the file. If id was already recorded, it reports
// the existing destination so the caller can hard-link to it instead.
//
// This is the one operation spec.md §3 invariant 3 and §4.5 require to be
// linearizable across concurrent workers discovering the same (dev, inode).
func (t *Tracker) RecordOrGet(id fsid.ID, proposed string) Placement {
	actual, loaded := t.m.LoadOrStore(key(id), proposed)
	if !loaded {
		return Placement{First: true}
	}
	return Placement{Existing: actual.(string), First: false}
}

// Count returns the number of distinct inodes currently tracked.
func (t *Tracker) Count() int {
	return t.m.Count()
}

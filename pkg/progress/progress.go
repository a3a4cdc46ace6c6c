// Package progress implements a concrete terminal event sink. spec.md
// declares the progress UI out of scope for the core engine, but the
// engine still ships one default implementation rather than forcing every
// caller to write their own, the way original_source's core/progress_bar.rs
// ships a concrete indicatif-based bar alongside the trait it implements.
// Byte counts are rendered with go-humanize instead of a terminal-progress
// widget library, since no such library appears anywhere in the retrieval
// pack.
package progress

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arvgrant/cpx/pkg/entry"
	"github.com/arvgrant/cpx/pkg/sink"
	"github.com/dustin/go-humanize"
)

// Terminal is a throttled, line-rewriting progress sink: on_bytes updates
// are aggregated and rendered at most every interval, bounding the I/O
// overhead of progress reporting on high-throughput copies.
type Terminal struct {
	w        io.Writer
	interval time.Duration

	mu        sync.Mutex
	lastFlush time.Time

	totalBytes atomic.Int64
	filesDone  atomic.Int64
	warnings   atomic.Int64
	errors     atomic.Int64
}

// NewTerminal creates a Terminal sink writing to w, throttled to interval.
// A zero interval defaults to 200ms, matching the cadence original_source's
// progress bar redraws at.
func NewTerminal(w io.Writer, interval time.Duration) *Terminal {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &Terminal{w: w, interval: interval}
}

func (t *Terminal) OnEntryBegin(entry.Entry) {}

func (t *Terminal) OnEntryEnd(e entry.Entry, err error) {
	t.filesDone.Add(1)
	if err != nil {
		t.errors.Add(1)
	}
}

func (t *Terminal) OnBytes(path string, n int64) {
	t.totalBytes.Add(n)
	t.maybeFlush()
}

func (t *Terminal) OnWarning(path, op string, err error) {
	t.warnings.Add(1)
	fmt.Fprintf(t.w, "warning: %s: %s: %v\n", op, path, err)
}

func (t *Terminal) OnError(path, op string, err error) {
	t.errors.Add(1)
	fmt.Fprintf(t.w, "error: %s: %s: %v\n", op, path, err)
}

func (t *Terminal) Prompt(existing, incoming string) sink.PromptReply {
	// The terminal sink never owns stdin; interactive prompting is wired
	// by the caller through its own reader and calls back via a
	// decorator. A bare Terminal always declines to avoid silently
	// clobbering files when no reader is attached.
	return sink.PromptNo
}

func (t *Terminal) maybeFlush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if now.Sub(t.lastFlush) < t.interval {
		return
	}
	t.lastFlush = now
	fmt.Fprintf(t.w, "\r%s copied, %d files", humanize.Bytes(uint64(t.totalBytes.Load())), t.filesDone.Load())
}

// Summary renders a final one-line human-readable summary, used at the end
// of a run regardless of throttling.
func (t *Terminal) Summary(elapsed time.Duration) string {
	return fmt.Sprintf("%s in %s, %d files, %d warnings, %d errors",
		humanize.Bytes(uint64(t.totalBytes.Load())), elapsed.Round(time.Millisecond),
		t.filesDone.Load(), t.warnings.Load(), t.errors.Load())
}

var _ sink.Sink = (*Terminal)(nil)

// Package cpxerr defines the error-kind taxonomy surfaced by the copy
// engine and the exit-code mapping derived from it.
package cpxerr

import (
	"fmt"
	"sync/atomic"
)

// Kind classifies an engine-level failure so callers can map it to an exit
// code or a user-facing message without string-matching.
type Kind int

const (
	Unknown Kind = iota
	SourceMissing
	SourceUnreadable
	DestUnwritable
	SameFile
	MultipleSourcesNonDirDest
	TypeMismatch
	CrossDeviceLink
	ReflinkUnsupported
	AttributeUnsupported
	PermissionDenied
	InterruptedByUser
	Terminated
	Io
	PromptDeclined
)

var kindNames = map[Kind]string{
	Unknown:                   "unknown",
	SourceMissing:             "source missing",
	SourceUnreadable:          "source unreadable",
	DestUnwritable:            "destination unwritable",
	SameFile:                  "source and destination are the same file",
	MultipleSourcesNonDirDest: "multiple sources given with a non-directory destination",
	TypeMismatch:              "existing destination has a different type",
	CrossDeviceLink:           "hard link requested across devices",
	ReflinkUnsupported:        "reflink not supported",
	AttributeUnsupported:      "attribute not supported on destination filesystem",
	PermissionDenied:          "permission denied",
	InterruptedByUser:         "interrupted by user",
	Terminated:                "terminated by signal",
	Io:                        "I/O error",
	PromptDeclined:            "overwrite declined",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown error kind"
}

// Error wraps an underlying cause with the path and operation it occurred
// during, plus the Kind used for exit-code and reporting decisions.
type Error struct {
	Kind Kind
	Path string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error for the given kind, path, and operation.
func New(kind Kind, path, op string, cause error) *Error {
	return &Error{Kind: kind, Path: path, Op: op, Err: cause}
}

// IsFatal reports whether kind bypasses the per-entry error counter and maps
// to its own dedicated process exit code rather than the generic code 1.
func (k Kind) IsFatal() bool {
	return k == InterruptedByUser || k == Terminated
}

// interruptKindPlusOne is the process-wide atomic flag spec.md §5's Cancellation
// section describes: set once from the signal handler, read from anywhere
// in the engine that needs to turn a cancelled context back into the exit
// code its triggering signal demands. 0 means unset; any other value is
// Kind+1, so the zero value of the atomic itself is distinguishable from
// Kind(0) (Unknown) being recorded.
var interruptKindPlusOne atomic.Int32

// SetInterrupt records which signal triggered cancellation. Only the first
// call wins, so a SIGTERM racing a SIGINT can't flip the recorded kind.
func SetInterrupt(k Kind) {
	interruptKindPlusOne.CompareAndSwap(0, int32(k)+1)
}

// Interrupt returns the recorded interrupt kind, if SetInterrupt has been
// called.
func Interrupt() (Kind, bool) {
	v := interruptKindPlusOne.Load()
	if v == 0 {
		return Unknown, false
	}
	return Kind(v - 1), true
}

// IsWarning reports whether a failure of this kind should be reported as a
// warning (does not increment the run's error counter) rather than an error.
// Attribute-preservation failures on capability-restricted attributes are
// the one warning-only kind in the taxonomy.
func (k Kind) IsWarning() bool {
	return k == AttributeUnsupported
}

// Package sink defines the Control Plane's event sink: the reporting
// surface the engine emits progress, warnings, errors, and interactive
// prompts through (spec.md §4.6). Progress UI implementations are
// external collaborators; this package only defines the contract plus a
// no-op implementation.
package sink

import "github.com/arvgrant/cpx/pkg/entry"

// PromptReply is the user's answer to an overwrite prompt.
type PromptReply int

const (
	PromptYes PromptReply = iota
	PromptNo
	PromptQuit
)

// Sink receives structured events from the engine. Implementations must be
// reentrant: the engine may call sink methods from any worker goroutine
// concurrently. A Sink that is not naturally thread-safe should be wrapped
// by a serializer before being handed to the engine.
type Sink interface {
	OnEntryBegin(e entry.Entry)
	OnEntryEnd(e entry.Entry, err error)
	OnBytes(path string, n int64)
	OnWarning(path, op string, err error)
	OnError(path, op string, err error)
	Prompt(existing, incoming string) PromptReply
}

// Noop is a Sink that discards every event and answers every prompt with
// PromptYes rather than blocking.
type Noop struct{}

func (Noop) OnEntryBegin(entry.Entry)             {}
func (Noop) OnEntryEnd(entry.Entry, error)        {}
func (Noop) OnBytes(string, int64)                {}
func (Noop) OnWarning(string, string, error)      {}
func (Noop) OnError(string, string, error)        {}
func (Noop) Prompt(string, string) PromptReply     { return PromptYes }

var _ Sink = Noop{}

// Serialize wraps a Sink that is not itself safe for concurrent use,
// funneling every call through a single mutex, mirroring the engine's
// requirement in spec.md §5 that the event sink "must be reentrant".
type Serialize struct {
	inner Sink
	mu    chan struct{}
}

// NewSerialize wraps inner in a mutex-serialized Sink.
func NewSerialize(inner Sink) *Serialize {
	s := &Serialize{inner: inner, mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

func (s *Serialize) lock()   { <-s.mu }
func (s *Serialize) unlock() { s.mu <- struct{}{} }

func (s *Serialize) OnEntryBegin(e entry.Entry) {
	s.lock()
	defer s.unlock()
	s.inner.OnEntryBegin(e)
}

func (s *Serialize) OnEntryEnd(e entry.Entry, err error) {
	s.lock()
	defer s.unlock()
	s.inner.OnEntryEnd(e, err)
}

func (s *Serialize) OnBytes(path string, n int64) {
	s.lock()
	defer s.unlock()
	s.inner.OnBytes(path, n)
}

func (s *Serialize) OnWarning(path, op string, err error) {
	s.lock()
	defer s.unlock()
	s.inner.OnWarning(path, op, err)
}

func (s *Serialize) OnError(path, op string, err error) {
	s.lock()
	defer s.unlock()
	s.inner.OnError(path, op, err)
}

func (s *Serialize) Prompt(existing, incoming string) PromptReply {
	s.lock()
	defer s.unlock()
	return s.inner.Prompt(existing, incoming)
}

var _ Sink = (*Serialize)(nil)

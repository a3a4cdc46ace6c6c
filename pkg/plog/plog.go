// Package plog provides the process-wide structured logger for cpx.
//
// Log records are dispatched by level: NOTICE and below go to stdout, WARN
// and above go to stderr, so progress/summary output and problem reports
// never share a stream a shell pipeline or test harness might filter.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Custom levels slotted between slog's standard four so a single int
// ordering still governs filtering and dispatch.
const (
	LevelDebug  = slog.LevelDebug
	LevelInfo   = slog.LevelInfo
	LevelNotice = slog.Level(-2)
	LevelWarn   = slog.LevelWarn
	LevelError  = slog.LevelError
)

func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelNotice {
			a.Value = slog.StringValue("NOTICE")
		}
	}
	return a
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. NOTICE and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger *slog.Logger
var quietMode atomic.Bool // Use an atomic bool for safe concurrent reads.
var level = new(slog.LevelVar)

func newHandlers(w io.Writer) (slog.Handler, slog.Handler) {
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: replaceLevelName}
	return slog.NewTextHandler(w, opts), slog.NewTextHandler(w, opts)
}

// SetOutput allows redirecting the logger's output, primarily for testing.
// Both the stdout and stderr streams are routed to w so tests can observe
// every level from a single buffer.
func SetOutput(w io.Writer) {
	quietMode.Store(false)
	stdoutHandler, stderrHandler := newHandlers(w)
	defaultLogger = slog.New(&LevelDispatchHandler{stdoutHandler: stdoutHandler, stderrHandler: stderrHandler})
}

// SetQuiet enables or disables quiet mode for the global logger.
// In quiet mode, DEBUG/INFO/NOTICE logs are suppressed regardless of level.
func SetQuiet(quiet bool) {
	quietMode.Store(quiet)
}

// IsQuiet returns true if the global logger is in quiet mode.
func IsQuiet() bool {
	return quietMode.Load()
}

// SetLevel changes the minimum level the logger emits at runtime.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// LevelFromString parses a level name ("debug", "notice", "info", "warn", "error")
// into a slog.Level, defaulting to Info on an unrecognized name.
func LevelFromString(s string) slog.Level {
	switch s {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func init() {
	level.Set(LevelInfo)
	stdoutHandler, _ := newHandlers(os.Stdout)
	_, stderrHandler := newHandlers(os.Stderr)
	defaultLogger = slog.New(&LevelDispatchHandler{stdoutHandler: stdoutHandler, stderrHandler: stderrHandler})
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Debug(msg, args...)
}

// Notice logs a notice-level message: more significant than Debug, below Info.
func Notice(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Log(context.Background(), LevelNotice, msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	if quietMode.Load() {
		return
	}
	defaultLogger.Info(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

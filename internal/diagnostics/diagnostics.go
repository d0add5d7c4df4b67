// Package diagnostics gives the internal-invariant errors in spec.md
// §7 (ErrTimestampNotMonotonic, ErrPitchOutOfRange, and any other
// "fatal for the session" condition) a stack trace to log alongside
// them. The teacher's go.mod carries github.com/go-stack/stack only
// as an indirect dependency with no call site of its own; this package
// gives it a direct, real home rather than dropping it, in the spirit
// of wiring over deleting (see DESIGN.md).
package diagnostics

import (
	"fmt"
	"log/slog"

	"github.com/go-stack/stack"
)

// Fatal wraps err with the call stack captured when it was created
// (see NewFatal).
type Fatal struct {
	Err   error
	Trace stack.CallStack
}

func (f *Fatal) Error() string {
	return fmt.Sprintf("%v (at %v)", f.Err, f.Trace)
}

func (f *Fatal) Unwrap() error {
	return f.Err
}

// NewFatal captures the current call stack and wraps err, for
// invariant violations that should never happen in a correctly wired
// pipeline (a detector emitting a pitch outside [21,108], a
// non-monotonic detected_at_sec reaching the follower).
func NewFatal(err error) *Fatal {
	return &Fatal{Err: err, Trace: stack.Trace().TrimRuntime()}
}

// LogFatal logs a Fatal at Error level with its stack trace as a
// structured field, then returns it unchanged so callers can both log
// and propagate in one call: `return diagnostics.LogFatal(logger, err)`.
func LogFatal(logger *slog.Logger, err error) *Fatal {
	f := NewFatal(err)
	logger.Error("invariant violation", "error", f.Err, "stack", fmt.Sprintf("%+v", f.Trace))
	return f
}

// Package errs implements the single error type that crosses any exported
// boundary of the engine (spec §7, §9): every fault is a Kind drawn from a
// fixed taxonomy, a message, and the checkpoint chain that was active when
// the fault occurred. Only Kind and Message are consensus-observable; the
// underlying Go error (and any stack trace pkg/errors attached to it) is
// kept around for local debugging only.
package errs

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind is the fault taxonomy from spec §7.
type Kind int

const (
	// Decode covers malformed WASM, truncated LEB128, unknown sections,
	// and disallowed features.
	Decode Kind = iota
	// Link covers unresolved imports, bad import signatures, and a
	// missing stack pointer.
	Link
	// Validate covers operand-stack type mismatches and bad local/global/
	// block indices.
	Validate
	// Bounds covers out-of-range memory access, stack over/underflow, and
	// bad alignment.
	Bounds
	// Trap covers division by zero, out-of-range shifts, out-of-bounds
	// indirect calls, "unreachable", and exceeding FarCallDepth.
	Trap
	// Host covers Halt, a missing RefAdd target, funds under/overflow,
	// and refused asset operations.
	Host
	// Conflict covers a nonstandard signed-LEB sign bit under the
	// Restrict reader mode.
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Decode:
		return "Decode"
	case Link:
		return "Link"
	case Validate:
		return "Validate"
	case Bounds:
		return "Bounds"
	case Trap:
		return "Trap"
	case Host:
		return "Host"
	case Conflict:
		return "Conflict"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Err is the exported fault type. It implements error and unwraps to the
// pkg/errors-wrapped cause, so callers may still use errors.Is/As locally,
// but nothing outside this process should branch on anything but Kind.
type Err struct {
	Kind        Kind
	Message     string
	Checkpoints []string
	cause       error
}

func (e *Err) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Checkpoints) > 0 {
		b.WriteString(" [")
		b.WriteString(strings.Join(e.Checkpoints, " > "))
		b.WriteString("]")
	}
	return b.String()
}

func (e *Err) Unwrap() error { return e.cause }

// New builds an Err with no wrapped cause, capturing a stack trace via
// pkg/errors for local debugging.
func New(kind Kind, checkpoints []string, format string, args ...interface{}) *Err {
	msg := fmt.Sprintf(format, args...)
	return &Err{
		Kind:        kind,
		Message:     msg,
		Checkpoints: append([]string(nil), checkpoints...),
		cause:       errors.New(msg),
	}
}

// Wrap builds an Err from an existing error, attaching a fresh stack trace
// to the cause on every call, whether or not it already carries one.
func Wrap(kind Kind, checkpoints []string, cause error, format string, args ...interface{}) *Err {
	msg := fmt.Sprintf(format, args...)
	return &Err{
		Kind:        kind,
		Message:     msg,
		Checkpoints: append([]string(nil), checkpoints...),
		cause:       errors.WithMessage(errors.WithStack(cause), msg),
	}
}

// CheckpointStack is the explicit diagnostic stack threaded through the
// parser/compiler/processor in place of the original's thread-local RAII
// checkpoint objects (spec §9 Design Notes). Callers push a checkpoint on
// entry to a stage and pop it on exit (typically via defer).
type CheckpointStack struct {
	frames []string
}

// Push adds a named checkpoint (e.g. "wasm/parse", "ir/compile").
func (c *CheckpointStack) Push(name string) { c.frames = append(c.frames, name) }

// Pushf adds a formatted checkpoint (e.g. "vm/Run, Ip=%d").
func (c *CheckpointStack) Pushf(format string, args ...interface{}) {
	c.Push(fmt.Sprintf(format, args...))
}

// Pop removes the most recently pushed checkpoint.
func (c *CheckpointStack) Pop() {
	if n := len(c.frames); n > 0 {
		c.frames = c.frames[:n-1]
	}
}

// Snapshot returns a copy of the current checkpoint chain, outermost first.
// A nil *CheckpointStack is treated as an empty chain, so call sites that
// don't need diagnostics may pass nil.
func (c *CheckpointStack) Snapshot() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.frames...)
}

// Fail builds an Err whose Kind is the given kind and whose Checkpoints are
// the stack's current contents — the standard way every stage reports a
// fault.
func (c *CheckpointStack) Fail(kind Kind, format string, args ...interface{}) *Err {
	return New(kind, c.Snapshot(), format, args...)
}

// FailWrap is Fail, wrapping an underlying cause.
func (c *CheckpointStack) FailWrap(kind Kind, cause error, format string, args ...interface{}) *Err {
	return Wrap(kind, c.Snapshot(), cause, format, args...)
}

package vm

import (
	"errors"
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Error kinds
// ---------------------------------------------------------------------------

// Script-level error kinds. These are recoverable: the dispatcher aborts the
// current event and carries on.
var (
	ErrType            = errors.New("type error")
	ErrTypeCast        = errors.New("type cast error")
	ErrDivideByZero    = errors.New("divide by zero")
	ErrOutOfBounds     = errors.New("index out of bounds")
	ErrStaleHandle     = errors.New("no such resource")
	ErrAssertion       = errors.New("assertion failed")
	ErrMisc            = errors.New("runtime error")
	ErrUnknownBehavior = errors.New("unknown intended behaviour")
)

// Internal consistency error kinds. These indicate a VM or compiler defect.
var (
	ErrCanaryMismatch   = errors.New("canary mismatch")
	ErrContextMismatch  = errors.New("self/other context mismatch")
	ErrStackDiscipline  = errors.New("stack discipline violated")
	ErrCorruptBytecode  = errors.New("corrupt bytecode")
	ErrCorruptSnapshot  = errors.New("corrupt snapshot")
	ErrProgramMismatch  = errors.New("snapshot was taken with a different program")
	ErrSnapshotDepth    = errors.New("snapshot requires an idle executor")
	ErrInvalidCodeIndex = errors.New("invalid bytecode index")
)

// Resource exhaustion error kinds.
var (
	ErrStackOverflow     = errors.New("operand stack overflow")
	ErrCallDepthExceeded = errors.New("call depth exceeded")
)

// ---------------------------------------------------------------------------
// Error classes
// ---------------------------------------------------------------------------

// ErrorClass partitions errors by how the host must react to them.
type ErrorClass int

const (
	ClassNone ErrorClass = iota
	ClassScript
	ClassInternal
	ClassResource
)

func (c ErrorClass) String() string {
	switch c {
	case ClassScript:
		return "script"
	case ClassInternal:
		return "internal"
	case ClassResource:
		return "resource"
	default:
		return "none"
	}
}

// ScriptError is a dynamic error raised by running script code.
type ScriptError struct {
	Kind    error
	Message string
}

func (e *ScriptError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Message
}

func (e *ScriptError) Unwrap() error { return e.Kind }

// InternalError reports a broken invariant inside the VM.
type InternalError struct {
	Kind    error
	Message string
}

func (e *InternalError) Error() string {
	if e.Message == "" {
		return "internal error: " + e.Kind.Error()
	}
	return "internal error: " + e.Kind.Error() + ": " + e.Message
}

func (e *InternalError) Unwrap() error { return e.Kind }

// ResourceError reports exhaustion of a fixed-capacity VM resource.
type ResourceError struct {
	Kind  error
	Limit int
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%s (limit %d)", e.Kind.Error(), e.Limit)
}

func (e *ResourceError) Unwrap() error { return e.Kind }

func scriptErrorf(kind error, format string, args ...any) *ScriptError {
	return &ScriptError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func internalErrorf(kind error, format string, args ...any) *InternalError {
	return &InternalError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// typeCastError names the source and destination tags, e.g. "string to real".
func typeCastError(from, to VariableType) *ScriptError {
	return &ScriptError{Kind: ErrTypeCast, Message: from.String() + " to " + to.String()}
}

// Classify reports the class of the first VM error found in err's chain.
func Classify(err error) ErrorClass {
	var se *ScriptError
	var ie *InternalError
	var re *ResourceError
	switch {
	case err == nil:
		return ClassNone
	case errors.As(err, &ie):
		return ClassInternal
	case errors.As(err, &re):
		return ClassResource
	case errors.As(err, &se):
		return ClassScript
	default:
		return ClassInternal
	}
}

// ---------------------------------------------------------------------------
// ExceptionTrace
// ---------------------------------------------------------------------------

// ExceptionTrace wraps an error raised during execution together with the
// return-address stack at the throw site. The trace is formatted eagerly
// because the executor is reset before the caller gets to see it.
type ExceptionTrace struct {
	Err   error
	Trace []string
}

func (e *ExceptionTrace) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Err.Error())
	sb.WriteByte('\n')
	sb.WriteString(e.TraceString())
	return sb.String()
}

func (e *ExceptionTrace) Unwrap() error { return e.Err }

// TraceString returns the formatted trace lines.
func (e *ExceptionTrace) TraceString() string {
	if len(e.Trace) == 0 {
		return "<no trace data>"
	}
	return strings.Join(e.Trace, "\n")
}

// formatTrace renders frames innermost first. The first line is the throw
// site, the rest are callers.
func formatTrace(frames []ProgramCounter) []string {
	lines := make([]string, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		prefix := "by "
		if i == len(frames)-1 {
			prefix = "at "
		}
		lines = append(lines, prefix+frames[i].Describe())
	}
	return lines
}

package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEncode    Phase = "encode"    // client values to engine records
	PhaseDecode    Phase = "decode"    // engine records to client values
	PhaseLoad      Phase = "load"      // engine loading and instantiation
	PhaseCall      Phase = "call"      // boundary calls
	PhaseInit      Phase = "init"      // library initialization
	PhaseLifecycle Phase = "lifecycle" // process-wide state transitions
)

// Kind categorizes the error
type Kind string

const (
	KindEmbeddedNUL        Kind = "embedded_nul"
	KindOutOfBounds        Kind = "out_of_bounds"
	KindAllocation         Kind = "allocation"
	KindNotInitialized     Kind = "not_initialized"
	KindAlreadyInitialized Kind = "already_initialized"
	KindMissingExport      Kind = "missing_export"
	KindCallFailed         Kind = "call_failed"
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidHandle      Kind = "invalid_handle"
	KindLengthMismatch     Kind = "length_mismatch"
	KindDoubleRelease      Kind = "double_release"
	KindRejected           Kind = "rejected"
)

// Error is the structured error type used throughout the client
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Func   string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Func != "" {
		b.WriteString(" in ")
		b.WriteString(e.Func)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Func sets the boundary function name
func (b *Builder) Func(name string) *Builder {
	b.err.Func = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// EmbeddedNUL reports a string that cannot cross the boundary as a C string
func EmbeddedNUL(path []string, value string, index int) *Error {
	preview := value
	if len(preview) > 32 {
		preview = preview[:32]
	}
	return &Error{
		Phase:  PhaseEncode,
		Kind:   KindEmbeddedNUL,
		Path:   path,
		Detail: fmt.Sprintf("NUL byte at offset %d in %q", index, preview),
		Value:  value,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uint32, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
		Cause:  cause,
	}
}

// OutOfBounds creates an out of bounds error for a memory access
func OutOfBounds(phase Phase, path []string, offset, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Path:   path,
		Detail: fmt.Sprintf("access of %d bytes at 0x%x out of bounds", length, offset),
		Value:  offset,
	}
}

// LengthMismatch reports an array whose pointer and length disagree
func LengthMismatch(phase Phase, path []string, ptr, length uint32) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLengthMismatch,
		Path:   path,
		Detail: fmt.Sprintf("array pointer 0x%x with length %d", ptr, length),
	}
}

// MissingExport reports an engine export that could not be resolved
func MissingExport(name string) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindMissingExport,
		Func:   name,
		Detail: "export not found",
	}
}

// CallFailed wraps a trap or host failure raised by a boundary call
func CallFailed(fn string, cause error) *Error {
	return &Error{
		Phase: PhaseCall,
		Kind:  KindCallFailed,
		Func:  fn,
		Cause: cause,
	}
}

// Rejected reports an operation the engine declined to apply
func Rejected(fn string, handle uint64) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindRejected,
		Func:   fn,
		Detail: fmt.Sprintf("engine rejected operation on handle %d", handle),
		Value:  handle,
	}
}

// InvalidHandle reports an operation attempted on the reserved handle
func InvalidHandle(fn string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindInvalidHandle,
		Func:   fn,
		Detail: "handle 0 is reserved",
	}
}

// NotInitialized creates a not initialized error
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: what + " not initialized",
	}
}

// Load wraps an engine loading failure
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindInvalidInput,
		Detail: detail,
		Cause:  cause,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

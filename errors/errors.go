package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseHost     Phase = "host"     // host call status
	PhaseValidate Phase = "validate" // caller-facing validation before a host call
	PhaseCache    Phase = "cache"    // cache transaction engine
	PhaseBody     Phase = "body"     // body stream
	PhaseKV       Phase = "kv"       // kv store outcomes
	PhaseSelect   Phase = "select"   // async multiplexer
	PhaseABI      Phase = "abi"      // guest memory marshalling
	PhaseConfig   Phase = "config"   // configuration loading
	PhaseRuntime  Phase = "runtime"  // runtime context and phase gate
)

// Kind categorizes the error
type Kind string

// Host status kinds.
const (
	KindGeneric           Kind = "generic"
	KindInvalidArgument   Kind = "invalid_argument"
	KindBadHandle         Kind = "bad_handle"
	KindBufferLen         Kind = "buffer_len"
	KindUnsupported       Kind = "unsupported"
	KindBadAlign          Kind = "bad_align"
	KindHTTPInvalid       Kind = "http_invalid"
	KindHTTPUser          Kind = "http_user"
	KindHTTPIncomplete    Kind = "http_incomplete"
	KindOptionalNone      Kind = "optional_none"
	KindHTTPHeadTooLarge  Kind = "http_head_too_large"
	KindHTTPInvalidStatus Kind = "http_invalid_status"
	KindLimitExceeded     Kind = "limit_exceeded"
	KindUnknown           Kind = "unknown"
)

// KV store outcome kinds.
const (
	KindBadRequest         Kind = "bad_request"
	KindNotFound           Kind = "not_found"
	KindPreconditionFailed Kind = "precondition_failed"
	KindPayloadTooLarge    Kind = "payload_too_large"
	KindTooManyRequests    Kind = "too_many_requests"
	KindInternalError      Kind = "internal_error"
)

// Engine kinds raised before or instead of a host call.
const (
	KindInvalidInput Kind = "invalid_input"
	KindInvalidState Kind = "invalid_state"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
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

	detail := e.Detail
	if detail == "" {
		detail = Message(e.Kind)
	}
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
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

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HasKind reports whether err carries the given kind.
func HasKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsOptionalNone reports whether err is the host's absence signal.
func IsOptionalNone(err error) bool {
	return HasKind(err, KindOptionalNone)
}

// Host creates a host status error
func Host(kind Kind) *Error {
	return &Error{Phase: PhaseHost, Kind: kind}
}

// OptionalNone creates the absence signal
func OptionalNone() *Error {
	return Host(KindOptionalNone)
}

// BadHandle creates a bad handle error naming the resource kind
func BadHandle(what string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindBadHandle,
		Detail: fmt.Sprintf("invalid %s handle", what),
	}
}

// BufferLen creates a buffer-too-small error carrying the required size
func BufferLen(needed int) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindBufferLen,
		Detail: fmt.Sprintf("buffer too small, %d bytes required", needed),
		Value:  needed,
	}
}

// RequiredLen returns the size reported by a buffer_len error.
func RequiredLen(err error) (int, bool) {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindBufferLen {
		return 0, false
	}
	n, ok := e.Value.(int)
	return n, ok
}

// InvalidArgument creates a host invalid-argument error
func InvalidArgument(detail string, args ...any) *Error {
	return New(PhaseHost, KindInvalidArgument).Detail(detail, args...).Build()
}

// InvalidInput creates a validation error for a named field
func InvalidInput(field, detail string, args ...any) *Error {
	return New(PhaseValidate, KindInvalidInput).Path(field).Detail(detail, args...).Build()
}

// InvalidState creates a caller contract error
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// KV creates a kv store outcome error
func KV(kind Kind, detail string) *Error {
	return &Error{
		Phase:  PhaseKV,
		Kind:   kind,
		Detail: detail,
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

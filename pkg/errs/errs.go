// Package errs implements the error taxonomy the simulator surfaces to
// user code: validation errors, capacity errors, state errors, and
// deserialization errors are all typed and carry one of the ERR_* codes
// a real Workers runtime would report. Transient OCC conflicts are
// deliberately NOT part of this taxonomy — they never escape the
// transaction manager.
package errs

import (
	"errors"
	"fmt"
)

// Code is a user-visible error code, stable across releases the way an
// HTTP status code is.
type Code string

const (
	CodeReserved          Code = "ERR_RESERVED"
	CodeDeserialization   Code = "ERR_DESERIALIZATION"
	CodeNoHandler         Code = "ERR_NO_HANDLER"
	CodeNoResponse        Code = "ERR_NO_RESPONSE"
	CodeResponseType      Code = "ERR_RESPONSE_TYPE"
	CodeNoUpstream        Code = "ERR_NO_UPSTREAM"
	CodeSubrequestLimit   Code = "ERR_SUBREQUEST_LIMIT"
	CodeKeyValidation     Code = "ERR_KEY_VALIDATION"
)

// Kind distinguishes the four taxonomy buckets of spec §7.
type Kind int

const (
	KindValidation Kind = iota
	KindCapacity
	KindState
	KindDeserialization
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindCapacity:
		return "capacity"
	case KindState:
		return "state"
	case KindDeserialization:
		return "deserialization"
	default:
		return "unknown"
	}
}

// Error is the concrete error type for every taxonomy bucket. Never
// retried by the transaction manager or any gate — these are always
// fatal to the current binding call and, per spec §7, surface as-is to
// user code (except deserialization errors, which the handler may catch
// and remediate by deleting the offending key).
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// Is allows errors.Is(err, errs.ErrRangeNotSatisfiable) style checks
// against the sentinels below, in addition to Kind/Code comparisons.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code && e.Message == t.Message
}

func newErr(kind Kind, code Code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

// Validation builds a validation error: TypeError-shaped misuse by the
// user script, describing exactly what was wrong. Never retried.
func Validation(code Code, format string, args ...any) *Error {
	return newErr(KindValidation, code, fmt.Sprintf(format, args...))
}

// Capacity builds a capacity error: subrequest limit, value/metadata
// size, or too-many-keys. Fatal to the current binding call.
func Capacity(code Code, format string, args ...any) *Error {
	return newErr(KindCapacity, code, fmt.Sprintf(format, args...))
}

// State builds a state error: transaction rolled back or a binding
// invoked outside a request handler. Fatal, surfaced to user code.
func State(code Code, format string, args ...any) *Error {
	return newErr(KindState, code, fmt.Sprintf(format, args...))
}

// Deserialization builds a deserialization error for a legacy or
// corrupted storage format. Fatal for the one key; the handler may catch
// it and delete the key.
func Deserialization(format string, args ...any) *Error {
	return newErr(KindDeserialization, CodeDeserialization, fmt.Sprintf(format, args...))
}

// Sentinels for conditions with exactly one shape, so call sites can use
// errors.Is directly instead of constructing a matching *Error.
var (
	// ErrRangeNotSatisfiable is returned by get_range when the requested
	// offset/length/suffix cannot be satisfied against the stored value.
	ErrRangeNotSatisfiable = Capacity(CodeKeyValidation, "range not satisfiable")

	// ErrTooManyKeys is returned by *_many batch operations exceeding the
	// 128-key limit.
	ErrTooManyKeys = Capacity(CodeKeyValidation, "too many keys in batch operation (max 128)")

	// ErrInvalidTransactionState is returned when a transaction closure
	// calls deleteAll() or starts a nested transaction.
	ErrInvalidTransactionState = State(CodeReserved, "invalid transaction state")

	// ErrTransactionAborted is returned when a transaction exceeds the
	// implementation-defined maximum retry count.
	ErrTransactionAborted = State(CodeReserved, "transaction aborted after too many retries")

	// ErrCancelled is returned by gate waiters and transactions cancelled
	// via the ambient RequestContext.
	ErrCancelled = State(CodeReserved, "operation cancelled")

	// ErrOutsideRequestContext is returned when a binding call is made
	// outside a RequestContext while blockGlobalAsyncIO is enabled.
	ErrOutsideRequestContext = State(CodeReserved, "binding called outside a request handler")
)

// IsDeserialization reports whether err (or something it wraps) is a
// deserialization error.
func IsDeserialization(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindDeserialization
	}
	return false
}

// IsValidation reports whether err (or something it wraps) is a
// validation error.
func IsValidation(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindValidation
	}
	return false
}

// Package errs provides the unified error type returned by every pgsafe call.
//
// Every layer (configuration, type marshalling, connection, executor, result)
// reports failures as *errs.Error. The native library's status code and
// message are captured at the moment of failure, so callers never need to go
// back to the connection to find out what went wrong.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindConnection, "connect failed", pgErr)
//
//	// In calling code, check the error kind:
//	if errs.IsNullValue(err) {
//	    // column was NULL
//	}
package errs

import (
	"errors"
	"strings"
)

// ErrKind categorises an error without exposing native status codes.
type ErrKind int

const (
	ErrKindUnknown        ErrKind = iota
	ErrKindConnection             // native open failed or the connection went bad
	ErrKindQuery                  // the server reported a non-ok execution status
	ErrKindParameterCount         // placeholder count differs from supplied parameters
	ErrKindEncoding               // value cannot be marshalled to or from the wire form
	ErrKindTypeMismatch           // requested host type incompatible with the column type
	ErrKindNullValue              // non-nullable extraction on a NULL cell
	ErrKindIndex                  // row or column index out of bounds
	ErrKindUseAfterFree           // handle used after Close / Release
	ErrKindTimeout                // context deadline / cancellation
	ErrKindInvalidInput           // bad configuration from the caller
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindConnection:
		return "connection_failed"
	case ErrKindQuery:
		return "query_failed"
	case ErrKindParameterCount:
		return "parameter_count"
	case ErrKindEncoding:
		return "encoding"
	case ErrKindTypeMismatch:
		return "type_mismatch"
	case ErrKindNullValue:
		return "null_value"
	case ErrKindIndex:
		return "index_out_of_range"
	case ErrKindUseAfterFree:
		return "use_after_free"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindInvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all pgsafe packages.
// It is immutable once returned.
type Error struct {
	Kind ErrKind

	// Op is the call that produced the error, e.g. "Execute" or "Result.Get".
	Op string

	Message string

	// Native is the message reported by the native library, verbatim.
	// Empty when the failure was detected before any native call.
	Native string

	// Status is the native execution status name (e.g. "PGRES_FATAL_ERROR")
	// when a round trip produced the error.
	Status string

	// SQLState is the five character SQLSTATE code, when the server sent one.
	SQLState string

	Cause error // original native error, preserved for errors.As / logging
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(e.Kind.String())
	b.WriteString("] ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	switch {
	case e.Native != "":
		b.WriteString(": ")
		b.WriteString(e.Native)
	case e.Cause != nil:
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.SQLState != "" {
		b.WriteString(" (SQLSTATE ")
		b.WriteString(e.SQLState)
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Op creates an *Error tagged with the call that produced it.
func Op(op string, kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// --- Predicates ---

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnection
}

// IsQueryFailed reports whether the server rejected a statement.
func IsQueryFailed(err error) bool {
	return KindOf(err) == ErrKindQuery
}

// IsParameterCount reports whether a statement was given the wrong number of parameters.
func IsParameterCount(err error) bool {
	return KindOf(err) == ErrKindParameterCount
}

// IsEncoding reports whether a value could not be converted to or from its wire form.
func IsEncoding(err error) bool {
	return KindOf(err) == ErrKindEncoding
}

// IsTypeMismatch reports whether a column was read as an incompatible host type.
func IsTypeMismatch(err error) bool {
	return KindOf(err) == ErrKindTypeMismatch
}

// IsNullValue reports whether a NULL cell was read through a non-nullable getter.
func IsNullValue(err error) bool {
	return KindOf(err) == ErrKindNullValue
}

// IsIndexOutOfRange reports whether a row or column index was out of bounds.
func IsIndexOutOfRange(err error) bool {
	return KindOf(err) == ErrKindIndex
}

// IsUseAfterFree reports whether a closed connection or released result was used.
func IsUseAfterFree(err error) bool {
	return KindOf(err) == ErrKindUseAfterFree
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

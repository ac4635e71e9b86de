// Package ltmerr defines the error taxonomy surfaced to tool callers.
// Adapter failures are wrapped into one of these kinds at the unified-ops
// boundary; the dispatcher maps kinds onto JSON-RPC error codes where one
// exists and onto {success:false, error, error_code} tool results otherwise.
package ltmerr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindParseError        Kind = "ParseError"
	KindMethodNotFound    Kind = "MethodNotFound"
	KindInvalidParams     Kind = "InvalidParams"
	KindNotFound          Kind = "NotFound"
	KindAlreadyExists     Kind = "AlreadyExists"
	KindIntegrityError    Kind = "IntegrityError"
	KindWriteFailed       Kind = "WriteFailed"
	KindTimeout           Kind = "Timeout"
	KindOverloaded        Kind = "Overloaded"
	KindUnauthorized      Kind = "Unauthorized"
	KindReadOnlyViolation Kind = "ReadOnlyViolation"
	KindInternal          Kind = "Internal"
)

// JSON-RPC error codes for the kinds that have one.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the kind of err, defaulting to Internal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) && e != nil {
		return e.Kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Code returns the JSON-RPC error code for err's kind, or 0 when the kind is
// a domain error carried on a tool result rather than the envelope.
func Code(err error) int {
	switch KindOf(err) {
	case KindParseError:
		return CodeParseError
	case KindMethodNotFound:
		return CodeMethodNotFound
	case KindInvalidParams:
		return CodeInvalidParams
	case KindInternal:
		return CodeInternal
	default:
		return 0
	}
}

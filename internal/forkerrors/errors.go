// Package forkerrors defines the error-kind taxonomy used across the fork
// database, the RPC client and the coverage analyzer (spec.md §7). Every
// error raised by those packages wraps a Kind so callers can switch on it
// with errors.As instead of matching strings.
package forkerrors

import (
	"errors"
	"fmt"
)

// Kind discriminates the error taxonomy of spec.md §7.
type Kind int

const (
	// KindTransport is an RPC failure: timeout, bad status, malformed response.
	KindTransport Kind = iota
	// KindBackend is a fork/journal precondition violation.
	KindBackend
	// KindDataUnavailable means the requested on-chain object is not present
	// at the pinned endpoint.
	KindDataUnavailable
	// KindDecode is a wire-format parsing failure.
	KindDecode
	// KindInvalidInput is a caller-supplied violation.
	KindInvalidInput
	// KindCacheMismatch is recovered silently by the cache layer and never
	// surfaced to a caller; it exists so internal logging can tag it.
	KindCacheMismatch
	// KindFatal is an invariant violation that must reach the top-level driver.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TransportError"
	case KindBackend:
		return "BackendError"
	case KindDataUnavailable:
		return "DataUnavailable"
	case KindDecode:
		return "DecodeError"
	case KindInvalidInput:
		return "InvalidInput"
	case KindCacheMismatch:
		return "CacheMismatch"
	case KindFatal:
		return "Fatal"
	default:
		return "UnknownError"
	}
}

// Error is the concrete error type returned by the core packages.
type Error struct {
	Kind   Kind
	Op     string // the operation that failed, e.g. "create_fork", "transact"
	Method string // the RPC method involved, if any
	Err    error  // the underlying cause, if any
}

func (e *Error) Error() string {
	if e.Method != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s(%s): %v", e.Kind, e.Op, e.Method, e.Err)
		}
		return fmt.Sprintf("%s: %s(%s)", e.Kind, e.Op, e.Method)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Rpc builds a TransportError carrying the failing RPC method, matching
// spec.md §4.1 "BackendError::Rpc{ method, cause }" naming for the transport
// half of that union.
func Rpc(method string, err error) *Error {
	return &Error{Kind: KindTransport, Op: "rpc", Method: method, Err: err}
}

// HasKind reports whether err is (or wraps) a *Error of the given kind.
func HasKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

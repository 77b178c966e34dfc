package v1

import (
	"errors"
	"fmt"
)

// Kind classifies every error the store and its clients can produce. The
// set is closed: callers switch on kinds rather than matching message text.
type Kind uint8

const (
	// Io wraps OS-level read/write/seek/open failures.
	Io Kind = iota

	// Decode indicates a record or wire message failed to deserialize.
	// A clean end-of-stream is not a Decode error.
	Decode

	// Encode indicates a record or wire message failed to serialize.
	Encode

	// KeyNotFound indicates a remove of a key absent from the index.
	KeyNotFound

	// WrongEngine indicates the on-disk engine marker disagrees with the
	// engine the caller asked for.
	WrongEngine

	// Protocol indicates a client received a response that does not match
	// the request it sent.
	Protocol
)

// String returns a short human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case Io:
		return "io error"
	case Decode:
		return "decode error"
	case Encode:
		return "encode error"
	case KeyNotFound:
		return "key not found"
	case WrongEngine:
		return "wrong engine"
	case Protocol:
		return "protocol error"
	}
	return "unknown error"
}

// Error is the error type shared by the store, the engines, the server and
// the client. It pairs a Kind with an optional underlying cause.
type Error struct {
	Kind Kind
	Err  error
}

// E wraps err with the given kind. A nil err is legal for kinds that carry
// no cause, such as KeyNotFound.
func E(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Errorf builds an Error of the given kind from a format string.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Error returns the message for the error. KeyNotFound renders as the bare
// "Key not found" the client binary prints.
func (e *Error) Error() string {
	if e.Kind == KeyNotFound && e.Err == nil {
		return "Key not found"
	}
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

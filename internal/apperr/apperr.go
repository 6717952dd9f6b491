// Package apperr defines the closed error-kind taxonomy shared across the
// mapping engine. Every failure path wraps one of these kinds so callers can
// classify a failure with errors.Is without parsing message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. The set is closed: these are the only ways the
// engine fails.
type Kind int

const (
	// InvalidArgument means the caller supplied something malformed: a
	// delimiter-bearing tenant or index name, a missing required key
	// attribute, an unknown index name.
	InvalidArgument Kind = iota
	// Unsupported means the request used an option the engine deliberately
	// does not implement (see spec §6's enumerated list).
	Unsupported
	// NoPhysicalTable means no physical table in the fixed catalog matches a
	// virtual table's schema signature.
	NoPhysicalTable
	// Corrupt means a physical value failed to reverse-map: wrong tenant
	// embedded in a prefix, malformed delimiter structure, wrong scalar kind.
	Corrupt
	// NotFound means a referenced virtual table or item does not exist.
	NotFound
	// Backend means the backing store itself returned a failure.
	Backend
	// Internal means an invariant the engine itself is responsible for was
	// violated; this should never surface in normal operation.
	Internal
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case Unsupported:
		return "unsupported"
	case NoPhysicalTable:
		return "no_physical_table"
	case Corrupt:
		return "corrupt"
	case NotFound:
		return "not_found"
	case Backend:
		return "backend"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the concrete error type carrying a Kind alongside a message and an
// optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, apperr.Of(kind)) work: two *Error values match if
// their Kind matches, regardless of message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// New constructs a Kind-tagged error with a formatted message.
func New(k Kind, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs a Kind-tagged error around an existing cause.
func Wrap(k Kind, err error, format string, args ...any) error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Of returns a bare sentinel of the given kind, suitable as the target of
// errors.Is.
func Of(k Kind) error { return &Error{Kind: k} }

// Is reports whether err is an *Error of the given kind.
func Is(err error, k Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == k
}

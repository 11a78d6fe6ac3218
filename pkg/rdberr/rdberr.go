// Package rdberr defines the structured error taxonomy shared by the
// schema compiler, storage planner, and TreeWalker VM.
//
// Every error produced by the core carries:
//   - A Kind classifying it (compile-time vs. runtime, see Kind constants)
//   - An optional source Location when the error originates in source text
//   - A human-readable message
//   - An optional wrapped cause, reachable via errors.Unwrap
//
// Compile-time kinds are returned before any transaction is opened.
// Runtime kinds abort the active transaction.
package rdberr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind int

const (
	// KindUnknown is the zero Kind, used for errors not produced by the core.
	KindUnknown Kind = iota

	// Compile-time kinds.
	ParseError
	InvalidLiteral
	TypeError
	RecursionError
	PlanMigrationConflict

	// Runtime kinds.
	MissingField
	NullUnwrap
	InvalidSelect
	BackendError
	TransactionConflict
	UserThrow
)

// String returns the canonical name of the kind.
func (k Kind) String() string {
	switch k {
	case ParseError:
		return "ParseError"
	case InvalidLiteral:
		return "InvalidLiteral"
	case TypeError:
		return "TypeError"
	case RecursionError:
		return "RecursionError"
	case PlanMigrationConflict:
		return "PlanMigrationConflict"
	case MissingField:
		return "MissingField"
	case NullUnwrap:
		return "NullUnwrap"
	case InvalidSelect:
		return "InvalidSelect"
	case BackendError:
		return "BackendError"
	case TransactionConflict:
		return "TransactionConflict"
	case UserThrow:
		return "UserThrow"
	default:
		return "Unknown"
	}
}

// Location is a position in source text. Line and Column are 1-based;
// a zero Location means "no position available".
type Location struct {
	Line   int
	Column int
}

// IsZero reports whether the location carries no position.
func (l Location) IsZero() bool { return l.Line == 0 && l.Column == 0 }

func (l Location) String() string {
	if l.IsZero() {
		return "<unknown>"
	}
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Error is a structured error with a kind, optional location, and
// optional wrapped cause. For UserThrow errors, Value holds the thrown
// VM value (an opaque any so this package stays dependency-free).
type Error struct {
	Kind     Kind
	Location Location
	Message  string
	Value    any
	Cause    error
}

func (e *Error) Error() string {
	if e.Location.IsZero() {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Location, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NewAt creates an error of the given kind with a source location.
func NewAt(kind Kind, loc Location, format string, args ...any) *Error {
	return &Error{Kind: kind, Location: loc, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to a cause. A nil cause yields nil.
func Wrap(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Throw creates a UserThrow error carrying the thrown value.
func Throw(v any) *Error {
	return &Error{Kind: UserThrow, Message: "user throw", Value: v}
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Returns KindUnknown if err is not a structured error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ThrownValue returns the value carried by a UserThrow error, if any.
func ThrownValue(err error) (any, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == UserThrow {
		return e.Value, true
	}
	return nil, false
}

// IsKind reports whether the first structured error in err's chain (the
// one KindOf finds) has the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Package apperr is the pgokache error domain.
//
// Errors are created at system boundaries (target database, store, request
// decoding) and classified with a [Kind]. Intermediate layers wrap with
// fmt.Errorf and "%w" rather than creating a new Error.
package apperr

import (
	"errors"
	"strings"
)

// Error is the pgokache error domain type.
type Error struct {
	Inner   error
	Kind    Kind
	Message string
	Op      string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is compares the error kind, enabling errors.Is(err, apperr.NotReady).
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// Unwrap enables errors.Unwrap.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Kind is a class of failure. Kinds are stable, upper-case identifiers
// exposed to API clients.
type Kind string

// Defined kinds.
const (
	Connection Kind = "CONNECTION" // target unreachable, refused, timed out
	Auth       Kind = "AUTH"       // target rejected credentials
	Permission Kind = "PERMISSION" // role lacks privilege on a probe or view
	NotReady   Kind = "NOT_READY"  // pg_stat_statements not usable
	Validation Kind = "VALIDATION" // bad input or illegal transition
	NotFound   Kind = "NOT_FOUND"  // unknown entity
	Conflict   Kind = "CONFLICT"   // instance busy
	Internal   Kind = "INTERNAL"   // anything else
)

// Error implements error.
func (k Kind) Error() string {
	return string(k)
}

// New creates a classified error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap classifies inner. A nil inner returns nil.
func Wrap(inner error, kind Kind, op, msg string) error {
	if inner == nil {
		return nil
	}
	return &Error{Inner: inner, Kind: kind, Op: op, Message: msg}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return Internal
}

// Message returns the user-facing sentence for err: the first non-empty
// Message in the chain, falling back to err.Error().
func Message(err error) string {
	cur := err
	for cur != nil {
		var e *Error
		if !errors.As(cur, &e) {
			break
		}
		if e.Message != "" {
			return e.Message
		}
		cur = e.Inner
	}
	return err.Error()
}

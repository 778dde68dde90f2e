// Package faults classifies the errors a submission can end with.
//
// Every failure the engine reports carries a Kind so the driver can decide
// whether the error is offered to the recovery advisor or ends the
// submission, and so the submission record can state exactly what happened.
package faults

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies a class of submission failure
type Kind string

const (
	MissingRequiredValue  Kind = "missing_required_value"
	SelectorNotFound      Kind = "selector_not_found"
	UnmappedDropdownValue Kind = "unmapped_dropdown_value"
	AmbiguousOutcome      Kind = "ambiguous_outcome"
	UnexpectedDialog      Kind = "unexpected_dialog"
	AdvisorTimeout        Kind = "advisor_timeout"
	AdvisorInvalidAction  Kind = "advisor_invalid_action"
	SessionError          Kind = "session_error"
	PortalRejected        Kind = "portal_rejected"
	Cancelled             Kind = "cancelled"
	InvalidConfiguration  Kind = "invalid_configuration"
	InvalidValue          Kind = "invalid_value"
	Unknown               Kind = "unknown"
)

// Recoverable reports whether failures of this kind may be offered to the
// recovery advisor.
func (k Kind) Recoverable() bool {
	switch k {
	case SelectorNotFound, AmbiguousOutcome, UnexpectedDialog:
		return true
	default:
		return false
	}
}

// Error is a classified submission error
type Error struct {
	Kind      Kind
	Step      string
	Page      string
	Field     string
	Selectors []string
	Message   string
	Err       error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Page != "" {
		fmt.Fprintf(&b, " on page %q", e.Page)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " field %q", e.Field)
	}
	if len(e.Selectors) > 0 {
		fmt.Fprintf(&b, " (tried %s)", strings.Join(e.Selectors, ", "))
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a message
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err, Message: message}
}

// KindOf returns the kind of err, mapping context errors to Cancelled
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	var mf *MissingFieldsError
	if errors.As(err, &mf) {
		return MissingRequiredValue
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}
	return Unknown
}

// Recoverable reports whether err may be offered to the advisor
func Recoverable(err error) bool {
	return KindOf(err).Recoverable()
}

// MissingField describes one required field that could not be resolved
type MissingField struct {
	Page  string
	Field string
	Line  int
}

func (m MissingField) String() string {
	if m.Line > 0 {
		return fmt.Sprintf("%s/%s[line %d]", m.Page, m.Field, m.Line)
	}
	return fmt.Sprintf("%s/%s", m.Page, m.Field)
}

// MissingFieldsError lists every required field left unresolved when a
// submission was planned. It is raised before any browser action.
type MissingFieldsError struct {
	Fields []MissingField
}

func (e *MissingFieldsError) Error() string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.String()
	}
	return fmt.Sprintf("%s: %d required field(s) unresolved: %s",
		MissingRequiredValue, len(e.Fields), strings.Join(names, ", "))
}

// Package errors implements the protocol-neutral error taxonomy every
// front-end adapter translates to its own wire format at the boundary.
package errors

import "fmt"

// Kind is one of the error kinds from the taxonomy. It is the only
// thing recorded in an ActionRecord — never the message — so history
// and metrics stay cardinality-safe.
type Kind string

const (
	InvalidArgument    Kind = "InvalidArgument"
	Unauthorized       Kind = "Unauthorized"
	PermissionDenied   Kind = "PermissionDenied"
	NotFound           Kind = "NotFound"
	ResourceExhausted  Kind = "ResourceExhausted"
	Timeout            Kind = "Timeout"
	Canceled           Kind = "Canceled"
	BlockedByPolicy    Kind = "BlockedByPolicy"
	BrowserCrashed     Kind = "BrowserCrashed"
	ScriptRuntimeError Kind = "ScriptRuntimeError"
	UpstreamProxyFailure Kind = "UpstreamProxyFailure"
	Internal           Kind = "Internal"
)

// Error is the core error type. Cause is never serialized to a client;
// adapters surface only Kind and Message.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// E builds an *Error of the given kind around a lower-level cause,
// using the cause's own message as the message. Shorthand used at
// call sites that only have an error, not a separate message string.
func E(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: cause.Error(), Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to Internal for anything
// that isn't an *Error — callers never leak raw error strings as kinds.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Internal
}

// FieldError is one field's validation failure.
type FieldError struct {
	Field  string
	Reason string
}

// ValidationErrors accumulates field errors the way config.Validate()
// and model Validate() methods across the codebase expect:
//
//	ve := errors.ValidationErrs()
//	if x == "" { ve.Add("x", "cannot be empty") }
//	return ve.Err()
type ValidationErrors struct {
	fields []FieldError
}

// ValidationErrs starts a new accumulator.
func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{}
}

func (v *ValidationErrors) Add(field, reason string) {
	v.fields = append(v.fields, FieldError{Field: field, Reason: reason})
}

func (v *ValidationErrors) HasErrors() bool {
	return len(v.fields) > 0
}

// Err returns nil if no fields were added, otherwise an *Error of kind
// InvalidArgument summarizing every violation.
func (v *ValidationErrors) Err() error {
	if !v.HasErrors() {
		return nil
	}
	msg := ""
	for i, f := range v.fields {
		if i > 0 {
			msg += "; "
		}
		msg += fmt.Sprintf("%s: %s", f.Field, f.Reason)
	}
	return &Error{Kind: InvalidArgument, Message: msg}
}

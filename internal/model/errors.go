// Package model holds the graph entity types, job-state types, and the
// tagged error taxonomy shared by every adapter and step in the ingestion
// core.
package model

import "fmt"

// Kind identifies one of the stable error categories surfaced to callers
// of the pipeline. Kinds are compared by value, never by the wrapped
// error's formatted text.
type Kind string

const (
	KindConfigError          Kind = "ConfigError"
	KindGraphConnectionError Kind = "GraphConnectionError"
	KindGraphQueryError      Kind = "GraphQueryError"
	KindSchemaError          Kind = "SchemaError"
	KindStepTimeout          Kind = "StepTimeout"
	KindStepFailed           Kind = "StepFailed"
	KindExternalProcessError Kind = "ExternalProcessError"
	KindLLMAuthError         Kind = "LLMAuthError"
	KindLLMRateLimited       Kind = "LLMRateLimited"
	KindCancelledError       Kind = "CancelledError"
)

// Error is a tagged error: every failure that crosses an adapter boundary
// carries a stable Kind alongside the wrapped cause, so callers can
// pattern-match on Kind() instead of parsing error text.
type Error struct {
	Kind     Kind
	Message  string
	TenantID string // KindLLMAuthError tenant id; OpenAIClient never sets it
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, &model.Error{Kind: model.KindStepTimeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a tagged error wrapping cause under kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Newf is New with a formatted message.
func Newf(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, and the
// zero Kind otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if te, ok := err.(*Error); ok {
			e = te
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}

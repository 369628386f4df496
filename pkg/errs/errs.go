// Package errs defines the transport-agnostic domain error vocabulary used
// throughout the estimator: validation, auth, RBAC, concurrency, payment and
// rate-limit failures all map to one of these kinds so the HTTP layer can
// translate them to a status code without knowing which component raised
// them.
package errs

import (
	"errors"
	"fmt"
)

// Kind categorizes a domain error. Kinds are stable and transport-agnostic;
// the HTTP layer owns the mapping to status codes.
type Kind string

const (
	Validation      Kind = "validation"
	Unauthenticated Kind = "unauthenticated"
	Forbidden       Kind = "forbidden"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	PaymentRequired Kind = "payment_required"
	RateLimited     Kind = "rate_limited"
	TooLarge        Kind = "too_large"
	Internal        Kind = "internal"
)

// Error is the concrete domain error type. Code is a short machine-readable
// token distinct from Kind (e.g. Kind=validation, Code="missing_description")
// so callers can discriminate within a kind without string-matching Message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error

	// Meta carries kind-specific structured detail surfaced to the caller,
	// e.g. {"expected_version": ..., "actual_version": ...} for Conflict.
	Meta map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error target of the same Kind, whatever its Code and
// Message, so errors.Is(err, errs.New(errs.NotFound, "", "")) checks the kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func WithMeta(kind Kind, code, message string, meta map[string]any) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Meta: meta}
}

// KindOf extracts the Kind of err, defaulting to Internal for errors that
// were never tagged — the propagation policy from the spec: unexpected
// errors surface as Internal, never leak detail.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func NotFoundf(code, format string, a ...any) *Error {
	return New(NotFound, code, fmt.Sprintf(format, a...))
}

func Validationf(code, format string, a ...any) *Error {
	return New(Validation, code, fmt.Sprintf(format, a...))
}

func Forbiddenf(code, format string, a ...any) *Error {
	return New(Forbidden, code, fmt.Sprintf(format, a...))
}

func Internalf(code string, err error) *Error {
	return Wrap(Internal, code, "internal error", err)
}

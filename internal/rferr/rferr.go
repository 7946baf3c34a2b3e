// Package rferr implements Renfield's closed error taxonomy (§7),
// mapping every error kind to a stable wire-level code so transports
// never have to re-derive classification from error strings.
package rferr

import (
	"errors"
	"fmt"
)

// Kind is one of the fixed error categories from §7.
type Kind string

const (
	KindInputInvalid       Kind = "input_invalid"
	KindAuthFailed         Kind = "auth_failed"
	KindPermissionDenied   Kind = "permission_denied"
	KindResourceNotFound   Kind = "resource_not_found"
	KindRateLimited        Kind = "rate_limited"
	KindCircuitOpen        Kind = "circuit_open"
	KindLLMUnavailable     Kind = "llm_unavailable"
	KindLLMMalformedOutput Kind = "llm_malformed_output"
	KindToolFailed         Kind = "tool_failed"
	KindTimeout            Kind = "timeout"
	KindCancelled          Kind = "cancelled"
	KindInternal           Kind = "internal_error"
)

// WireCode returns the stable code sent to clients for this kind.
func (k Kind) WireCode() string { return string(k) }

// Retryable reports whether the propagation policy (§7) allows a
// local retry for this kind without surfacing to the user.
func (k Kind) Retryable() bool {
	switch k {
	case KindTimeout, KindLLMMalformedOutput, KindToolFailed:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with a Kind and optional structured
// detail (e.g. retry-after duration, resource name).
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of kind with a plain message, no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches kind to an existing error as its cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithDetail attaches structured detail (e.g. {"retry_after": "5s"})
// and returns the same *Error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

// KindOf extracts the Kind from err if it (or something it wraps) is
// an *Error, defaulting to KindInternal otherwise.
func KindOf(err error) Kind {
	var rfe *Error
	if errors.As(err, &rfe) {
		return rfe.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind to the REST status code §6.2 expects.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInputInvalid:
		return 400
	case KindAuthFailed:
		return 401
	case KindPermissionDenied:
		return 403
	case KindResourceNotFound:
		return 404
	case KindRateLimited:
		return 429
	case KindCircuitOpen:
		return 503
	case KindLLMUnavailable, KindLLMMalformedOutput, KindToolFailed:
		return 502
	case KindTimeout:
		return 504
	case KindCancelled:
		return 499
	default:
		return 500
	}
}

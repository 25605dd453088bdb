// Package fault classifies errors crossing component boundaries.
//
// Components wrap their errors in a [Error] carrying a [Kind]; transports map
// kinds to wire codes and HTTP statuses without inspecting error text. Wrapped
// errors stay reachable through errors.Is / errors.As.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the coarse classification of a failure. It determines how the error
// surfaces to the caller (wire code, HTTP status, retriability).
type Kind int

const (
	// KindInternal is a programmer error or invariant violation.
	KindInternal Kind = iota

	// KindInputValidation is a malformed inbound message or missing field.
	// No turn is started.
	KindInputValidation

	// KindPolicyDenied means tenant policy rejected the inbound.
	KindPolicyDenied

	// KindProviderTransient is an LLM/TTS timeout or 5xx. Retriable above
	// the core; the core itself never retries.
	KindProviderTransient

	// KindProviderAuth is an LLM/TTS authentication failure. Not retriable.
	KindProviderAuth

	// KindBackendUnavailable means a session or checkpoint backend is
	// unreachable. The enclosing use case fails; the connection may stay up.
	KindBackendUnavailable

	// KindCancelled is cooperative cancellation from interruption. Surfaces
	// as an interrupted marker, never as an error frame.
	KindCancelled
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case KindInputValidation:
		return "input_validation"
	case KindPolicyDenied:
		return "policy_denied"
	case KindProviderTransient:
		return "provider_transient"
	case KindProviderAuth:
		return "provider_auth"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Code returns the wire error code clients see for this kind.
func (k Kind) Code() string {
	switch k {
	case KindInputValidation:
		return "INVALID_REQUEST"
	case KindPolicyDenied:
		return "POLICY_DENIED"
	case KindProviderTransient:
		return "PROVIDER_UNAVAILABLE"
	case KindProviderAuth:
		return "PROVIDER_AUTH"
	case KindBackendUnavailable:
		return "BACKEND_UNAVAILABLE"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "INTERNAL"
	}
}

// Error is a classified error. Op names the failing operation in
// "package: action" form, matching the wrapping convention used everywhere
// else in this codebase.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and operation context.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf wraps a formatted message as a classified error.
func Errorf(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf walks err's chain and returns the outermost classified kind.
// Bare context.Canceled classifies as [KindCancelled]; deadline errors do
// not — the boundary that set the deadline is responsible for classifying
// them (provider timeouts are transient, store timeouts are backend
// failures). Everything unclassified is [KindInternal].
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

package saferun

import (
	"errors"
	"fmt"
)

// Error kind constants for classification and matching
const (
	// ErrKindInvalidConfig indicates a malformed workflow or checkpoint
	// configuration. This is a caller error and is never retried.
	ErrKindInvalidConfig = "invalid_config"

	// ErrKindNotFound indicates an unknown workflow or approval request ID.
	ErrKindNotFound = "not_found"

	// ErrKindInvalidTransition indicates an event that is not legal from the
	// workflow's current state. The workflow record is left unmodified.
	ErrKindInvalidTransition = "invalid_transition"

	// ErrKindDuplicatePending indicates an attempt to open a second approval
	// request while one is already outstanding for the workflow.
	ErrKindDuplicatePending = "duplicate_pending"

	// ErrKindNoPendingApproval indicates an approval response was submitted
	// with no outstanding request for the workflow.
	ErrKindNoPendingApproval = "no_pending_approval"

	// ErrKindStaleResponse indicates an approval response arrived after the
	// request expired. The caller must treat the expiry as a timeout event.
	ErrKindStaleResponse = "stale_response"

	// ErrKindExpired indicates an approval request is past its expiry.
	ErrKindExpired = "expired"

	// ErrKindAlreadyResolved indicates an approval request was resolved twice.
	ErrKindAlreadyResolved = "already_resolved"

	// ErrKindStorageFailure indicates the artifact collaborator failed. The
	// orchestrator does not advance state; the caller may retry.
	ErrKindStorageFailure = "storage_failure"

	// ErrKindPaymentFailure indicates the payment collaborator failed. The
	// orchestrator does not advance state; the caller may retry.
	ErrKindPaymentFailure = "payment_failure"

	// ErrKindCompensationFailed indicates a rollback could not fully undo
	// prior actions. The workflow is forced to FAILED and the
	// partial-compensation record is preserved for manual reconciliation.
	ErrKindCompensationFailed = "compensation_failed"

	// ErrKindOverdraw indicates a computed disbursement would exceed the
	// remaining escrow. This is an internal invariant violation, not a normal
	// user-facing condition.
	ErrKindOverdraw = "overdraw"

	// ErrKindIdentityUnverified indicates an identity role check failed
	// before a payment-affecting transition.
	ErrKindIdentityUnverified = "identity_unverified"

	// ErrKindInternal is the fallback kind for unclassified errors.
	ErrKindInternal = "internal"
)

// Error is a structured error with a kind for classification. It supports
// Go's error wrapping patterns with Unwrap().
type Error struct {
	Kind    string `json:"kind"`
	Cause   string `json:"cause"`
	Details any    `json:"details,omitempty"`
	Wrapped error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

// Unwrap implements the error unwrapping interface for errors.Is and errors.As
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// NewError creates a new Error with the specified kind and cause.
func NewError(kind, cause string) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Errorf creates a new Error with a formatted cause. Any wrapped error passed
// via %w remains reachable through Unwrap.
func Errorf(kind, format string, args ...any) *Error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Cause: err.Error(), Wrapped: errors.Unwrap(err)}
}

// Classify returns the *Error for err, wrapping unclassified errors with
// ErrKindInternal.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ErrKindInternal, Cause: err.Error(), Wrapped: err}
}

// IsKind reports whether err is (or wraps) an Error of the given kind.
func IsKind(err error, kind string) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrKind returns the kind for err, or an empty string for nil and for
// errors that do not wrap an Error.
func ErrKind(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

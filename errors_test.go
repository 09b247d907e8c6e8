package saferun

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorWrapping(t *testing.T) {
	// Basic error creation
	err := NewError(ErrKindNotFound, "workflow missing")
	require.Equal(t, "not_found: workflow missing", err.Error())
	require.Nil(t, err.Unwrap())

	// Errorf with %w keeps the wrapped error reachable
	original := errors.New("connection refused")
	wrapped := Errorf(ErrKindPaymentFailure, "failed to lock escrow: %w", original)
	require.Equal(t, "payment_failure: failed to lock escrow: connection refused", wrapped.Error())
	require.True(t, errors.Is(wrapped, original))

	// errors.As finds the structured error through wrapping
	var e *Error
	require.True(t, errors.As(wrapped, &e))
	require.Equal(t, ErrKindPaymentFailure, e.Kind)
}

func TestErrorClassification(t *testing.T) {
	// A structured error passes through unchanged
	structured := NewError(ErrKindOverdraw, "payout exceeds escrow")
	classified := Classify(structured)
	require.Equal(t, structured, classified)

	// Unclassified errors get the internal kind and stay unwrappable
	generic := errors.New("something went wrong")
	classified = Classify(generic)
	require.Equal(t, ErrKindInternal, classified.Kind)
	require.True(t, errors.Is(classified, generic))
}

func TestErrorKindMatching(t *testing.T) {
	err := Errorf(ErrKindInvalidTransition, "event %q not legal", "settle")

	require.True(t, IsKind(err, ErrKindInvalidTransition))
	require.False(t, IsKind(err, ErrKindNotFound))
	require.False(t, IsKind(nil, ErrKindNotFound))
	require.Equal(t, ErrKindInvalidTransition, ErrKind(err))
	require.Equal(t, "", ErrKind(errors.New("plain")))
	require.Equal(t, "", ErrKind(nil))
}

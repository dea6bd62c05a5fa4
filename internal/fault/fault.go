// Package fault defines the error classes shared by the core engine.
// Callers branch on the class with errors.Is; the wrapped message carries
// the human-readable context.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict marks a lost race: station already claimed, or a
	// concurrent status transition won first. User-actionable, retryable
	// at the caller's discretion, never retried by the core.
	ErrConflict = errors.New("conflict")

	// ErrInvariant marks a rejected mutation that would corrupt flow or
	// session state. The caller must correct the input, not retry.
	ErrInvariant = errors.New("invariant violation")

	// ErrNotFound marks an unknown station, session, step or job item.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks structurally invalid input, rejected before any
	// write.
	ErrValidation = errors.New("validation error")

	// ErrStoreUnavailable marks a transient store failure. The only class
	// the caller may retry with backoff; a failed transaction leaves no
	// partial state.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Conflictf wraps ErrConflict with formatted context.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Invariantf wraps ErrInvariant with formatted context.
func Invariantf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvariant)...)
}

// NotFoundf wraps ErrNotFound with formatted context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Validationf wraps ErrValidation with formatted context.
func Validationf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrValidation)...)
}

// Storef wraps ErrStoreUnavailable around a store-layer error.
func Storef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrStoreUnavailable)...)
}

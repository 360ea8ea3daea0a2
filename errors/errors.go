// Package errors provides error handling for conveyor.
//
// It re-exports github.com/cockroachdb/errors, giving the rest of the
// repository stack traces, wrapping with context, and detail/hint
// annotations without importing the upstream package directly.
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrStoreUnavailable) {
//	    // back off and retry next cycle
//	}
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Mark gives an error the identity of a reference error for errors.Is
// without changing its message. Used to tag driver errors with the
// ErrStoreUnavailable sentinel.
var Mark = crdb.Mark

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Sentinel errors shared across conveyor.
// Use these with errors.Is() for type-safe error checking.
// Wrap them with errors.Wrap() to add context while preserving the type.
var (
	// ErrStoreUnavailable indicates a transient failure talking to the
	// invocation store. Callers log and retry on the next dispatch cycle.
	ErrStoreUnavailable = New("invocation store unavailable")

	// ErrNotFound indicates the requested invocation or blob does not exist
	ErrNotFound = New("not found")

	// ErrInvalidPayload indicates a payload could not be decoded or bound
	ErrInvalidPayload = New("invalid payload")
)

// IsNotFound checks if an error is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsStoreUnavailable checks if an error is or wraps ErrStoreUnavailable.
func IsStoreUnavailable(err error) bool {
	return err != nil && Is(err, ErrStoreUnavailable)
}

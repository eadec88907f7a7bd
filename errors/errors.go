// Package errors provides error handling for etlpulse.
//
// This package re-exports github.com/cockroachdb/errors, providing stack
// traces, wrapping and user-facing details, plus the sentinel errors shared
// by the scheduler, the job queue and the stores.
//
// Usage:
//
//	if err := store.Claim(ctx, id, now); err != nil {
//	    return errors.Wrapf(err, "failed to claim schedule %d", id)
//	}
//
//	if errors.Is(err, errors.ErrStatusFinalized) {
//	    // job already reached a terminal status
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
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
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors. Wrap them with Wrap/Wrapf to add context while keeping
// them matchable with Is.
var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates the request was malformed or invalid
	ErrInvalidRequest = New("invalid request")

	// ErrConflict indicates a conditional update lost against a concurrent writer
	ErrConflict = New("resource conflict")

	// ErrAlreadyExists indicates a record with the same identity already exists
	ErrAlreadyExists = New("already exists")

	// ErrStatusFinalized indicates an attempt to change a terminal job status
	ErrStatusFinalized = New("status already finalized")

	// ErrStaleRecord indicates the record changed between read and write
	ErrStaleRecord = New("stale record")

	// ErrIntegrity indicates persisted data violates a uniqueness invariant
	ErrIntegrity = New("integrity violation")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// IsAlreadyExists checks if an error is or wraps ErrAlreadyExists
func IsAlreadyExists(err error) bool {
	return err != nil && Is(err, ErrAlreadyExists)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrapf(ErrNotFound, format, args...)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Wrapf(ErrInvalidRequest, format, args...)
}

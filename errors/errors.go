// Package errors provides error handling for omnispatial.
//
// This package re-exports github.com/cockroachdb/errors so every package
// gets stack traces, wrapping, hints and details from one import:
//
//	// Wrap with the offending layer
//	if err := w.writeImage(ctx, layer); err != nil {
//	    return errors.Wrapf(err, "image layer %q", layer.Name)
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "pass --compressor none to disable compression")
//
//	// Check errors
//	if errors.Is(err, zarr.ErrChunkTooLarge) {
//	    // retry with a smaller chunk
//	}
//
// Domain sentinels live next to the code that raises them (affine, spatial,
// rasterize, zarr, ngff, validate). The sentinels below are shared across
// packages.
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
	Mark         = crdb.Mark
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
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Shared sentinel errors. Wrap these with errors.Wrap() to add context while
// preserving the type, or attach them to an existing error with Mark.
var (
	// ErrNotFound indicates the requested object, layer or adapter does not exist
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates a caller-supplied value was rejected
	// (unsupported compressor, unknown format tag, malformed chunk shape)
	ErrInvalidRequest = New("invalid request")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsInvalidRequestError checks if an error is or wraps ErrInvalidRequest
func IsInvalidRequestError(err error) bool {
	return err != nil && Is(err, ErrInvalidRequest)
}

// NewInvalidRequestError creates an invalid-request error with a formatted message
func NewInvalidRequestError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// MarkInvalidRequest tags err as an invalid-request error while keeping its
// own identity for errors.Is checks against domain sentinels.
func MarkInvalidRequest(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrInvalidRequest)
}

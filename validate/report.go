// Package validate checks written bundles for structural and semantic
// problems. Findings are collected into a Report rather than returned as
// errors; only a bundle that cannot be opened at all yields an error.
package validate

import (
	"github.com/jameshyojaelee/omnispatial/errors"
)

// Severity grades an issue.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Issue codes.
const (
	CodeImagesMissing                = "IMAGES_MISSING"
	CodeMetadataMissing              = "METADATA_MISSING"
	CodeAxisUnitMissing              = "AXIS_UNIT_MISSING"
	CodeDatasetMissing               = "DATASET_MISSING"
	CodeImageReadError               = "IMAGE_READ_ERROR"
	CodeScaleMissing                 = "SCALE_MISSING"
	CodeScaleNonPositive             = "SCALE_NON_POSITIVE"
	CodeScaleDimensionMismatch       = "SCALE_DIMENSION_MISMATCH"
	CodeScaleNonMonotonic            = "SCALE_NON_MONOTONIC"
	CodeTranslationDimensionMismatch = "TRANSLATION_DIMENSION_MISMATCH"
	CodeTransformNonInvertible       = "TRANSFORM_NON_INVERTIBLE"
	CodeLabelMetadataMissing         = "LABEL_METADATA_MISSING"
	CodeLabelShapeMismatch           = "LABEL_SHAPE_MISMATCH"
	CodeLabelBoundary                = "LABEL_BOUNDARY"
	CodeLabelReadError               = "LABEL_READ_ERROR"
	CodeTableReadError               = "TABLE_READ_ERROR"
	CodeTableDuplicateIndex          = "TABLE_DUPLICATE_INDEX"
	CodeTableLabelMismatch           = "TABLE_LABEL_MISMATCH"
)

// Summary keys.
const (
	SummaryTarget = "target"
	SummaryFormat = "format"
	SummaryImages = "images"
	SummaryLabels = "labels"
	SummaryTables = "tables"
)

// Issue is one finding.
type Issue struct {
	Code     string   `json:"code"`
	Message  string   `json:"message"`
	Path     string   `json:"path"`
	Severity Severity `json:"severity"`
}

// Report is the outcome of one validation pass. OK is true iff no issue
// has error severity.
type Report struct {
	OK      bool           `json:"ok"`
	Issues  []Issue        `json:"issues"`
	Summary map[string]any `json:"summary"`
}

// Errors returns the error-severity issues.
func (r Report) Errors() []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Severity == SeverityError {
			out = append(out, is)
		}
	}
	return out
}

// Has reports whether an issue with code was found.
func (r Report) Has(code string) bool {
	for _, is := range r.Issues {
		if is.Code == code {
			return true
		}
	}
	return false
}

// ExitCode is 0 for a passing report and 1 otherwise. Unreadable bundles
// map to 2 at the command layer since they produce no report.
func (r Report) ExitCode() int {
	if r.OK {
		return 0
	}
	return 1
}

var (
	// ErrBundleUnreadable matches every *UnreadableError.
	ErrBundleUnreadable = errors.New("bundle unreadable")

	ErrUnsupportedFormat = errors.New("unsupported validation format")
)

// UnreadableError means validation could not run at all.
type UnreadableError struct {
	Target string
	Err    error
}

func (e *UnreadableError) Error() string {
	return "bundle " + e.Target + " is unreadable: " + e.Err.Error()
}

func (e *UnreadableError) Unwrap() error { return e.Err }

func (e *UnreadableError) Is(target error) bool { return target == ErrBundleUnreadable }

func unreadable(target string, err error) error {
	return errors.Mark(&UnreadableError{Target: target, Err: err}, ErrBundleUnreadable)
}

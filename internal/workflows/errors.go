package workflows

import (
	"errors"
	"fmt"
)

// ErrWorkflowNotFound is returned when a workflow is not registered.
var ErrWorkflowNotFound = errors.New("workflow not found")

// FailureKind classifies terminal workflow outcomes. The orchestrator must
// distinguish them deterministically, so they travel in results instead of
// being thrown across orchestration boundaries.
type FailureKind string

const (
	// FailureNone marks a successful run.
	FailureNone FailureKind = ""

	// FailureRejected is a client error: missing or invalid source, bad
	// time window. No side effects have happened.
	FailureRejected FailureKind = "rejected"

	// FailureAcquisition means no asset was ever produced. Nothing is
	// published; the catalog is untouched.
	FailureAcquisition FailureKind = "acquisition_failed"

	// FailureCatalog means the catalog document is missing or corrupt.
	// The asset upload has already happened by then: the asset can exist
	// in storage without a catalog entry, an accepted inconsistency
	// window that is logged, never hidden.
	FailureCatalog FailureKind = "catalog_fatal"

	// FailureInternal covers unexpected step errors (storage I/O and the
	// like) after acquisition.
	FailureInternal FailureKind = "internal"
)

// PipelineError tags an underlying error with its failure kind.
type PipelineError struct {
	Kind FailureKind
	Err  error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Rejected wraps err as a terminal validation failure.
func Rejected(err error) error {
	return &PipelineError{Kind: FailureRejected, Err: err}
}

// AcquisitionFailed wraps err as a terminal acquisition failure.
func AcquisitionFailed(err error) error {
	return &PipelineError{Kind: FailureAcquisition, Err: err}
}

// CatalogFatal wraps err as a terminal catalog failure.
func CatalogFatal(err error) error {
	return &PipelineError{Kind: FailureCatalog, Err: err}
}

// KindOf extracts the failure kind from err, defaulting to FailureInternal
// for untagged errors and FailureNone for nil.
func KindOf(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return FailureInternal
}

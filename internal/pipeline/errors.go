package pipeline

import (
	"fmt"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
)

// PipelineErrorCause enumerates SPEC_FULL.md §7's error taxonomy for the
// cases the orchestrator itself raises directly (input validation, the
// PDF branch it deliberately does not implement, and deadline
// expiration). Every other failure surfaces as whatever
// failure.ClassifiedError its owning component already returns
// (fetcher.FetchError, reliable.ExtractionFailedError, cache.CacheError,
// ...); Execute does not re-wrap those, it reports them as-is so a
// caller inspecting the concrete type still sees which component failed.
type PipelineErrorCause string

const (
	ErrCauseInvalidInput  PipelineErrorCause = "invalid_input"
	ErrCausePDFUnsupported PipelineErrorCause = "pdf_unsupported"
	ErrCauseTimeout       PipelineErrorCause = "timeout"
)

// PipelineError is PipelineError::InvalidInput / ::Timeout / the PDF
// branch's out-of-scope report, per SPEC_FULL.md §7's table: none of
// these three are retryable by the orchestrator itself.
type PipelineError struct {
	URL     string
	Message string
	Cause   PipelineErrorCause
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline error (%s): %s: %s", e.Cause, e.URL, e.Message)
}

func (e *PipelineError) Severity() failure.Severity {
	return failure.SeverityFatal
}

func (e *PipelineError) IsRetryable() bool {
	return false
}

var _ failure.ClassifiedError = (*PipelineError)(nil)

// mapPipelineErrorToMetadataCause is observational only, mirroring the
// bridging convention every component-local error type in this tree
// already follows.
func mapPipelineErrorToMetadataCause(err *PipelineError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseTimeout:
		return metadata.CauseRetryFailure
	case ErrCausePDFUnsupported:
		return metadata.CauseUnknown
	default:
		return metadata.CauseInvariantViolation
	}
}

package reliable

import (
	"fmt"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
)

type ExtractionErrorCause string

const (
	ErrCausePrimaryFailed       ExtractionErrorCause = "primary extraction failed"
	ErrCauseFallbackFailed      ExtractionErrorCause = "fallback extraction failed"
	ErrCauseBothFailed          ExtractionErrorCause = "primary and fallback both failed"
	ErrCauseUnsupportedPath     ExtractionErrorCause = "unsupported extraction path"
)

// ExtractionFailedError is PipelineError::ExtractionFailed: it carries
// both the primary and fallback error descriptions (fallback may be
// empty if no fallback was attempted) so the metadata still reports what
// was tried, per §4.4's graceful-degradation requirement.
type ExtractionFailedError struct {
	Message       string
	Retryable     bool
	Cause         ExtractionErrorCause
	PrimaryError  string
	FallbackError string
}

func (e *ExtractionFailedError) Error() string {
	if e.FallbackError != "" {
		return fmt.Sprintf("extraction failed: %s (primary: %s, fallback: %s)", e.Message, e.PrimaryError, e.FallbackError)
	}
	return fmt.Sprintf("extraction failed: %s (primary: %s)", e.Message, e.PrimaryError)
}

func (e *ExtractionFailedError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *ExtractionFailedError) IsRetryable() bool {
	return e.Retryable
}

var _ failure.ClassifiedError = (*ExtractionFailedError)(nil)

func mapExtractionFailedToMetadataCause(err *ExtractionFailedError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseUnsupportedPath:
		return metadata.CauseUnknown
	default:
		return metadata.CauseContentInvalid
	}
}

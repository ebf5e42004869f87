package headless

import (
	"fmt"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
)

type RenderErrorCause string

const (
	ErrCauseInFlightCapExceeded = "in-flight cap exceeded"
	ErrCauseTimeout             = "render timed out"
	ErrCauseCircuitOpen         = "headless_render circuit open"
	ErrCauseNavigationFailed    = "navigation failed"
	ErrCauseBrowserCrash        = "browser crashed"
)

type RenderError struct {
	Message   string
	Retryable bool
	Cause     RenderErrorCause
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("headless render error: %s", e.Message)
}

func (e *RenderError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *RenderError) IsRetryable() bool {
	return e.Retryable
}

var _ failure.ClassifiedError = (*RenderError)(nil)

// mapRenderErrorToMetadataCause maps headless-local error semantics to
// the canonical metadata.ErrorCause table. Observational only; must
// never drive control flow.
func mapRenderErrorToMetadataCause(err *RenderError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseTimeout, ErrCauseInFlightCapExceeded:
		return metadata.CauseNetworkFailure
	case ErrCauseCircuitOpen:
		return metadata.CausePolicyDisallow
	case ErrCauseNavigationFailed, ErrCauseBrowserCrash:
		return metadata.CauseContentInvalid
	default:
		return metadata.CauseUnknown
	}
}

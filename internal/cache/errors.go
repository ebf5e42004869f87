package cache

import (
	"fmt"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
)

type CacheErrorCause string

const (
	ErrCauseDiskWriteFailed CacheErrorCause = "disk spillover write failed"
	ErrCauseDiskReadFailed  CacheErrorCause = "disk spillover read failed"
	ErrCauseMiss            CacheErrorCause = "cache miss"
)

// CacheError is PipelineError::Cache.Io (or Cache.Miss, which callers
// treat as a signal to proceed without cache rather than a real error).
type CacheError struct {
	Message   string
	Retryable bool
	Cause     CacheErrorCause
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error: %s: %s", e.Cause, e.Message)
}

func (e *CacheError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *CacheError) IsRetryable() bool {
	return e.Retryable
}

var _ failure.ClassifiedError = (*CacheError)(nil)

// mapCacheErrorToMetadataCause is observational only, per the bridging
// convention every other component-local error type in this tree
// follows (fetcher, extractor, reliable all do the same mapping).
func mapCacheErrorToMetadataCause(err *CacheError) metadata.ErrorCause {
	switch err.Cause {
	case ErrCauseMiss:
		return metadata.CauseUnknown
	default:
		return metadata.CauseStorageFailure
	}
}

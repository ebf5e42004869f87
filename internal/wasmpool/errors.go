package wasmpool

import (
	"fmt"

	"github.com/kestrelsoft/hxpipe/pkg/failure"
)

type PoolErrorCause string

const (
	ErrCauseAcquireTimeout = "acquire timed out"
	ErrCauseFuelExhausted  = "fuel budget exhausted"
	ErrCauseEpochExceeded  = "epoch deadline exceeded"
	ErrCauseMemoryExceeded = "memory cap exceeded"
)

// PoolError is the WASM instance pool's classified error type, reported
// through the same failure.ClassifiedError contract every other
// component uses.
type PoolError struct {
	Message   string
	Retryable bool
	Cause     PoolErrorCause
}

func (e *PoolError) Error() string {
	return fmt.Sprintf("wasm pool error: %s", e.Cause)
}

func (e *PoolError) Severity() failure.Severity {
	if e.Retryable {
		return failure.SeverityRecoverable
	}
	return failure.SeverityFatal
}

func (e *PoolError) IsRetryable() bool {
	return e.Retryable
}

var _ failure.ClassifiedError = (*PoolError)(nil)

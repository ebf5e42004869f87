package retry

import "github.com/kestrelsoft/hxpipe/pkg/failure"

// Result is the outcome of a Retry call: either a value and the attempt
// count that produced it, or the final classified error after retries
// were exhausted or a non-retryable error was hit.
type Result[T any] struct {
	value    T
	err      failure.ClassifiedError
	attempts int
}

// NewSuccessResult wraps a successful value and the attempt count it took.
func NewSuccessResult[T any](value T, attempts int) Result[T] {
	return Result[T]{value: value, attempts: attempts}
}

// IsSuccess reports whether the retry loop produced a value.
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}

// IsFailure reports whether the retry loop ended in error.
func (r Result[T]) IsFailure() bool {
	return r.err != nil
}

// Value returns the produced value, or the zero value on failure.
func (r Result[T]) Value() T {
	return r.value
}

// Err returns the final classified error, or nil on success.
func (r Result[T]) Err() failure.ClassifiedError {
	return r.err
}

// Attempts reports how many attempts were made.
func (r Result[T]) Attempts() int {
	return r.attempts
}

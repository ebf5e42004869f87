package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext is the per-request handle Execute creates on entry
// and discards on response: a correlation id every emitted event
// carries, and the deadline context.Context wraps with WithTimeout.
// It holds no goroutines or background state of its own.
type ExecutionContext struct {
	RequestID uuid.UUID
	StartedAt time.Time
	Deadline  time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// DefaultExecutionTimeout bounds a single Execute call absent an
// explicit deadline on the caller's context, per SPEC_FULL.md §4.1.
const DefaultExecutionTimeout = 30 * time.Second

// NewExecutionContext derives a deadline-bound ExecutionContext from
// parent. If parent carries no deadline, DefaultExecutionTimeout is
// applied.
func NewExecutionContext(parent context.Context) *ExecutionContext {
	now := time.Now()
	deadline := now.Add(DefaultExecutionTimeout)
	ctx := parent
	var cancel context.CancelFunc
	if _, ok := parent.Deadline(); !ok {
		ctx, cancel = context.WithDeadline(parent, deadline)
	} else {
		ctx, cancel = context.WithCancel(parent)
		deadline, _ = ctx.Deadline()
	}
	return &ExecutionContext{
		RequestID: uuid.New(),
		StartedAt: now,
		Deadline:  deadline,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Context returns the deadline-bound context.Context for this request.
func (e *ExecutionContext) Context() context.Context { return e.ctx }

// Done releases the context's resources. Callers must call this exactly
// once when the request completes, successfully or not.
func (e *ExecutionContext) Done() {
	if e.cancel != nil {
		e.cancel()
	}
}

// Elapsed reports how long the request has been running.
func (e *ExecutionContext) Elapsed() time.Duration {
	return time.Since(e.StartedAt)
}

package eventbus

import (
	"time"

	"github.com/google/uuid"
)

// Severity mirrors internal/metadata's logging levels but is defined
// locally: an event's severity decides backpressure behavior in this
// package, which metadata.ErrorCause must never be used for (see
// internal/metadata's doc comment on that rule).
type Severity int

const (
	Info Severity = iota
	Warn
	Error
)

func (s Severity) String() string {
	switch s {
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return "info"
	}
}

// Event is one lifecycle notification. Metadata values are primitives only,
// the same discipline internal/metadata's Recorder enforces.
type Event struct {
	Type          string
	Source        string
	Severity      Severity
	Timestamp     time.Time
	Metadata      map[string]any
	CorrelationID uuid.UUID
}

// New builds an Event stamped with the current time. CorrelationID should
// be threaded from the originating ExecutionContext so every event a
// single request produces can be joined back together.
func New(eventType, source string, severity Severity, correlationID uuid.UUID, metadata map[string]any) Event {
	return Event{
		Type:          eventType,
		Source:        source,
		Severity:      severity,
		Timestamp:     time.Now(),
		Metadata:      metadata,
		CorrelationID: correlationID,
	}
}

// Well-known event types emitted by the core, per SPEC_FULL.md §4.9's table.
const (
	TypeExecutionStarted          = "pipeline.execution.started"
	TypeCacheHit                  = "pipeline.cache.hit"
	TypeGateDecision               = "pipeline.gate.decision"
	TypeExtractionReliableSuccess = "pipeline.extraction.reliable_success"
	TypeExtractionReliableFailure = "pipeline.extraction.reliable_failure"
	TypeExecutionCompleted        = "pipeline.execution.completed"
	TypeCircuitBreakerOpen        = "circuit_breaker.open"
	TypeCircuitBreakerStateChange = "circuit_breaker.state_change"
	TypePoolAcquire               = "pool.acquire"
	TypePoolRelease               = "pool.release"
	TypePoolInstanceUnhealthy     = "pool.instance.unhealthy"
)

package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
)

/*
Responsibilities

- Track success/failure of calls grouped by operation name
- Trip Open when a sliding window's failure rate crosses a threshold
- Recover through a bounded HalfOpen probe phase
- Emit a state-change event on every transition

The breaker never decides what to do with a failed call; it only decides
whether a caller is allowed to try.
*/

// State is the breaker's position in the Closed/Open/HalfOpen machine.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Params tunes the window size, trip threshold, cooldown, and probe limit.
type Params struct {
	FailureThreshold     float64
	MinRequests          int
	WindowSize           int
	OpenCooldown         time.Duration
	HalfOpenMaxInFlight  int
}

// DefaultParams matches SPEC_FULL.md §4.6's stated defaults.
func DefaultParams() Params {
	return Params{
		FailureThreshold:    0.5,
		MinRequests:         10,
		WindowSize:          20,
		OpenCooldown:        60 * time.Second,
		HalfOpenMaxInFlight: 2,
	}
}

// StateChangeSink receives a lifecycle event on every transition; callers
// typically wire this to internal/metadata's error/artifact recording.
type StateChangeSink interface {
	RecordError(observedAt time.Time, packageName string, action string, cause metadata.ErrorCause, errString string, attrs []metadata.Attribute)
}

// Breaker is a single named circuit breaker: Closed counts a sliding
// window of outcomes, Open fast-fails every call, HalfOpen admits a
// bounded number of concurrent probes.
type Breaker struct {
	name   string
	params Params
	sink   StateChangeSink

	mu          sync.Mutex
	state       State
	window      []bool // true = success
	openedAt    time.Time
	halfOpenInFlight atomic.Int32
}

func newBreaker(name string, params Params, sink StateChangeSink) *Breaker {
	return &Breaker{
		name:   name,
		params: params,
		sink:   sink,
		state:  Closed,
		window: make([]bool, 0, params.WindowSize),
	}
}

// Allow reports whether a call may proceed. In HalfOpen it also reserves a
// probe slot; the caller MUST call Report exactly once per Allow==true call
// to release that slot.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.params.OpenCooldown {
			b.transitionLocked(HalfOpen)
			return b.tryReserveProbeLocked()
		}
		return false
	case HalfOpen:
		return b.tryReserveProbeLocked()
	default:
		return true
	}
}

func (b *Breaker) tryReserveProbeLocked() bool {
	if int(b.halfOpenInFlight.Load()) >= b.params.HalfOpenMaxInFlight {
		return false
	}
	b.halfOpenInFlight.Add(1)
	return true
}

// Report records the outcome of a call that Allow permitted.
func (b *Breaker) Report(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.halfOpenInFlight.Add(-1)
		if success {
			b.transitionLocked(Closed)
			b.window = b.window[:0]
		} else {
			b.transitionLocked(Open)
		}
		return
	case Closed:
		b.recordLocked(success)
	}
}

func (b *Breaker) recordLocked(success bool) {
	b.window = append(b.window, success)
	if len(b.window) > b.params.WindowSize {
		b.window = b.window[len(b.window)-b.params.WindowSize:]
	}
	if len(b.window) < b.params.MinRequests {
		return
	}

	failures := 0
	for _, ok := range b.window {
		if !ok {
			failures++
		}
	}
	rate := float64(failures) / float64(len(b.window))
	if rate >= b.params.FailureThreshold {
		b.transitionLocked(Open)
	}
}

func (b *Breaker) transitionLocked(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to == Open {
		b.openedAt = time.Now()
	}

	if b.sink == nil {
		return
	}
	b.sink.RecordError(
		time.Now(),
		"breaker",
		"state_change",
		metadata.CauseUnknown,
		from.String()+" -> "+to.String(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrField, b.name),
		},
	)
}

// State reports the breaker's current state for observability/metrics.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ErrCircuitOpen is returned by Registry.Run when the named breaker is
// Open or HalfOpen at capacity.
type ErrCircuitOpen struct {
	Name string
}

func (e *ErrCircuitOpen) Error() string {
	return "circuit open: " + e.Name
}

// Registry is a breaker singleton keyed by operation name, shared by every
// caller: the fetcher, the WASM extractor, and the headless adapter all
// look up their own named breaker from the same registry.
type Registry struct {
	params Params
	sink   StateChangeSink

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry builds a registry sharing params and a StateChangeSink across
// every breaker it creates on demand.
func NewRegistry(params Params, sink StateChangeSink) *Registry {
	return &Registry{
		params:   params,
		sink:     sink,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the named breaker, creating it on first use.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[name]
	if !ok {
		b = newBreaker(name, r.params, r.sink)
		r.breakers[name] = b
	}
	return b
}

// Run executes fn through the named breaker: fast-fails with
// ErrCircuitOpen if the breaker denies the call, otherwise reports the
// outcome back to the breaker once fn returns.
func Run[T any](r *Registry, name string, fn func() (T, error)) (T, error) {
	b := r.Get(name)
	var zero T
	if !b.Allow() {
		return zero, &ErrCircuitOpen{Name: name}
	}

	result, err := fn()
	b.Report(err == nil)
	return result, err
}

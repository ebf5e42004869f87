package wasmpool

import (
	"time"

	"github.com/google/uuid"
)

// Tier buckets instances by access frequency so the pool can serve hot
// instances fastest without starving cold-start traffic.
type Tier int

const (
	Hot Tier = iota
	Warm
	Cold
)

func (t Tier) String() string {
	switch t {
	case Hot:
		return "hot"
	case Warm:
		return "warm"
	default:
		return "cold"
	}
}

// State is an instance's lifecycle position. At most one caller holds
// InUse at a time; Unhealthy instances are disposed, never reused.
type State int

const (
	Idle State = iota
	InUse
	Unhealthy
)

// Capability is the sandboxed extractor's fixed, disposable contract.
// The pool never inspects what a Capability does; it only owns the
// lifecycle around calls to it. Concrete extraction semantics live in
// whichever package supplies the Factory (e.g. internal/reliable).
type Capability interface {
	Close() error
}

// Instance is one pooled Capability plus the bookkeeping the pool and
// its maintenance task need to tier, evict, and retire it.
type Instance struct {
	ID                   uuid.UUID
	Capability           Capability
	CreatedAt            time.Time
	LastUsedAt           time.Time
	UseCount             uint64
	AllocatedMemoryBytes uint64
	FuelConsumedTotal    uint64
	Tier                 Tier
	State                State
}

func newInstance(capability Capability, now time.Time) *Instance {
	return &Instance{
		ID:         uuid.New(),
		Capability: capability,
		CreatedAt:  now,
		LastUsedAt: now,
		Tier:       Cold,
		State:      Idle,
	}
}

// tierForUseCount places an instance per SPEC_FULL.md §4.5's bands:
// Hot use_count > 10, Warm 3-10, Cold otherwise.
func tierForUseCount(useCount uint64) Tier {
	switch {
	case useCount > 10:
		return Hot
	case useCount >= 3:
		return Warm
	default:
		return Cold
	}
}

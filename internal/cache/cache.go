package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

/*
Responsibilities

- Serve cached extraction results by content-fingerprint key
- Coalesce concurrent misses for the same key into one compute call
- Accelerate repeat reads with a small in-process L1 in front of the
  authoritative store
- Spill the authoritative store to disk once it crosses a memory
  threshold, without losing entries
- Revalidate an expired entry in place on a 304, without replacing its
  body or re-running extraction

Layering

The authoritative store is an in-process map guarded by a mutex -- this
module's stand-in for the shared KV store SPEC_FULL.md describes,
since nothing in the retrieval pack wires a real distributed cache
client. Disk spillover (internal/cache/disk.go) gives the authoritative
store overflow capacity without an external dependency. L1
(internal/cache/lru.go) sits in front of both and is purely a read
accelerator: writes always land in the authoritative store first, L1
is only populated after that write succeeds.
*/

// Params tunes the cache's two levels and optional disk spillover.
type Params struct {
	L1Capacity     int
	L1TTL          time.Duration
	MemCapacity    int
	SpillThreshold float64
	DiskDir        string
}

// DefaultParams matches SPEC_FULL.md §4.8's stated defaults: a 60s L1
// read-accelerator TTL and disk spillover once the authoritative store
// crosses 80% of its capacity.
func DefaultParams() Params {
	return Params{
		L1Capacity:     defaultL1Capacity,
		L1TTL:          defaultL1TTL,
		MemCapacity:    4096,
		SpillThreshold: 0.8,
	}
}

// Cache is the two-level extraction-result cache: get/put/invalidate
// plus singleflight-coalesced compute-on-miss.
type Cache struct {
	params Params

	mu    sync.Mutex
	store map[string]Entry
	order []string // oldest-first insertion/refresh order, for spillover eviction

	l1   *lru
	disk *diskStore
	sf   singleflight.Group
}

// New builds a Cache. An empty params.DiskDir disables disk spillover
// entirely: the authoritative store then just stops growing past
// SpillThreshold of MemCapacity and the oldest entries are dropped
// rather than persisted.
func New(params Params) *Cache {
	if params.L1Capacity <= 0 {
		params.L1Capacity = defaultL1Capacity
	}
	if params.L1TTL <= 0 {
		params.L1TTL = defaultL1TTL
	}
	if params.MemCapacity <= 0 {
		params.MemCapacity = 4096
	}
	if params.SpillThreshold <= 0 {
		params.SpillThreshold = 0.8
	}
	return &Cache{
		params: params,
		store:  make(map[string]Entry),
		l1:     newLRU(params.L1Capacity, params.L1TTL),
		disk:   newDiskStore(params.DiskDir),
	}
}

// Get returns the entry for key, consulting L1 first, then the
// authoritative store, then disk spillover (promoting a disk hit back
// into the authoritative store). A returned ok=true with an Expired
// entry is still useful to the caller: an expired entry with
// Validators.HasAny() is a candidate for revalidation rather than a
// full recompute.
func (c *Cache) Get(key string) (Entry, bool) {
	if entry, ok := c.l1.get(key); ok {
		return entry, true
	}

	c.mu.Lock()
	entry, ok := c.store[key]
	c.mu.Unlock()
	if ok {
		if !entry.Expired(time.Now()) {
			c.l1.put(key, entry)
		}
		return entry, true
	}

	if loaded, ok := c.disk.load(key); ok {
		c.mu.Lock()
		c.store[key] = loaded
		c.touchOrderLocked(key)
		c.mu.Unlock()
		if !loaded.Expired(time.Now()) {
			c.l1.put(key, loaded)
		}
		return loaded, true
	}

	return Entry{}, false
}

// Put writes entry to the authoritative store, then refreshes L1. If
// the store crosses SpillThreshold of MemCapacity, the oldest entries
// are evicted to disk outside the lock.
func (c *Cache) Put(key string, entry Entry) *CacheError {
	c.mu.Lock()
	c.store[key] = entry
	c.touchOrderLocked(key)
	spillKeys := c.evictOverflowLocked()
	c.mu.Unlock()

	var firstErr *CacheError
	for _, k := range spillKeys {
		if err := c.spill(k); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	c.l1.put(key, entry)
	return firstErr
}

// Revalidate refreshes an entry's freshness in place without touching
// Value or ContentType -- invariant #9: a 304 against prior validators
// means the body is still correct and no re-extraction occurred, only
// the entry's staleness clock resets.
func (c *Cache) Revalidate(key string, validators Validators, ttl time.Duration) (Entry, bool) {
	c.mu.Lock()
	entry, ok := c.store[key]
	if !ok {
		c.mu.Unlock()
		return Entry{}, false
	}
	entry = entry.Revalidated(time.Now(), ttl)
	if validators.HasAny() {
		entry.Validators = validators
	}
	c.store[key] = entry
	c.mu.Unlock()

	c.l1.put(key, entry)
	_ = c.disk.save(key, entry) // best-effort: a failed spillover write doesn't undo a successful revalidation
	return entry, true
}

// Invalidate removes key from every level.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.store, key)
	c.removeOrderLocked(key)
	c.mu.Unlock()
	c.l1.remove(key)
	c.disk.remove(key)
}

// GetOrCompute returns the cached entry for key, or calls compute
// exactly once across any number of concurrent callers sharing the
// same key and stores the result before returning it. compute's error
// is returned uncached: a failed extraction is never treated as a
// cacheable outcome.
func (c *Cache) GetOrCompute(key string, compute func() (Entry, error)) (Entry, error) {
	if entry, ok := c.Get(key); ok {
		return entry, nil
	}

	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		entry, err := compute()
		if err != nil {
			return Entry{}, err
		}
		if cerr := c.Put(key, entry); cerr != nil {
			return entry, cerr
		}
		return entry, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Len reports the authoritative store's current size, for metrics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

func (c *Cache) touchOrderLocked(key string) {
	c.removeOrderLocked(key)
	c.order = append(c.order, key)
}

func (c *Cache) removeOrderLocked(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// evictOverflowLocked must be called with mu held. It pops the oldest
// entries out of the authoritative store once it crosses SpillThreshold
// of MemCapacity and returns their keys so the caller can persist them
// to disk outside the lock.
func (c *Cache) evictOverflowLocked() []string {
	limit := int(float64(c.params.MemCapacity) * c.params.SpillThreshold)
	if limit <= 0 || len(c.store) <= limit {
		return nil
	}
	var evicted []string
	for len(c.store)-len(evicted) > limit && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.store[oldest]; ok {
			evicted = append(evicted, oldest)
		}
	}
	return evicted
}

func (c *Cache) spill(key string) *CacheError {
	c.mu.Lock()
	entry, ok := c.store[key]
	if ok {
		delete(c.store, key)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.disk.save(key, entry)
}

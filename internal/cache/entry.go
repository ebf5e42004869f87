package cache

import "time"

// Validators carries the conditional-GET headers a later revalidation
// fetch needs (If-None-Match / If-Modified-Since), so an expired entry
// can be refreshed with a 304 instead of a full re-fetch and re-extract.
type Validators struct {
	ETag         string
	LastModified string
}

// HasAny reports whether either validator is set.
func (v Validators) HasAny() bool {
	return v.ETag != "" || v.LastModified != ""
}

// Entry is one cached extraction result, keyed by a content fingerprint
// (see ComputeKey). Value holds the marshaled PipelineResult payload the
// orchestrator stored, not raw HTML.
type Entry struct {
	Value       []byte
	ContentType string
	Validators  Validators
	StoredAt    time.Time
	TTL         time.Duration
}

// Expired reports whether the entry's TTL has elapsed as of now. A
// zero TTL never expires.
func (e Entry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return now.After(e.StoredAt.Add(e.TTL))
}

// Revalidated returns a copy of e with StoredAt reset to now and TTL
// refreshed, but Value and ContentType left untouched. This is invariant
// #9: a 304 response refreshes freshness without replacing the body or
// re-running extraction.
func (e Entry) Revalidated(now time.Time, ttl time.Duration) Entry {
	refreshed := e
	refreshed.StoredAt = now
	if ttl > 0 {
		refreshed.TTL = ttl
	}
	return refreshed
}

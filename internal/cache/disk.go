package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/kestrelsoft/hxpipe/pkg/fileutil"
)

// diskEntry is the JSON-serializable header diskStore writes alongside
// the raw body, mirroring hyperifyio-goresearch/internal/cache/
// httpcache.go's split meta/body layout.
type diskEntry struct {
	ContentType  string `json:"content_type"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	StoredAtUnix int64  `json:"stored_at_unix"`
	TTLSeconds   int64  `json:"ttl_seconds"`
}

// diskStore persists entries evicted from the in-memory authoritative
// store under dir as "<key>.meta.json" / "<key>.body". Unlike the
// reference httpcache.go, which only makes the metadata write atomic,
// both files here are written via fileutil.WriteFileAtomic: a cached
// extraction's body is the expensive part to recompute, so a
// half-written body is exactly as corrupting as a half-written header.
type diskStore struct {
	dir string
}

func newDiskStore(dir string) *diskStore {
	return &diskStore{dir: dir}
}

func (d *diskStore) enabled() bool { return d.dir != "" }

func (d *diskStore) metaPath(key string) string { return filepath.Join(d.dir, key+".meta.json") }
func (d *diskStore) bodyPath(key string) string { return filepath.Join(d.dir, key+".body") }

func (d *diskStore) save(key string, entry Entry) *CacheError {
	if !d.enabled() {
		return nil
	}

	meta := diskEntry{
		ContentType:  entry.ContentType,
		ETag:         entry.Validators.ETag,
		LastModified: entry.Validators.LastModified,
		StoredAtUnix: entry.StoredAt.Unix(),
		TTLSeconds:   int64(entry.TTL / time.Second),
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return &CacheError{Message: err.Error(), Retryable: false, Cause: ErrCauseDiskWriteFailed}
	}

	if cerr := fileutil.WriteFileAtomic(d.metaPath(key), metaBytes, 0o644); cerr != nil {
		return &CacheError{Message: cerr.Error(), Retryable: true, Cause: ErrCauseDiskWriteFailed}
	}
	if cerr := fileutil.WriteFileAtomic(d.bodyPath(key), entry.Value, 0o644); cerr != nil {
		return &CacheError{Message: cerr.Error(), Retryable: true, Cause: ErrCauseDiskWriteFailed}
	}
	return nil
}

func (d *diskStore) load(key string) (Entry, bool) {
	if !d.enabled() {
		return Entry{}, false
	}

	metaBytes, err := os.ReadFile(d.metaPath(key))
	if err != nil {
		return Entry{}, false
	}
	var meta diskEntry
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return Entry{}, false
	}

	body, err := os.ReadFile(d.bodyPath(key))
	if err != nil {
		return Entry{}, false
	}

	return Entry{
		Value:       body,
		ContentType: meta.ContentType,
		Validators:  Validators{ETag: meta.ETag, LastModified: meta.LastModified},
		StoredAt:    time.Unix(meta.StoredAtUnix, 0),
		TTL:         time.Duration(meta.TTLSeconds) * time.Second,
	}, true
}

func (d *diskStore) remove(key string) {
	if !d.enabled() {
		return
	}
	os.Remove(d.metaPath(key))
	os.Remove(d.bodyPath(key))
}

package cache

import (
	"net/url"
	"sort"
	"strings"

	"github.com/kestrelsoft/hxpipe/pkg/hashutil"
	"github.com/kestrelsoft/hxpipe/pkg/urlutil"
)

// KeyInput is everything that participates in a cache key: the fetch
// target plus exactly the knobs that change what extracting it produces.
// Two requests with the same KeyInput must always be treated as the same
// cache entry; any field left out here is a field the cache cannot tell
// apart.
type KeyInput struct {
	URL              url.URL
	Mode             string
	ExtractorVersion string
	Options          map[string]string
}

// ComputeKey builds the content-fingerprint cache key per SPEC_FULL.md
// §4.8's wire format: normalize(url) || mode || extractor_version ||
// canonicalized options, hashed down to a hex-encoded 128-bit
// fingerprint via pkg/hashutil.
func ComputeKey(in KeyInput) string {
	normalized := urlutil.NormalizeURL(in.URL)

	var b strings.Builder
	b.WriteString(normalized.String())
	b.WriteByte(0)
	b.WriteString(in.Mode)
	b.WriteByte(0)
	b.WriteString(in.ExtractorVersion)
	b.WriteByte(0)
	b.WriteString(canonicalizeOptions(in.Options))

	return hashutil.Fingerprint128([]byte(b.String()))
}

// canonicalizeOptions produces a stable, order-independent encoding of
// an options map so that {a:1, b:2} and {b:2, a:1} hash identically.
func canonicalizeOptions(opts map[string]string) string {
	if len(opts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(opts[k])
	}
	return b.String()
}

package fetcher

import (
	"net/url"
	"time"
)

// HTTP boundary

// PriorValidators carries revalidation headers from a previous fetch of the
// same resource (as recorded by the cache). When present, the fetcher sends
// conditional-GET headers and may get back a NotModified result instead of
// a full body.
type PriorValidators struct {
	ETag         string
	LastModified string
}

// HasAny reports whether any validator is set.
func (p PriorValidators) HasAny() bool {
	return p.ETag != "" || p.LastModified != ""
}

type FetchParam struct {
	fetchUrl   url.URL
	userAgent  string
	validators PriorValidators
}

func NewFetchParam(fetchUrl url.URL, userAgent string) FetchParam {
	return FetchParam{
		fetchUrl:  fetchUrl,
		userAgent: userAgent,
	}
}

// NewFetchParamWithValidators attaches revalidation headers from a prior
// fetch of the same URL (ETag / Last-Modified), enabling conditional GET.
func NewFetchParamWithValidators(fetchUrl url.URL, userAgent string, validators PriorValidators) FetchParam {
	return FetchParam{
		fetchUrl:   fetchUrl,
		userAgent:  userAgent,
		validators: validators,
	}
}

type FetchResult struct {
	url       url.URL
	body      []byte
	meta      ResponseMeta
	fetchedAt time.Time
	// notModified is true when the origin answered 304 against prior
	// validators; Body is empty and callers must reuse the cached copy.
	notModified bool
}

func (f *FetchResult) URL() url.URL {
	return f.url
}

func (f *FetchResult) Body() []byte {
	return f.body
}

func (f *FetchResult) Code() int {
	return f.meta.statusCode
}

func (f *FetchResult) SizeByte() uint64 {
	return uint64(len(f.body))
}

func (f *FetchResult) Headers() map[string]string {
	return f.meta.responseHeaders
}

func (f *FetchResult) FetchedAt() time.Time {
	return f.fetchedAt
}

// NotModified reports whether the origin returned 304 Not Modified against
// the prior validators supplied in FetchParam.
func (f *FetchResult) NotModified() bool {
	return f.notModified
}

// ETag returns the response's validator, if any, for the caller to persist
// alongside the cached entry for the next conditional GET.
func (f *FetchResult) ETag() string {
	return f.meta.responseHeaders["Etag"]
}

// LastModified returns the response's Last-Modified header, if any.
func (f *FetchResult) LastModified() string {
	return f.meta.responseHeaders["Last-Modified"]
}

type ResponseMeta struct {
	statusCode      int
	responseHeaders map[string]string
}

// NewFetchResultForTest creates a FetchResult for testing purposes.
// This allows test packages to construct FetchResult values without
// accessing unexported fields directly.
func NewFetchResultForTest(
	url url.URL,
	body []byte,
	statusCode int,
	contentType string,
	responseHeaders map[string]string,
	fetchedAt time.Time,
) FetchResult {
	return FetchResult{
		url:       url,
		body:      body,
		fetchedAt: fetchedAt,
		meta: ResponseMeta{
			statusCode:      statusCode,
			responseHeaders: responseHeaders,
		},
	}
}

// NewNotModifiedResultForTest builds a 304 FetchResult for testing.
func NewNotModifiedResultForTest(url url.URL, responseHeaders map[string]string, fetchedAt time.Time) FetchResult {
	return FetchResult{
		url:         url,
		fetchedAt:   fetchedAt,
		notModified: true,
		meta: ResponseMeta{
			statusCode:      304,
			responseHeaders: responseHeaders,
		},
	}
}

// Limits bounds a single fetch: a per-request deadline, how many redirects
// the client will follow, and the maximum number of decompressed bytes it
// will read before aborting the stream.
type Limits struct {
	Timeout      time.Duration
	RedirectCap  int
	BodyCapBytes int64
}

// DefaultLimits matches SPEC_FULL.md §4.2's stated defaults.
func DefaultLimits() Limits {
	return Limits{
		Timeout:      15 * time.Second,
		RedirectCap:  10,
		BodyCapBytes: 20 * 1024 * 1024,
	}
}

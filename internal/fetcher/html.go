package fetcher

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/html/charset"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/internal/ssrfguard"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
	"github.com/kestrelsoft/hxpipe/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Handle redirects safely
- Classify responses
- Decompress and transcode bodies to UTF-8
- Reject SSRF targets before any connection is opened

Fetch Semantics

- Only successful HTML responses are processed
- Non-HTML content is discarded
- Redirect chains are bounded
- Response bodies are capped after decompression, not before
- All responses are logged with metadata

The fetcher never parses content; it only returns bytes and metadata.
*/

// userAgentPool is a small, fixed rotation of realistic desktop/mobile UA
// strings, selected round-robin unless the caller supplies its own.
var userAgentPool = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

type HtmlFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	guard        *ssrfguard.Guard
	limits       Limits
	uaCounter    atomic.Uint64
}

// NewHtmlFetcher builds a fetcher with SPEC_FULL.md's default limits and no
// SSRF allowlist. Use NewHtmlFetcherWithDeps to inject a guard, limits, or
// a pre-configured client (tests, stealth-mode tuning).
func NewHtmlFetcher(
	metadataSink metadata.MetadataSink,
) HtmlFetcher {
	limits := DefaultLimits()
	guard := ssrfguard.New("1.1.1.1:53", nil)
	return HtmlFetcher{
		metadataSink: metadataSink,
		httpClient:   newHTTPClient(limits, guard),
		guard:        guard,
		limits:       limits,
	}
}

// NewHtmlFetcherWithDeps builds a fetcher with explicit dependencies,
// mirroring the teacher's WithDeps constructor convention.
func NewHtmlFetcherWithDeps(
	metadataSink metadata.MetadataSink,
	guard *ssrfguard.Guard,
	limits Limits,
) HtmlFetcher {
	return HtmlFetcher{
		metadataSink: metadataSink,
		httpClient:   newHTTPClient(limits, guard),
		guard:        guard,
		limits:       limits,
	}
}

// newHTTPClient builds the single shared client: connection pooling and
// opportunistic HTTP/2 come from the default Transport, the SSRF guard is
// consulted inside DialContext so the dialer connects to the exact address
// the guard resolved, never re-resolving the hostname.
func newHTTPClient(limits Limits, guard *ssrfguard.Guard) *http.Client {
	dialer := &net.Dialer{Timeout: limits.Timeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		target := url.URL{Scheme: "http", Host: net.JoinHostPort(host, port)}
		resolved, gerr := guard.Check(ctx, target)
		if gerr != nil {
			return nil, gerr
		}
		return dialer.DialContext(ctx, network, resolved.DialAddress())
	}
	// Content-Encoding is handled manually below so brotli can be decoded
	// alongside gzip/deflate with one body-cap enforcement point.
	transport.DisableCompression = true

	return &http.Client{
		Transport: transport,
		Timeout:   limits.Timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= limits.RedirectCap {
				return fmt.Errorf("stopped after %d redirects", limits.RedirectCap)
			}
			return nil
		},
	}
}

func (h *HtmlFetcher) Init(httpClient *http.Client) {
	h.httpClient = httpClient
}

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchParam FetchParam,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HtmlFetcher.Fetch"
	startTime := time.Now()

	result, err := h.fetchWithRetry(ctx, fetchParam, retryParam)

	duration := time.Since(startTime)

	var statusCode int
	var contentType string
	var retryCount int

	if err != nil {
		var retryErr *retry.RetryError
		if errors.As(err, &retryErr) {
			retryCount = retryParam.MaxAttempts
		}
	} else {
		statusCode = result.Code()
		contentType = h.extractContentType(result.Headers())
	}

	h.metadataSink.RecordFetch(
		fetchParam.fetchUrl.String(),
		statusCode,
		duration,
		contentType,
		retryCount,
		crawlDepth,
	)

	if err != nil {
		if errors.Is(err, &retry.RetryError{}) {
			h.recordRetryError(callerMethod, fetchParam.fetchUrl, err)
		} else {
			h.recordFetchError(callerMethod, fetchParam.fetchUrl, err)
		}

		return FetchResult{}, err
	}

	return result, nil
}

func (h *HtmlFetcher) extractContentType(headers map[string]string) string {
	if ct, ok := headers["Content-Type"]; ok {
		return ct
	}
	return ""
}

func (h *HtmlFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) fetchWithRetry(ctx context.Context, fetchParam FetchParam, retryParam retry.RetryParam) (FetchResult, failure.ClassifiedError) {
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchParam)
	}

	result, retryErr := retry.Retry(retryParam, fetchTask)

	if retryErr != nil {
		var fetchErr *FetchError
		if errors.As(retryErr, &fetchErr) {
			return FetchResult{}, fetchErr
		}
		return FetchResult{}, retryErr
	}

	return result, nil
}

func (h *HtmlFetcher) nextUserAgent(override string) string {
	if override != "" {
		return override
	}
	idx := h.uaCounter.Add(1) - 1
	return userAgentPool[int(idx)%len(userAgentPool)]
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchParam FetchParam) (FetchResult, failure.ClassifiedError) {
	fetchUrl := fetchParam.fetchUrl

	// The SSRF guard itself runs inside the http.Client's DialContext (see
	// newHTTPClient), not here: that is the only place the dialer commits to
	// an address, so it is the only place the check can close the
	// check-time/connect-time gap. A caller that swaps in its own client via
	// Init (tests, stealth-mode tuning) opts out of the guard along with the
	// rest of the transport.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	headers := requestHeaders(h.nextUserAgent(fetchParam.userAgent))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if fetchParam.validators.ETag != "" {
		req.Header.Set("If-None-Match", fetchParam.validators.ETag)
	}
	if fetchParam.validators.LastModified != "" {
		req.Header.Set("If-Modified-Since", fetchParam.validators.LastModified)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	if resp.StatusCode == http.StatusNotModified {
		return FetchResult{
			url:         fetchUrl,
			fetchedAt:   time.Now(),
			notModified: true,
			meta: ResponseMeta{
				statusCode:      resp.StatusCode,
				responseHeaders: responseHeaders,
			},
		}, nil
	}

	switch {
	case resp.StatusCode >= 500:
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable: true,
			Cause:     ErrCauseRequest5xx,
		}

	case resp.StatusCode == 429:
		return FetchResult{}, &FetchError{
			Message:   "rate limited (429)",
			Retryable: true,
			Cause:     ErrCauseRequestTooMany,
		}

	case resp.StatusCode == 403:
		return FetchResult{}, &FetchError{
			Message:   "access forbidden (403)",
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("redirect error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRedirectLimitExceeded,
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if !isHTMLContent(contentType) {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("non-HTML content type: %s", contentType),
			Retryable: false,
			Cause:     ErrCauseContentTypeInvalid,
		}
	}

	decoded, decErr := decompressBody(resp.Body, resp.Header.Get("Content-Encoding"), h.limits.BodyCapBytes)
	if decErr != nil {
		return FetchResult{}, decErr
	}

	utf8Body, transErr := transcodeToUTF8(decoded, contentType)
	if transErr != nil {
		return FetchResult{}, transErr
	}

	result := FetchResult{
		url:  fetchUrl,
		body: utf8Body,
		meta: ResponseMeta{
			statusCode:      resp.StatusCode,
			responseHeaders: responseHeaders,
		},
		fetchedAt: time.Now(),
	}

	return result, nil
}

// decompressBody wraps the response body with the decoder named by
// Content-Encoding, if any, and enforces capBytes on the DECOMPRESSED
// stream so a small compressed payload cannot expand past the cap
// undetected (a zip-bomb style response).
func decompressBody(body io.Reader, encoding string, capBytes int64) ([]byte, *FetchError) {
	var reader io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "br":
		reader = brotli.NewReader(body)
	case "gzip":
		gz, err := gzip.NewReader(body)
		if err != nil {
			return nil, &FetchError{
				Message:   fmt.Sprintf("failed to open gzip stream: %v", err),
				Retryable: false,
				Cause:     ErrCauseDecodeFailure,
			}
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		reader = flate.NewReader(body)
	default:
		reader = body
	}

	limited := io.LimitReader(reader, capBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}
	if int64(len(data)) > capBytes {
		return nil, &FetchError{
			Message:   fmt.Sprintf("response body exceeds %d byte cap", capBytes),
			Retryable: false,
			Cause:     ErrCauseBodyTooLarge,
		}
	}
	return data, nil
}

// transcodeToUTF8 converts non-UTF-8 bodies using the charset named by the
// Content-Type header, sniffed from a <meta charset> prefix, or a detected
// fallback; UTF-8 bodies pass through untouched.
func transcodeToUTF8(body []byte, contentType string) ([]byte, *FetchError) {
	reader, enc, certain := charset.DetermineEncoding(body, contentType)
	if enc == "" || strings.EqualFold(enc, "utf-8") {
		_ = certain
		return body, nil
	}

	out, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{
			Message:   fmt.Sprintf("failed to transcode %s body to utf-8: %v", enc, err),
			Retryable: false,
			Cause:     ErrCauseDecodeFailure,
		}
	}
	return out, nil
}

// classifyTransportError distinguishes SSRF-guard rejections and terminal
// DNS failures (NXDOMAIN) from transient DNS errors, timeouts and other
// transport failures. TLS failures are not told apart: they fall into the
// retryable network-failure case.
func classifyTransportError(err error) *FetchError {
	var guardErr *ssrfguard.GuardError
	if errors.As(err, &guardErr) {
		return &FetchError{
			Message:   guardErr.Error(),
			Retryable: false,
			Cause:     ErrCauseSSRFBlocked,
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &FetchError{
			Message:   fmt.Sprintf("dns error: %v", dnsErr),
			Retryable: !dnsErr.IsNotFound,
			Cause:     ErrCauseDNSFailure,
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &FetchError{
			Message:   fmt.Sprintf("request timed out: %v", err),
			Retryable: true,
			Cause:     ErrCauseTimeout,
		}
	}

	return &FetchError{
		Message:   fmt.Sprintf("request failed: %v", err),
		Retryable: true,
		Cause:     ErrCauseNetworkFailure,
	}
}

func isHTMLContent(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}

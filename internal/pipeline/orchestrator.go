package pipeline

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kestrelsoft/hxpipe/internal/cache"
	"github.com/kestrelsoft/hxpipe/internal/eventbus"
	"github.com/kestrelsoft/hxpipe/internal/fetcher"
	"github.com/kestrelsoft/hxpipe/internal/gate"
	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/internal/reliable"
	"github.com/kestrelsoft/hxpipe/pkg/retry"
	"github.com/kestrelsoft/hxpipe/pkg/semaphore"
)

// reliableChain is the subset of *reliable.ReliableExtractor's surface
// Orchestrator depends on, narrowed to an interface so tests can stand
// in a fake without building a full WASM pool / headless adapter /
// breaker registry chain.
type reliableChain interface {
	Extract(ctx context.Context, path gate.Path, sourceURL url.URL, htmlBody []byte, correlationID uuid.UUID) (reliable.ExtractedDocument, reliable.ExtractionMetadata, error)
}

var _ reliableChain = (*reliable.ReliableExtractor)(nil)

/*
Responsibilities

- Run the per-URL sequence SPEC_FULL.md §4.1 describes: validate input,
  probe the cache (revalidating an expired-but-validated entry before
  giving up on it), fetch, branch PDF content out as unsupported, gate-
  classify, dispatch to the reliable fallback chain, store the result,
  and publish a lifecycle event at each of those transitions.
- Bound batch concurrency so ExecuteBatch never opens more than
  BatchConcurrency fetches at once, and never lets one URL's failure
  abort its siblings.

Orchestrator composes internal/cache, internal/fetcher, internal/gate,
and internal/reliable exactly as built elsewhere in this module; it
owns none of their internals, only the sequencing between them -- the
same DI-struct-plus-per-stage-dispatch shape internal/scheduler used
for the crawl pipeline, generalized here to a single-URL extraction.
*/

const (
	maxURLLength            = 8192
	extractorVersion        = "1"
	defaultBatchConcurrency = 16
	defaultCacheTTL         = 5 * time.Minute
)

// Deps wires the collaborators Orchestrator composes.
type Deps struct {
	MetadataSink       metadata.MetadataSink
	Bus                *eventbus.Bus
	Cache              *cache.Cache
	Fetcher            fetcher.Fetcher
	Gate               *gate.Gate
	Reliable           reliableChain
	RetryParam         retry.RetryParam
	UserAgent          string
	BatchConcurrency   int
	CacheTTL           time.Duration
	PDFHandlingEnabled bool
}

// Orchestrator runs SPEC_FULL.md §4.1's execute/execute_batch contract.
type Orchestrator struct {
	deps Deps
	sem  *semaphore.Weighted
}

// NewOrchestrator builds an Orchestrator. A zero BatchConcurrency falls
// back to the spec's default of 16; a zero CacheTTL falls back to 5
// minutes for the authoritative cache entry (distinct from
// internal/cache's own 60s L1 read-accelerator TTL).
func NewOrchestrator(deps Deps) *Orchestrator {
	if deps.BatchConcurrency <= 0 {
		deps.BatchConcurrency = defaultBatchConcurrency
	}
	if deps.CacheTTL <= 0 {
		deps.CacheTTL = defaultCacheTTL
	}
	return &Orchestrator{
		deps: deps,
		sem:  semaphore.NewWeighted(deps.BatchConcurrency),
	}
}

// cachedPayload is what Orchestrator stores as a cache.Entry's Value:
// the already-built PipelineResult, so a cache hit skips re-marshaling
// and, on the 304 revalidation path, re-extraction entirely.
type cachedPayload struct {
	Result PipelineResult `json:"result"`
}

// Execute runs the single-URL pipeline end to end.
func (o *Orchestrator) Execute(parent context.Context, rawURL string, opts ExtractionOptions) (PipelineResult, error) {
	execCtx := NewExecutionContext(parent)
	defer execCtx.Done()

	o.publish(eventbus.TypeExecutionStarted, execCtx, eventbus.Info, map[string]any{"url": rawURL})

	sourceURL, verr := o.validate(rawURL)
	if verr != nil {
		o.publishCompleted(execCtx, rawURL, false, "", false, 0)
		return PipelineResult{}, verr
	}

	key := cache.ComputeKey(cache.KeyInput{
		URL:              sourceURL,
		Mode:             string(opts.ExtractionStrategy),
		ExtractorVersion: extractorVersion,
		Options:          opts.canonicalize(),
	})

	if result, ok := o.tryCache(execCtx, key, sourceURL, opts); ok {
		return result, nil
	}

	fetchResult, ferr := o.fetch(execCtx.Context(), sourceURL, opts, fetcher.PriorValidators{})
	if ferr != nil {
		o.publishCompleted(execCtx, rawURL, false, "", false, execCtx.Elapsed())
		return PipelineResult{}, ferr
	}

	if isPDF(fetchResult.Headers()) && !o.deps.PDFHandlingEnabled {
		err := &PipelineError{URL: rawURL, Message: "PDF handling is not implemented by this build", Cause: ErrCausePDFUnsupported}
		o.publishCompleted(execCtx, rawURL, false, "", false, execCtx.Elapsed())
		return PipelineResult{}, err
	}

	decision, gerr := o.deps.Gate.Classify(sourceURL, fetchResult.Body())
	if gerr != nil {
		o.publishCompleted(execCtx, rawURL, false, "", false, execCtx.Elapsed())
		return PipelineResult{}, gerr
	}
	o.publish(eventbus.TypeGateDecision, execCtx, eventbus.Info, map[string]any{
		"url": rawURL, "path": string(decision.Path), "confidence": decision.Confidence,
	})

	doc, extractMeta, eerr := o.deps.Reliable.Extract(execCtx.Context(), decision.Path, sourceURL, fetchResult.Body(), execCtx.RequestID)
	if eerr != nil {
		o.publishCompleted(execCtx, rawURL, false, string(decision.Path), extractMeta.FallbackUsed, execCtx.Elapsed())
		return PipelineResult{}, eerr
	}

	result := buildResult(rawURL, doc, extractMeta, decision, execCtx.Elapsed(), execCtx.StartedAt)

	o.store(key, result, fetchResult)
	o.publishCompleted(execCtx, rawURL, true, string(decision.Path), extractMeta.FallbackUsed, execCtx.Elapsed())
	return result, nil
}

// BatchResult pairs one URL from an ExecuteBatch call with its outcome.
type BatchResult struct {
	URL    string
	Result PipelineResult
	Err    error
}

// ExecuteBatch runs Execute over every url under a bounded-concurrency
// semaphore (Deps.BatchConcurrency, default 16). One URL failing never
// aborts its siblings; results are returned in the same order as urls.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, urls []string, opts ExtractionOptions) []BatchResult {
	results := make([]BatchResult, len(urls))
	done := make(chan int, len(urls))

	for i, rawURL := range urls {
		i, rawURL := i, rawURL
		go func() {
			if err := o.sem.Acquire(ctx); err != nil {
				results[i] = BatchResult{URL: rawURL, Err: &PipelineError{URL: rawURL, Message: err.Error(), Cause: ErrCauseTimeout}}
				done <- i
				return
			}
			defer o.sem.Release()

			result, err := o.Execute(ctx, rawURL, opts)
			results[i] = BatchResult{URL: rawURL, Result: result, Err: err}
			done <- i
		}()
	}

	for range urls {
		<-done
	}
	return results
}

func (o *Orchestrator) validate(rawURL string) (url.URL, *PipelineError) {
	if rawURL == "" {
		return url.URL{}, &PipelineError{URL: rawURL, Message: "url must not be empty", Cause: ErrCauseInvalidInput}
	}
	if len(rawURL) > maxURLLength {
		return url.URL{}, &PipelineError{URL: rawURL, Message: "url exceeds maximum length", Cause: ErrCauseInvalidInput}
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return url.URL{}, &PipelineError{URL: rawURL, Message: "url could not be parsed: " + err.Error(), Cause: ErrCauseInvalidInput}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return url.URL{}, &PipelineError{URL: rawURL, Message: "only http/https schemes are supported", Cause: ErrCauseInvalidInput}
	}
	if parsed.Host == "" {
		return url.URL{}, &PipelineError{URL: rawURL, Message: "url must have a host", Cause: ErrCauseInvalidInput}
	}
	// Private-range / loopback rejection is enforced at dial time by
	// internal/ssrfguard, wired into the Fetcher this Orchestrator holds;
	// re-checking here would duplicate a DNS resolution this package has
	// no business performing.
	return *parsed, nil
}

// tryCache probes the cache for key. A fresh hit is returned directly.
// An expired hit with validators attempts a conditional-GET
// revalidation; a 304 refreshes the entry in place (invariant #9) and
// is still reported as a hit. Any other outcome falls through to a
// full fetch.
func (o *Orchestrator) tryCache(execCtx *ExecutionContext, key string, sourceURL url.URL, opts ExtractionOptions) (PipelineResult, bool) {
	if opts.CacheMode == CacheBypass || opts.CacheMode == CacheRefresh || o.deps.Cache == nil {
		return PipelineResult{}, false
	}

	entry, ok := o.deps.Cache.Get(key)
	if !ok {
		return PipelineResult{}, false
	}

	if !entry.Expired(time.Now()) {
		return o.hit(execCtx, key, entry)
	}

	if !entry.Validators.HasAny() {
		return PipelineResult{}, false
	}

	validators := fetcher.PriorValidators{ETag: entry.Validators.ETag, LastModified: entry.Validators.LastModified}
	fetchResult, ferr := o.fetch(execCtx.Context(), sourceURL, opts, validators)
	if ferr != nil || !fetchResult.NotModified() {
		return PipelineResult{}, false
	}

	refreshed, ok := o.deps.Cache.Revalidate(key, cache.Validators{
		ETag:         fetchResult.ETag(),
		LastModified: fetchResult.LastModified(),
	}, o.deps.CacheTTL)
	if !ok {
		return PipelineResult{}, false
	}
	return o.hit(execCtx, key, refreshed)
}

func (o *Orchestrator) hit(execCtx *ExecutionContext, key string, entry cache.Entry) (PipelineResult, bool) {
	var payload cachedPayload
	if err := json.Unmarshal(entry.Value, &payload); err != nil {
		o.deps.Cache.Invalidate(key)
		return PipelineResult{}, false
	}
	o.publish(eventbus.TypeCacheHit, execCtx, eventbus.Info, map[string]any{"key": key, "url": payload.Result.Metadata.URL})
	o.publishCompleted(execCtx, payload.Result.Metadata.URL, true, payload.Result.Metadata.ParserPath, payload.Result.Metadata.FallbackUsed, execCtx.Elapsed())
	return payload.Result, true
}

func (o *Orchestrator) fetch(ctx context.Context, sourceURL url.URL, opts ExtractionOptions, validators fetcher.PriorValidators) (fetcher.FetchResult, error) {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = o.deps.UserAgent
	}
	fetchParam := fetcher.NewFetchParamWithValidators(sourceURL, userAgent, validators)
	result, err := o.deps.Fetcher.Fetch(ctx, 0, fetchParam, o.deps.RetryParam)
	if err != nil {
		return fetcher.FetchResult{}, err
	}
	return result, nil
}

func (o *Orchestrator) store(key string, result PipelineResult, fetchResult fetcher.FetchResult) {
	if o.deps.Cache == nil {
		return
	}
	payload, err := json.Marshal(cachedPayload{Result: result})
	if err != nil {
		return
	}
	o.deps.Cache.Put(key, cache.Entry{
		Value:       payload,
		ContentType: fetchResult.Headers()["Content-Type"],
		Validators:  cache.Validators{ETag: fetchResult.ETag(), LastModified: fetchResult.LastModified()},
		StoredAt:    time.Now(),
		TTL:         o.deps.CacheTTL,
	})
}

func (o *Orchestrator) publish(eventType string, execCtx *ExecutionContext, severity eventbus.Severity, attrs map[string]any) {
	if o.deps.Bus == nil {
		return
	}
	o.deps.Bus.Publish(eventbus.New(eventType, "orchestrator", severity, execCtx.RequestID, attrs))
}

func (o *Orchestrator) publishCompleted(execCtx *ExecutionContext, rawURL string, success bool, parserPath string, fallbackUsed bool, elapsed time.Duration) {
	severity := eventbus.Info
	if !success {
		severity = eventbus.Warn
	}
	o.publish(eventbus.TypeExecutionCompleted, execCtx, severity, map[string]any{
		"url":            rawURL,
		"success":        success,
		"parser_path":    parserPath,
		"fallback_used":  fallbackUsed,
		"elapsed_ms":     elapsed.Milliseconds(),
	})
}

func isPDF(headers map[string]string) bool {
	return headers["Content-Type"] == "application/pdf"
}

func buildResult(rawURL string, doc reliable.ExtractedDocument, meta reliable.ExtractionMetadata, decision gate.Decision, elapsed time.Duration, startedAt time.Time) PipelineResult {
	return PipelineResult{
		Text: doc.Text,
		Metadata: ResultMetadata{
			URL:              rawURL,
			Title:            doc.Title,
			Timestamp:        startedAt.UTC().Format(time.RFC3339),
			ExtractionTimeMs: elapsed.Milliseconds(),
			QualityScore:     meta.Quality,
			ConfidenceScore:  decision.Confidence,
			WordCount:        wordCount(doc.Text),
			ParserUsed:       string(meta.ParserUsed),
			ParserPath:       string(decision.Path),
			FallbackUsed:     meta.FallbackUsed,
			PrimaryParser:    string(meta.PrimaryParser),
			FallbackParser:   string(meta.FallbackParser),
			Links:            doc.Links,
			Images:           doc.Images,
			ContentHash:      doc.ContentHash,
		},
	}
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

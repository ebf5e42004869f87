package reliable

import (
	"context"
	"net/url"

	"github.com/google/uuid"
	"github.com/kestrelsoft/hxpipe/internal/eventbus"
	"github.com/kestrelsoft/hxpipe/internal/extractor"
	"github.com/kestrelsoft/hxpipe/internal/gate"
	"github.com/kestrelsoft/hxpipe/internal/headless"
	"github.com/kestrelsoft/hxpipe/internal/mdconvert"
	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/internal/reliability/breaker"
	"github.com/kestrelsoft/hxpipe/internal/sanitizer"
	"github.com/kestrelsoft/hxpipe/internal/wasmpool"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
	"github.com/kestrelsoft/hxpipe/pkg/retry"
)

/*
ReliableExtractor implements SPEC_FULL.md §4.4's fallback chain:

	Fast:        WASM        -> Native    (on WASM hard failure)
	ProbesFirst: WASM        -> Headless  (on WASM failure or quality < theta_probe)
	Headless:    Native      -> WASM      (both over already-rendered HTML; on Native hard failure)

ProbesFirst -> Headless is the one allowed re-entry: it is the only path
that calls into rendering from inside the extractor itself (the Fast and
Headless paths receive whatever HTML the caller already fetched or
rendered). The chain is otherwise acyclic.
*/

const (
	defaultQualityThreshold = 0.6
	breakerWASMExtract      = "wasm_extract"
)

// Deps wires the collaborators a ReliableExtractor composes. Every field
// is an already-built package from elsewhere in this module; this type
// owns none of their lifecycles except via the calls it makes through them.
type Deps struct {
	MetadataSink     metadata.MetadataSink
	Bus              *eventbus.Bus
	Breakers         *breaker.Registry
	Pool             *wasmpool.Pool
	Native           extractor.Extractor
	Headless         *headless.Adapter
	Sanitizer        sanitizer.Sanitizer
	ConvertRule      mdconvert.ConvertRule
	RetryParam       retry.RetryParam
	QualityThreshold float64
}

type ReliableExtractor struct {
	deps Deps
}

// NewReliableExtractor builds a ReliableExtractor. A zero QualityThreshold
// falls back to the spec's default theta_probe of 0.6.
func NewReliableExtractor(deps Deps) *ReliableExtractor {
	if deps.QualityThreshold <= 0 {
		deps.QualityThreshold = defaultQualityThreshold
	}
	return &ReliableExtractor{deps: deps}
}

// Extract runs the fallback chain for path and returns the winning
// document plus the metadata describing which parser(s) ran.
func (r *ReliableExtractor) Extract(
	ctx context.Context,
	path gate.Path,
	sourceURL url.URL,
	htmlBody []byte,
	correlationID uuid.UUID,
) (ExtractedDocument, ExtractionMetadata, error) {
	var (
		doc  ExtractedDocument
		meta ExtractionMetadata
		err  error
	)

	switch path {
	case gate.Fast:
		doc, meta, err = r.extractFast(ctx, sourceURL, htmlBody)
	case gate.ProbesFirst:
		doc, meta, err = r.extractProbesFirst(ctx, sourceURL, htmlBody, correlationID)
	case gate.Headless:
		doc, meta, err = r.extractHeadlessPath(ctx, sourceURL, htmlBody)
	default:
		err = &ExtractionFailedError{
			Message: "unrecognized gate path",
			Cause:   ErrCauseUnsupportedPath,
		}
	}

	r.publish(sourceURL, path, meta, err, correlationID)
	return doc, meta, err
}

func (r *ReliableExtractor) extractFast(ctx context.Context, sourceURL url.URL, htmlBody []byte) (ExtractedDocument, ExtractionMetadata, error) {
	doc, wasmErr := r.extractWASM(ctx, sourceURL, htmlBody)
	if wasmErr == nil {
		return doc, ExtractionMetadata{ParserUsed: ParserWASM, PrimaryParser: ParserWASM, Quality: r.quality(doc, htmlBody)}, nil
	}

	doc, nativeErr := r.extractNative(sourceURL, htmlBody)
	if nativeErr != nil {
		return ExtractedDocument{}, ExtractionMetadata{PrimaryParser: ParserWASM, FallbackParser: ParserNative, FallbackUsed: true},
			&ExtractionFailedError{
				Message:       "fast path exhausted primary and fallback",
				Cause:         ErrCauseBothFailed,
				PrimaryError:  wasmErr.Error(),
				FallbackError: nativeErr.Error(),
			}
	}
	return doc, ExtractionMetadata{
		ParserUsed:     ParserNative,
		FallbackUsed:   true,
		PrimaryParser:  ParserWASM,
		FallbackParser: ParserNative,
		Quality:        r.quality(doc, htmlBody),
	}, nil
}

func (r *ReliableExtractor) extractProbesFirst(ctx context.Context, sourceURL url.URL, htmlBody []byte, correlationID uuid.UUID) (ExtractedDocument, ExtractionMetadata, error) {
	doc, wasmErr := r.extractWASM(ctx, sourceURL, htmlBody)
	if wasmErr == nil {
		quality := r.quality(doc, htmlBody)
		if quality >= r.deps.QualityThreshold {
			return doc, ExtractionMetadata{ParserUsed: ParserWASM, PrimaryParser: ParserWASM, Quality: quality}, nil
		}
		// quality too low: the one allowed re-entry into Headless.
		headlessDoc, headlessErr := r.extractViaHeadless(ctx, sourceURL)
		if headlessErr != nil {
			// Quality-triggered fallback failing is not itself a hard
			// failure of the primary; the WASM result is still usable.
			return doc, ExtractionMetadata{ParserUsed: ParserWASM, PrimaryParser: ParserWASM, Quality: quality}, nil
		}
		return headlessDoc, ExtractionMetadata{
			ParserUsed:     ParserHeadless,
			FallbackUsed:   true,
			PrimaryParser:  ParserWASM,
			FallbackParser: ParserHeadless,
			Quality:        r.quality(headlessDoc, []byte(headlessDoc.Markdown)),
		}, nil
	}

	headlessDoc, headlessErr := r.extractViaHeadless(ctx, sourceURL)
	if headlessErr != nil {
		return ExtractedDocument{}, ExtractionMetadata{PrimaryParser: ParserWASM, FallbackParser: ParserHeadless, FallbackUsed: true},
			&ExtractionFailedError{
				Message:       "probes_first path exhausted primary and fallback",
				Cause:         ErrCauseBothFailed,
				PrimaryError:  wasmErr.Error(),
				FallbackError: headlessErr.Error(),
			}
	}
	return headlessDoc, ExtractionMetadata{
		ParserUsed:     ParserHeadless,
		FallbackUsed:   true,
		PrimaryParser:  ParserWASM,
		FallbackParser: ParserHeadless,
		Quality:        r.quality(headlessDoc, []byte(headlessDoc.Markdown)),
	}, nil
}

func (r *ReliableExtractor) extractHeadlessPath(ctx context.Context, sourceURL url.URL, renderedHTML []byte) (ExtractedDocument, ExtractionMetadata, error) {
	doc, nativeErr := r.extractNative(sourceURL, renderedHTML)
	if nativeErr == nil {
		return doc, ExtractionMetadata{ParserUsed: ParserNative, PrimaryParser: ParserNative, Quality: r.quality(doc, renderedHTML)}, nil
	}

	doc, wasmErr := r.extractWASM(ctx, sourceURL, renderedHTML)
	if wasmErr != nil {
		return ExtractedDocument{}, ExtractionMetadata{PrimaryParser: ParserNative, FallbackParser: ParserWASM, FallbackUsed: true},
			&ExtractionFailedError{
				Message:       "headless path exhausted primary and fallback",
				Cause:         ErrCauseBothFailed,
				PrimaryError:  nativeErr.Error(),
				FallbackError: wasmErr.Error(),
			}
	}
	return doc, ExtractionMetadata{
		ParserUsed:     ParserWASM,
		FallbackUsed:   true,
		PrimaryParser:  ParserNative,
		FallbackParser: ParserWASM,
		Quality:        r.quality(doc, renderedHTML),
	}, nil
}

// extractNative runs the in-process DOM extractor directly, with no pool,
// no breaker, and no retry: it is a local heuristic, not an external
// resource call.
func (r *ReliableExtractor) extractNative(sourceURL url.URL, htmlBody []byte) (ExtractedDocument, failure.ClassifiedError) {
	result, err := r.deps.Native.Extract(sourceURL, htmlBody)
	if err != nil {
		return ExtractedDocument{}, err
	}
	doc, buildErr := buildDocument(r.deps.Sanitizer, r.deps.ConvertRule, result)
	if buildErr != nil {
		return ExtractedDocument{}, buildErr
	}
	return doc, nil
}

// extractWASM leases a pooled capability, retries up to RetryParam's
// MaxAttempts (WASM only, per §4.6), and releases the lease with the
// outcome the attempt actually observed.
func (r *ReliableExtractor) extractWASM(ctx context.Context, sourceURL url.URL, htmlBody []byte) (ExtractedDocument, failure.ClassifiedError) {
	result := retry.Retry(r.deps.RetryParam, func() (ExtractedDocument, failure.ClassifiedError) {
		doc, err := breaker.Run(r.deps.Breakers, breakerWASMExtract, func() (ExtractedDocument, error) {
			d, classifiedErr := r.leaseAndExtract(ctx, sourceURL, htmlBody)
			if classifiedErr != nil {
				return ExtractedDocument{}, classifiedErr
			}
			return d, nil
		})
		if err != nil {
			if classified, ok := err.(failure.ClassifiedError); ok {
				return doc, classified
			}
			// breaker.ErrCircuitOpen isn't a ClassifiedError; treat the
			// open circuit as terminal for this attempt so retry.Retry
			// fast-fails to the caller's fallback instead of burning
			// attempts against a breaker that just opened.
			return doc, &ExtractionFailedError{Message: err.Error(), Retryable: false, Cause: ErrCausePrimaryFailed}
		}
		return doc, nil
	})
	if result.IsFailure() {
		return ExtractedDocument{}, result.Err()
	}
	return result.Value(), nil
}

func (r *ReliableExtractor) leaseAndExtract(ctx context.Context, sourceURL url.URL, htmlBody []byte) (ExtractedDocument, failure.ClassifiedError) {
	lease, err := r.deps.Pool.Acquire(ctx)
	if err != nil {
		return ExtractedDocument{}, err.(failure.ClassifiedError)
	}

	wasmCap, ok := lease.Capability().(*wasmCapability)
	if !ok {
		r.deps.Pool.Release(lease, wasmpool.ReleaseReport{Outcome: wasmpool.UnhealthyOutcome})
		return ExtractedDocument{}, &ExtractionFailedError{Message: "pool factory produced an incompatible capability", Cause: ErrCausePrimaryFailed}
	}

	result, extractErr := wasmCap.extract(sourceURL, htmlBody)
	if extractErr != nil {
		r.deps.Pool.Release(lease, wasmpool.ReleaseReport{Outcome: wasmpool.UnhealthyOutcome})
		return ExtractedDocument{}, extractErr
	}

	doc, buildErr := buildDocument(r.deps.Sanitizer, r.deps.ConvertRule, result)
	if buildErr != nil {
		r.deps.Pool.Release(lease, wasmpool.ReleaseReport{Outcome: wasmpool.UnhealthyOutcome})
		return ExtractedDocument{}, buildErr
	}

	r.deps.Pool.Release(lease, wasmpool.ReleaseReport{Outcome: wasmpool.Ok})
	return doc, nil
}

// extractViaHeadless renders sourceURL and runs the native extractor over
// the rendered HTML. This is the only place ReliableExtractor itself
// triggers a render.
func (r *ReliableExtractor) extractViaHeadless(ctx context.Context, sourceURL url.URL) (ExtractedDocument, failure.ClassifiedError) {
	rendered, err := r.deps.Headless.Render(ctx, sourceURL.String(), headless.DefaultRenderOptions())
	if err != nil {
		if classified, ok := err.(failure.ClassifiedError); ok {
			return ExtractedDocument{}, classified
		}
		return ExtractedDocument{}, &ExtractionFailedError{Message: err.Error(), Cause: ErrCauseFallbackFailed}
	}
	return r.extractNative(sourceURL, []byte(rendered.HTML))
}

func (r *ReliableExtractor) quality(doc ExtractedDocument, htmlBody []byte) float64 {
	dom, err := BuildDOMSignals(htmlBody)
	if err != nil {
		return 0
	}
	return ComputeQuality(doc, dom)
}

func (r *ReliableExtractor) publish(sourceURL url.URL, path gate.Path, meta ExtractionMetadata, err error, correlationID uuid.UUID) {
	if r.deps.Bus == nil {
		return
	}
	if err != nil {
		r.deps.Bus.Publish(eventbus.New(
			eventbus.TypeExtractionReliableFailure,
			"extractor",
			eventbus.Error,
			correlationID,
			map[string]any{
				"url":   sourceURL.String(),
				"path":  string(path),
				"error": err.Error(),
			},
		))
		return
	}
	r.deps.Bus.Publish(eventbus.New(
		eventbus.TypeExtractionReliableSuccess,
		"extractor",
		eventbus.Info,
		correlationID,
		map[string]any{
			"url":           sourceURL.String(),
			"path":          string(path),
			"parser_used":   string(meta.ParserUsed),
			"fallback_used": meta.FallbackUsed,
			"quality":       meta.Quality,
		},
	))
}

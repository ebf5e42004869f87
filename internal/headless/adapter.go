package headless

import (
	"context"
	"time"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/internal/reliability/breaker"
	"github.com/kestrelsoft/hxpipe/pkg/semaphore"
)

/*
Responsibilities
- Bound global headless concurrency (the browser pool is expensive; a
  caller that never releases its slot must not starve every other URL)
- Enforce a per-call timeout independent of whatever the RenderClient
  itself honors
- Fast-fail via the shared "headless_render" circuit breaker when the
  rendering subsystem is unhealthy, instead of queuing behind a cap
  that will never drain

The adapter never retries: §4.4 says headless is not retried, to
preserve browser-pool capacity for other callers.
*/

const breakerName = "headless_render"

// Adapter wraps a RenderClient with the resource contracts SPEC_FULL.md
// §4.7 requires. The concrete browser-control client is injected so the
// reliability wrapping here is testable without a real browser.
type Adapter struct {
	client       RenderClient
	sem          *semaphore.Weighted
	breakers     *breaker.Registry
	metadataSink metadata.MetadataSink
}

// NewAdapter builds an Adapter. inFlightCap bounds global concurrent
// renders (default 10 per the spec).
func NewAdapter(client RenderClient, inFlightCap int, breakers *breaker.Registry, metadataSink metadata.MetadataSink) *Adapter {
	return &Adapter{
		client:       client,
		sem:          semaphore.NewWeighted(inFlightCap),
		breakers:     breakers,
		metadataSink: metadataSink,
	}
}

// Render acquires an in-flight slot (waiting up to ctx's deadline),
// then calls the RenderClient under the headless_render circuit
// breaker and a per-call timeout.
func (a *Adapter) Render(ctx context.Context, targetURL string, options RenderOptions) (RenderedResponse, error) {
	if err := a.sem.Acquire(ctx); err != nil {
		renderErr := &RenderError{
			Message:   "timed out waiting for an in-flight render slot",
			Retryable: true,
			Cause:     ErrCauseInFlightCapExceeded,
		}
		a.recordError(targetURL, renderErr)
		return RenderedResponse{}, renderErr
	}
	defer a.sem.Release()

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultRenderOptions().Timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := a.breakers.Get(breakerName)
	if !b.Allow() {
		renderErr := &RenderError{
			Message:   "headless_render circuit is open",
			Retryable: true,
			Cause:     ErrCauseCircuitOpen,
		}
		a.recordError(targetURL, renderErr)
		return RenderedResponse{}, renderErr
	}

	response, err := a.client.Render(callCtx, targetURL, options)
	if err != nil {
		b.Report(false)
		renderErr := classifyRenderError(err, callCtx)
		a.recordError(targetURL, renderErr)
		return RenderedResponse{}, renderErr
	}

	b.Report(true)
	return response, nil
}

func classifyRenderError(err error, ctx context.Context) *RenderError {
	if ctx.Err() != nil {
		return &RenderError{Message: err.Error(), Retryable: true, Cause: ErrCauseTimeout}
	}
	return &RenderError{Message: err.Error(), Retryable: true, Cause: ErrCauseNavigationFailed}
}

func (a *Adapter) recordError(targetURL string, err *RenderError) {
	a.metadataSink.RecordError(
		time.Now(),
		"headless",
		"Adapter.Render",
		mapRenderErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, targetURL)},
	)
}

// Close releases the underlying RenderClient's resources (e.g. the
// browser process).
func (a *Adapter) Close() error {
	return a.client.Close()
}

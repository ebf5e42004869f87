package reliable

import (
	"net/url"

	"github.com/kestrelsoft/hxpipe/internal/extractor"
	"github.com/kestrelsoft/hxpipe/internal/wasmpool"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
)

// wasmCapability is what internal/wasmpool.Pool pools and disposes. Per
// SPEC_FULL.md's own framing, there is no real WASM runtime here: a
// capability is just an extractor.Extractor wrapped to satisfy the
// pool's opaque Close()-only contract. The pool tracks lifecycle, fuel,
// and memory accounting around this value without knowing what it is.
type wasmCapability struct {
	extractor extractor.Extractor
}

// NewWASMCapability wraps ext as a wasmpool.Capability. Exported so a
// caller wiring a Pool (e.g. the pipeline orchestrator) can build a
// Factory without reaching into this package's internals:
//
//	wasmpool.New(params, func() wasmpool.Capability {
//		ext := extractor.NewDomExtractor(sink)
//		return reliable.NewWASMCapability(&ext)
//	})
func NewWASMCapability(ext extractor.Extractor) wasmpool.Capability {
	return &wasmCapability{extractor: ext}
}

// Close releases the wrapped extractor. DomExtractor holds no resources
// of its own, so this is a no-op; it exists to satisfy wasmpool.Capability.
func (c *wasmCapability) Close() error {
	return nil
}

// extract runs the wrapped extractor's Extract method. It is not part of
// wasmpool.Capability; ReliableExtractor type-asserts the lease's
// Capability back to *wasmCapability to actually use it, the way a real
// WASM host would expose a guest export alongside the generic lifecycle
// contract.
func (c *wasmCapability) extract(sourceURL url.URL, htmlBody []byte) (extractor.ExtractionResult, failure.ClassifiedError) {
	return c.extractor.Extract(sourceURL, htmlBody)
}

var _ wasmpool.Capability = (*wasmCapability)(nil)

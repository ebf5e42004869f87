package headless

import "context"

// RenderClient is the opaque RPC-style contract to an external browser
// service. The adapter wraps it with the in-flight cap, per-call
// timeout, and circuit breaker; RenderClient itself does none of that.
type RenderClient interface {
	Render(ctx context.Context, targetURL string, options RenderOptions) (RenderedResponse, error)
	Close() error
}

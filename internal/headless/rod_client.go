package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

/*
rod_client.go is the one file in this package that knows about go-rod.
Everything else in internal/headless (Adapter, RenderError, RenderOptions)
is written against the RenderClient interface and must stay ignorant of
rod/proto/launcher so the rendering subsystem can be replaced (a remote
browser farm, a different CDP library) without touching the reliability
wrapping.

Lifecycle per call, in order, mirrors the constraints a real CDP session
imposes:

 1. acquire a page from the pool (or open one)
 2. stealth injection, if requested — must happen before Navigate, since
    the injected JS only applies to navigations that occur after it
 3. register the network-idle waiter before Navigate, or in-flight
    requests made during the initial load are missed and the wait
    returns instantly
 4. Navigate, then wait per RenderOptions.Wait
 5. snapshot HTML + cookies
 6. unconditionally return the page to about:blank and release it back
    to the pool, even on error
*/

// RodClient is a RenderClient backed by a single long-lived go-rod
// browser instance with an internal page pool.
type RodClient struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	pagePool rod.Pool[rod.Page]
}

// NewRodClient launches a headless Chromium instance and returns a
// RenderClient over it. poolSize bounds how many tabs are kept warm.
func NewRodClient(poolSize int) (*RodClient, error) {
	l := launcher.New().Headless(true).NoSandbox(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching headless browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	return &RodClient{
		browser:  browser,
		launcher: l,
		pagePool: rod.NewPagePool(poolSize),
	}, nil
}

// Render implements RenderClient.
func (c *RodClient) Render(ctx context.Context, targetURL string, options RenderOptions) (RenderedResponse, error) {
	page, err := c.pagePool.Get(func() (*rod.Page, error) {
		return c.browser.Page(proto.TargetCreateTarget{})
	})
	if err != nil {
		return RenderedResponse{}, &RenderError{
			Message:   fmt.Sprintf("acquiring page from pool: %v", err),
			Retryable: true,
			Cause:     ErrCauseBrowserCrash,
		}
	}
	defer func() {
		_ = page.Navigate("about:blank")
		c.pagePool.Put(page)
	}()

	stealthEngaged := options.StealthLevel > 0
	if stealthEngaged {
		if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
			stealthEngaged = false
		}
	}

	if options.UserAgentOverride != "" {
		_ = proto.NetworkSetUserAgentOverride{UserAgent: options.UserAgentOverride}.Call(page)
	}

	bound := page.Context(ctx)

	var waitIdle func() error
	if options.Wait == WaitNetworkIdle {
		waitIdle = bound.WaitRequestIdle(time.Second, nil, nil, nil)
	}

	if err := bound.Navigate(targetURL); err != nil {
		return RenderedResponse{}, &RenderError{
			Message:   fmt.Sprintf("navigating to %s: %v", targetURL, err),
			Retryable: true,
			Cause:     ErrCauseNavigationFailed,
		}
	}

	switch options.Wait {
	case WaitNetworkIdle:
		if waitIdle != nil {
			waitIdle()
		}
	case WaitSelector:
		selectorWait := options.Timeout
		hardCap := 3 * time.Second
		if !stealthEngaged && selectorWait > hardCap {
			selectorWait = hardCap
		}
		selCtx, cancel := context.WithTimeout(ctx, selectorWait)
		defer cancel()
		if _, err := bound.Context(selCtx).Element(options.WaitSelector); err != nil {
			return RenderedResponse{}, &RenderError{
				Message:   fmt.Sprintf("waiting for selector %q: %v", options.WaitSelector, err),
				Retryable: true,
				Cause:     ErrCauseTimeout,
			}
		}
	case WaitLoad:
		if err := bound.WaitLoad(); err != nil {
			return RenderedResponse{}, &RenderError{
				Message:   fmt.Sprintf("waiting for load: %v", err),
				Retryable: true,
				Cause:     ErrCauseTimeout,
			}
		}
	}

	html, err := bound.HTML()
	if err != nil {
		return RenderedResponse{}, &RenderError{
			Message:   fmt.Sprintf("reading rendered HTML: %v", err),
			Retryable: true,
			Cause:     ErrCauseNavigationFailed,
		}
	}

	info, err := bound.Info()
	finalURL := targetURL
	if err == nil && info != nil {
		finalURL = info.URL
	}

	cookies, _ := bound.Cookies(nil)
	renderedCookies := make([]Cookie, 0, len(cookies))
	for _, ck := range cookies {
		renderedCookies = append(renderedCookies, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  time.Unix(int64(ck.Expires), 0),
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		})
	}

	return RenderedResponse{
		FinalURL: finalURL,
		HTML:     html,
		Cookies:  renderedCookies,
	}, nil
}

// Close shuts down the browser and its launcher process.
func (c *RodClient) Close() error {
	err := c.browser.Close()
	c.launcher.Cleanup()
	return err
}

var _ RenderClient = (*RodClient)(nil)

package headless

import "time"

// WaitCondition names when a render is considered complete.
type WaitCondition string

const (
	WaitLoad        WaitCondition = "load"
	WaitNetworkIdle WaitCondition = "networkidle"
	WaitSelector    WaitCondition = "selector"
)

// RenderOptions parameterize a single render call.
type RenderOptions struct {
	Wait              WaitCondition
	WaitSelector      string
	UserAgentOverride string
	ProxyURL          string
	StealthLevel      int
	SessionContextID  string
	Timeout           time.Duration
}

// DefaultRenderOptions mirrors SPEC_FULL.md §4.7's stated defaults.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Wait:    WaitNetworkIdle,
		Timeout: 60 * time.Second,
	}
}

// RenderedResponse is what a successful render call returns.
type RenderedResponse struct {
	FinalURL   string
	HTML       string
	Screenshot []byte
	Cookies    []Cookie
}

// Cookie is a minimal cookie-jar snapshot entry, independent of any
// particular browser-control library's own cookie type.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
}

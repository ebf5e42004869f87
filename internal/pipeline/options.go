package pipeline

import "strconv"

// CacheMode controls how Execute consults the cache for a given request.
type CacheMode string

const (
	// CacheDefault probes the cache and revalidates an expired entry
	// before falling through to a full fetch+extract.
	CacheDefault CacheMode = "default"
	// CacheBypass skips the cache read entirely but still writes the
	// fresh result back, so a later Default-mode request benefits.
	CacheBypass CacheMode = "bypass"
	// CacheRefresh skips the cache read AND forces a fresh fetch even
	// if prior validators would otherwise allow revalidation.
	CacheRefresh CacheMode = "refresh"
)

// ExtractionStrategy names an extraction approach. Execute uses it only
// as part of the cache key: every request is routed by the gate's
// classification, whatever strategy is set, and no strategy-specific
// extraction exists for Trek, CSSJSON or Regex.
type ExtractionStrategy string

const (
	StrategyAuto    ExtractionStrategy = "auto"
	StrategyTrek    ExtractionStrategy = "trek"
	StrategyCSSJSON ExtractionStrategy = "css_json"
	StrategyRegex   ExtractionStrategy = "regex"
)

// StealthLevel names how strongly a headless render disguises itself as
// a real browser. Execute does not forward it: headless renders inside
// the reliable chain always use headless.DefaultRenderOptions.
type StealthLevel string

const (
	StealthNone   StealthLevel = "none"
	StealthLow    StealthLevel = "low"
	StealthMedium StealthLevel = "medium"
	StealthHigh   StealthLevel = "high"
)

// ExtractionOptions is the per-call request shape from SPEC_FULL.md §6.
type ExtractionOptions struct {
	SkipHeadless       bool               `json:"skip_headless,omitempty"`
	CacheMode          CacheMode          `json:"cache_mode,omitempty"`
	ExtractionStrategy ExtractionStrategy `json:"extraction_strategy,omitempty"`
	CSSSelectors       map[string]string  `json:"css_selectors,omitempty"`
	RegexPatterns      []string           `json:"regex_patterns,omitempty"`
	UserAgent          string             `json:"user_agent,omitempty"`
	StealthLevel       StealthLevel       `json:"stealth_level,omitempty"`
	SessionID          string             `json:"session_id,omitempty"`
}

// DefaultExtractionOptions matches the field defaults SPEC_FULL.md §6
// states explicitly (skip_headless=false, cache_mode=Default,
// extraction_strategy=Auto, stealth_level=None); the rest are unset.
func DefaultExtractionOptions() ExtractionOptions {
	return ExtractionOptions{
		CacheMode:          CacheDefault,
		ExtractionStrategy: StrategyAuto,
		StealthLevel:       StealthNone,
	}
}

// canonicalize produces a stable, order-independent string form of the
// options that participate in the cache key, per internal/cache.KeyInput.
func (o ExtractionOptions) canonicalize() map[string]string {
	out := map[string]string{
		"skip_headless": boolString(o.SkipHeadless),
		"strategy":      string(o.ExtractionStrategy),
	}
	if len(o.CSSSelectors) > 0 {
		for k, v := range o.CSSSelectors {
			out["css:"+k] = v
		}
	}
	for i, p := range o.RegexPatterns {
		out["regex"+strconv.Itoa(i)] = p
	}
	return out
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

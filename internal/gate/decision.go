package gate

/*
Decision policy, per SPEC_FULL.md §4.3

Confidence starts at a base of 0.5 and is adjusted by the signal table
below, then clamped to [0, 1]. Anti-scraping signals force Headless
regardless of the numeric score; otherwise the thresholds decide:

	confidence >= 0.8          -> Fast
	0.5 <= confidence < 0.8    -> ProbesFirst
	confidence < 0.5           -> Headless
*/

// Path is the extraction route a GateDecision selects.
type Path string

const (
	Fast        Path = "fast"
	ProbesFirst Path = "probes_first"
	Headless    Path = "headless"
)

const (
	fastThreshold        = 0.8
	probesFirstThreshold = 0.5
	baseConfidence       = 0.5
)

// Decision is the Gate's pure-function output for one (url, html) pair.
type Decision struct {
	Path       Path
	Confidence float64
	Features   GateFeatures
}

// Decide scores features and maps the score to a Path. It never reads
// the network or mutates features; callers that need this scored
// against the originating URL should have already populated
// features.URL via ExtractFeatures.
func Decide(features GateFeatures) Decision {
	confidence := score(features)

	if features.AntiScrapingSignals {
		return Decision{Path: Headless, Confidence: confidence, Features: features}
	}

	var path Path
	switch {
	case confidence >= fastThreshold:
		path = Fast
	case confidence >= probesFirstThreshold:
		path = ProbesFirst
	default:
		path = Headless
	}

	return Decision{Path: path, Confidence: confidence, Features: features}
}

func score(f GateFeatures) float64 {
	confidence := baseConfidence

	if f.URL.KnownStaticAllowlist {
		confidence += 0.30
	}
	if f.URL.EndsWithHTML {
		confidence += 0.20
	}
	if f.URL.IsHTTPS {
		confidence += 0.10
	}
	if f.URL.HasJavascriptScheme {
		confidence -= 0.40
	}
	if f.URL.ShortNoQuery {
		confidence += 0.20
	}
	if f.Framework.Detected() {
		confidence -= 0.30
	}
	if f.URL.HasHashBangRoute {
		confidence -= 0.20
	}
	if f.URL.HasAjaxOrAPI {
		confidence -= 0.20
	}
	if f.TextToMarkupRatio < 0.10 {
		confidence -= 0.20
	}
	if f.PlaceholderSignals {
		confidence -= 0.15
	}

	return clamp(confidence, 0, 1)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

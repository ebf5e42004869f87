package gate

import (
	"bytes"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/kestrelsoft/hxpipe/internal/extractor"
	"golang.org/x/net/html"
)

/*
Responsibilities
- Walk a fetched HTML body exactly once
- Surface the cheap signals the decision policy scores against

Feature extraction never re-parses the DOM per signal: a single
goquery.Document built from the parsed tree backs every check below.
*/

// ScriptIntensity summarizes how much of the document is script payload.
type ScriptIntensity struct {
	Count      int
	TotalBytes int
}

// FrameworkSignals flags well-known client-rendering frameworks detected
// from hydration markers and bundle references, independent of the
// known-documentation-platform selector catalogue.
type FrameworkSignals struct {
	React   bool
	Vue     bool
	Angular bool
}

// Detected reports whether any SPA framework signal fired.
func (f FrameworkSignals) Detected() bool {
	return f.React || f.Vue || f.Angular
}

// URLSignals are derived from the request URL alone.
type URLSignals struct {
	KnownStaticAllowlist bool
	EndsWithHTML         bool
	IsHTTPS              bool
	ShortNoQuery         bool
	HasJavascriptScheme  bool
	HasHashBangRoute     bool
	HasAjaxOrAPI         bool
}

// GateFeatures is the cheap signal snapshot the decision policy scores.
// Per SPEC_FULL.md §4.3 it is derived from (url, body) alone.
type GateFeatures struct {
	HTMLSizeBytes       int
	TextToMarkupRatio   float64
	Script              ScriptIntensity
	HasSemanticMain     bool
	Framework           FrameworkSignals
	AntiScrapingSignals bool
	PlaceholderSignals  bool
	URL                 URLSignals
	// KnownDocFramework names the internal/extractor.KnownDocSelectors key
	// that matched (e.g. "docusaurus"), or "" if none did. This is the
	// shared-selector-catalogue consumer the spec calls out: the same
	// table the native extractor uses for its container heuristics.
	KnownDocFramework string
}

var antiScrapingMarkers = []string{
	"cf-browser-verification",
	"cf-challenge",
	"g-recaptcha",
	"h-captcha",
	"hcaptcha",
	"perimeterx",
	"_pxcaptcha",
	"px-captcha",
}

var placeholderMarkers = []string{
	"skeleton",
	"shimmer",
	"placeholder-loading",
	"content-placeholder",
	"loading-spinner",
}

var scriptBundleMarkers = map[string][]string{
	"react": {"__next_data__", "data-reactroot", "react-root", "_app-"},
	"vue":   {"data-v-", "__vue__", "id=\"app\" data-server-rendered"},
	"angular": {"ng-version", "_nghost", "ng-app"},
}

// ExtractFeatures parses htmlBody once and derives every GateFeatures
// signal from the resulting tree plus sourceURL. knownStaticAllowlist
// holds lowercased hostnames treated as known-static for the URL
// signal table.
func ExtractFeatures(sourceURL url.URL, htmlBody []byte, knownStaticAllowlist map[string]struct{}) (GateFeatures, error) {
	doc, err := html.Parse(bytes.NewReader(htmlBody))
	if err != nil {
		return GateFeatures{}, err
	}
	gqDoc := goquery.NewDocumentFromNode(doc)

	features := GateFeatures{
		HTMLSizeBytes: len(htmlBody),
		URL:           extractURLSignals(sourceURL, knownStaticAllowlist),
	}

	features.Script = extractScriptIntensity(gqDoc)
	features.TextToMarkupRatio = textToMarkupRatio(doc, len(htmlBody))
	features.HasSemanticMain = hasSemanticMain(gqDoc)
	features.Framework = detectFrameworkSignals(htmlBody, gqDoc)
	features.AntiScrapingSignals = containsAnyMarker(htmlBody, antiScrapingMarkers)
	features.PlaceholderSignals = detectPlaceholderSignals(gqDoc, htmlBody)
	features.KnownDocFramework = detectKnownDocFramework(gqDoc)

	return features, nil
}

func extractURLSignals(u url.URL, knownStaticAllowlist map[string]struct{}) URLSignals {
	_, known := knownStaticAllowlist[strings.ToLower(u.Hostname())]
	raw := u.String()
	lower := strings.ToLower(raw)

	return URLSignals{
		KnownStaticAllowlist: known,
		EndsWithHTML:         strings.HasSuffix(u.Path, ".html") || strings.HasSuffix(u.Path, ".htm"),
		IsHTTPS:              strings.EqualFold(u.Scheme, "https"),
		ShortNoQuery:         len(raw) < 50 && u.RawQuery == "",
		HasJavascriptScheme:  strings.HasPrefix(lower, "javascript:"),
		HasHashBangRoute:     strings.Contains(raw, "#/"),
		HasAjaxOrAPI:         strings.Contains(lower, "ajax") || strings.Contains(lower, "/api"),
	}
}

func extractScriptIntensity(doc *goquery.Document) ScriptIntensity {
	var intensity ScriptIntensity
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		intensity.Count++
		intensity.TotalBytes += len(s.Text())
		if src, ok := s.Attr("src"); ok {
			intensity.TotalBytes += len(src)
		}
	})
	return intensity
}

var excludedFromText = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
}

// textToMarkupRatio measures visible text length against total HTML
// length, excluding script/style/noscript content from the numerator.
// Walks the parsed tree directly rather than mutating a shared
// goquery selection.
func textToMarkupRatio(doc *html.Node, totalHTMLLen int) float64 {
	if totalHTMLLen == 0 {
		return 0
	}

	var nonWhitespace int
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n == nil {
			return
		}
		if n.Type == html.ElementNode && excludedFromText[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			for _, r := range n.Data {
				if !unicode.IsSpace(r) {
					nonWhitespace++
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return float64(nonWhitespace) / float64(totalHTMLLen)
}

func hasSemanticMain(doc *goquery.Document) bool {
	if doc.Find("main").Length() > 0 || doc.Find("article").Length() > 0 {
		return true
	}
	return doc.Find("[role='main']").Length() > 0
}

func detectFrameworkSignals(htmlBody []byte, doc *goquery.Document) FrameworkSignals {
	lower := strings.ToLower(string(htmlBody))
	signals := FrameworkSignals{
		React:   containsAnyMarker([]byte(lower), scriptBundleMarkers["react"]),
		Vue:     containsAnyMarker([]byte(lower), scriptBundleMarkers["vue"]),
		Angular: containsAnyMarker([]byte(lower), scriptBundleMarkers["angular"]),
	}

	doc.Find("[data-reactroot], #react-root, #__next").Each(func(_ int, _ *goquery.Selection) {
		signals.React = true
	})
	doc.Find("[data-v-app], #app[data-server-rendered]").Each(func(_ int, _ *goquery.Selection) {
		signals.Vue = true
	})
	doc.Find("[ng-version], app-root").Each(func(_ int, _ *goquery.Selection) {
		signals.Angular = true
	})

	return signals
}

func detectPlaceholderSignals(doc *goquery.Document, htmlBody []byte) bool {
	if containsAnyMarker(htmlBody, placeholderMarkers) {
		return true
	}
	found := false
	doc.Find("[aria-busy='true']").Each(func(_ int, _ *goquery.Selection) {
		found = true
	})
	return found
}

// detectKnownDocFramework reuses internal/extractor's KnownDocSelectors
// catalogue: the same table the native extractor walks for its
// container heuristics, here walked for a boolean match.
func detectKnownDocFramework(doc *goquery.Document) string {
	frameworks := make([]string, 0, len(extractor.KnownDocSelectors))
	for framework := range extractor.KnownDocSelectors {
		frameworks = append(frameworks, framework)
	}
	sort.Strings(frameworks)
	for _, framework := range frameworks {
		if framework == "generic" {
			continue
		}
		for _, selector := range extractor.KnownDocSelectors[framework] {
			if doc.Find(selector).Length() > 0 {
				return framework
			}
		}
	}
	return ""
}

func containsAnyMarker(body []byte, markers []string) bool {
	lower := bytes.ToLower(body)
	for _, marker := range markers {
		if bytes.Contains(lower, []byte(marker)) {
			return true
		}
	}
	return false
}

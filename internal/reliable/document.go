package reliable

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/kestrelsoft/hxpipe/internal/extractor"
	"github.com/kestrelsoft/hxpipe/internal/mdconvert"
	"github.com/kestrelsoft/hxpipe/internal/sanitizer"
	"github.com/kestrelsoft/hxpipe/pkg/failure"
	"github.com/kestrelsoft/hxpipe/pkg/hashutil"
	"golang.org/x/net/html"
)

// buildDocument turns a raw extraction.ExtractionResult into the
// parser-agnostic ExtractedDocument the quality score and the pipeline's
// storage layer both consume. It runs the sanitize -> convert chain
// downstream of extraction, so a Fast-path
// native extraction and a Headless-path extraction over rendered HTML
// produce identically-shaped documents.
func buildDocument(
	sanitizerImpl sanitizer.Sanitizer,
	convertRule mdconvert.ConvertRule,
	result extractor.ExtractionResult,
) (ExtractedDocument, failure.ClassifiedError) {
	sanitized, err := sanitizerImpl.Sanitize(result.ContentNode)
	if err != nil {
		return ExtractedDocument{}, err
	}

	conversion, err := convertRule.Convert(sanitized)
	if err != nil {
		return ExtractedDocument{}, err
	}

	sel := goquery.NewDocumentFromNode(result.ContentNode).Selection

	title := strings.TrimSpace(sel.Find("h1").First().Text())
	if title == "" {
		title = strings.TrimSpace(sel.Find("title").First().Text())
	}

	text := strings.TrimSpace(sel.Text())
	markdown := string(conversion.GetMarkdownContent())

	var links, images []string
	for _, ref := range conversion.GetLinkRefs() {
		switch ref.GetKind() {
		case mdconvert.KindImage:
			images = append(images, ref.GetRaw())
		default:
			links = append(links, ref.GetRaw())
		}
	}

	language := ""
	if root := result.DocumentRoot; root != nil {
		language = htmlLangAttr(root)
	}

	return ExtractedDocument{
		Title:       title,
		Text:        text,
		Markdown:    markdown,
		Links:       links,
		Images:      images,
		Language:    language,
		ContentHash: hashutil.Fingerprint128([]byte(markdown)),
	}, nil
}

func htmlLangAttr(n *html.Node) string {
	var lang string
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if lang != "" || node == nil {
			return
		}
		if node.Type == html.ElementNode && node.Data == "html" {
			for _, attr := range node.Attr {
				if attr.Key == "lang" {
					lang = attr.Val
					return
				}
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return lang
}

// BuildDOMSignals derives the cheap structural facts the quality score
// compares an extraction against, directly from the raw HTML body (the
// same document the gate already parses for its own feature extraction).
func BuildDOMSignals(htmlBody []byte) (DOMSignals, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(htmlBody)))
	if err != nil {
		return DOMSignals{}, err
	}

	signals := DOMSignals{
		HasHeading: doc.Find("h1, h2, h3").Length() > 0,
		HasList:    doc.Find("ul, ol").Length() > 0,
		LinkCount:  doc.Find("a[href]").Length(),
		ImageCount: doc.Find("img[src]").Length(),
		TextTokens: len(strings.Fields(doc.Text())),
	}
	return signals, nil
}

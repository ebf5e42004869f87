package reliable

import (
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/ast"
	"github.com/gomarkdown/markdown/parser"
)

/*
Quality score, per SPEC_FULL.md §4.4:

	quality = 0.30*coverage_title_plus_text
	        + 0.20*structure_preserved
	        + 0.20*link_extraction_ok
	        + 0.15*image_extraction_ok
	        + 0.15*metadata_richness

This is independent of the gate's confidence score: confidence predicts
which path to try before extraction; quality measures how well the
chosen path's result actually turned out, after the fact.
*/

// visitFunc adapts a plain function to ast.Visitor, the way the rest of
// this codebase adapts functions to single-method interfaces (see
// eventbus.HandlerFunc).
type visitFunc func(node ast.Node, entering bool) ast.WalkStatus

func (f visitFunc) Visit(node ast.Node, entering bool) ast.WalkStatus {
	return f(node, entering)
}

const (
	weightCoverage  = 0.30
	weightStructure = 0.20
	weightLinks     = 0.20
	weightImages    = 0.15
	weightMetadata  = 0.15

	coverageFullTokens = 300
)

// ComputeQuality scores an ExtractedDocument against the DOM it was
// extracted from. It never influences which path is attempted; it only
// decides, on ProbesFirst, whether the WASM result is good enough to
// keep or whether to re-dispatch to Headless.
func ComputeQuality(doc ExtractedDocument, dom DOMSignals) float64 {
	return weightCoverage*coverageTitlePlusText(doc)+
		weightStructure*structurePreserved(doc, dom)+
		weightLinks*linkExtractionOK(doc, dom)+
		weightImages*imageExtractionOK(doc, dom)+
		weightMetadata*metadataRichness(doc)
}

func coverageTitlePlusText(doc ExtractedDocument) float64 {
	if strings.TrimSpace(doc.Text) == "" {
		return 0
	}
	tokens := len(strings.Fields(doc.Text))
	if tokens >= coverageFullTokens {
		return 1
	}
	return float64(tokens) / float64(coverageFullTokens)
}

// structurePreserved walks the extracted markdown's AST (gomarkdown's
// parser, per the spec) and checks that heading nesting and list
// boundaries from the source DOM survived conversion.
func structurePreserved(doc ExtractedDocument, dom DOMSignals) float64 {
	if strings.TrimSpace(doc.Markdown) == "" {
		if !dom.HasHeading && !dom.HasList {
			return 1
		}
		return 0
	}

	p := parser.NewWithExtensions(parser.CommonExtensions)
	root := markdown.Parse([]byte(doc.Markdown), p)

	var hasHeading, hasList bool
	ast.Walk(root, visitFunc(func(node ast.Node, entering bool) ast.WalkStatus {
		if !entering {
			return ast.GoToNext
		}
		switch node.(type) {
		case *ast.Heading:
			hasHeading = true
		case *ast.List:
			hasList = true
		}
		return ast.GoToNext
	}))

	checks, satisfied := 0, 0
	if dom.HasHeading {
		checks++
		if hasHeading {
			satisfied++
		}
	}
	if dom.HasList {
		checks++
		if hasList {
			satisfied++
		}
	}
	if checks == 0 {
		return 1
	}
	return float64(satisfied) / float64(checks)
}

// linkExtractionOK and imageExtractionOK compare extracted counts against
// the DOM's raw counts within a tolerance band, accounting for stripped
// navigation chrome (the extractor is expected to drop some nav links by
// design, so an exact match is not required).
const extractionToleranceBand = 0.3

func linkExtractionOK(doc ExtractedDocument, dom DOMSignals) float64 {
	return countRatio(len(doc.Links), dom.LinkCount)
}

func imageExtractionOK(doc ExtractedDocument, dom DOMSignals) float64 {
	return countRatio(len(doc.Images), dom.ImageCount)
}

func countRatio(extracted, domCount int) float64 {
	if domCount == 0 {
		return 1
	}
	if extracted == 0 {
		return 0
	}
	ratio := float64(extracted) / float64(domCount)
	if ratio > 1 {
		ratio = 1 / ratio
	}
	if ratio >= 1-extractionToleranceBand {
		return 1
	}
	return ratio
}

func metadataRichness(doc ExtractedDocument) float64 {
	present := 0
	const fields = 3
	if strings.TrimSpace(doc.Title) != "" {
		present++
	}
	if strings.TrimSpace(doc.Language) != "" {
		present++
	}
	if strings.TrimSpace(doc.ContentHash) != "" {
		present++
	}
	return float64(present) / float64(fields)
}

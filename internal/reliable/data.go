package reliable

// ExtractedDocument is the parser-agnostic output of a successful
// extraction, independent of which parser (native, WASM) or which
// rendering tier (raw fetch, headless) produced it.
type ExtractedDocument struct {
	Title       string
	Text        string
	Markdown    string
	Links       []string
	Images      []string
	Language    string
	ContentHash string
}

// Parser names a concrete extraction implementation, independent of the
// Path that selected it.
type Parser string

const (
	ParserNative   Parser = "native"
	ParserWASM     Parser = "wasm"
	ParserHeadless Parser = "headless"
)

// ExtractionMetadata records which parser(s) ran and how well the result
// scored, per SPEC_FULL.md §4.4.
type ExtractionMetadata struct {
	ParserUsed     Parser
	FallbackUsed   bool
	PrimaryParser  Parser
	FallbackParser Parser
	Quality        float64
}

// DOMSignals are the cheap, pre-computed facts about the source DOM that
// the quality score compares the extraction against. The reliable
// extractor derives them itself with BuildDOMSignals, which parses the
// HTML body again; the gate's own DOM walk is not reused.
type DOMSignals struct {
	HasHeading   bool // source had any <h1>-<h3>
	HasList      bool // source had any <ul>/<ol>
	LinkCount    int  // raw <a href> count
	ImageCount   int  // raw <img src> count
	TextTokens   int  // rough token count of the raw text content, for reference
}

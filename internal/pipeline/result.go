package pipeline

import "time"

// ResultMetadata is the "metadata" object inside PipelineResult, per
// SPEC_FULL.md §6's exact wire shape.
type ResultMetadata struct {
	URL               string  `json:"url"`
	Title             string  `json:"title,omitempty"`
	Timestamp         string  `json:"timestamp"`
	ExtractionTimeMs  int64   `json:"extraction_time_ms"`
	QualityScore      float64 `json:"quality_score"`
	ConfidenceScore   float64 `json:"confidence_score"`
	WordCount         int     `json:"word_count"`
	ParserUsed        string  `json:"parser_used"`
	ParserPath        string  `json:"parser_path"`
	FallbackUsed      bool    `json:"fallback_used"`
	PrimaryParser     string  `json:"primary_parser,omitempty"`
	FallbackParser    string  `json:"fallback_parser,omitempty"`
	Links             []string `json:"links"`
	Images            []string `json:"images"`
	ContentHash       string  `json:"content_hash"`
}

// PipelineResult is the successful Execute response shape.
type PipelineResult struct {
	Text     string         `json:"text"`
	HTML     string         `json:"html,omitempty"`
	Metadata ResultMetadata `json:"metadata"`
}

// ErrorMetadata is the reduced metadata object the error response shape
// carries: enough to diagnose which path failed without the fields that
// only make sense for a successful extraction.
type ErrorMetadata struct {
	URL              string `json:"url"`
	ParserPath       string `json:"parser_path,omitempty"`
	FallbackUsed     bool   `json:"fallback_used"`
	ExtractionTimeMs int64  `json:"extraction_time_ms"`
}

// ErrorResponse is the JSON shape Execute's caller sees on failure, per
// SPEC_FULL.md §6.
type ErrorResponse struct {
	Error    string        `json:"error"`
	Message  string        `json:"message"`
	Metadata ErrorMetadata `json:"metadata"`
}

// NewErrorResponse builds the standard error envelope. parserPath may
// be empty if the failure happened before gate classification.
func NewErrorResponse(url, message, parserPath string, fallbackUsed bool, elapsed time.Duration) ErrorResponse {
	return ErrorResponse{
		Error:   "Extraction failed",
		Message: message,
		Metadata: ErrorMetadata{
			URL:              url,
			ParserPath:       parserPath,
			FallbackUsed:     fallbackUsed,
			ExtractionTimeMs: elapsed.Milliseconds(),
		},
	}
}

package metadata

import (
	"time"

	"github.com/rs/zerolog"
)

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

// MetadataSink is the write side every component depends on to report what
// happened, never to decide what happens next. A component that asks a
// MetadataSink for anything back besides acknowledgement is misusing it.
type MetadataSink interface {
	RecordFetch(fetchURL string, statusCode int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordAssetFetch(fetchURL string, statusCode int, duration time.Duration, retryCount int)
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errString string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
}

// CrawlFinalizer records the terminal, derived summary of a completed run.
// It is called exactly once, after the run has already decided to stop; the
// numbers it records must never feed back into that decision.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration)
}

// Recorder is the concrete MetadataSink/CrawlFinalizer backed by a
// structured zerolog.Logger. Every field logged is a primitive value per
// the rules above; nothing here carries behavior.
type Recorder struct {
	log zerolog.Logger
}

var (
	_ MetadataSink   = (*Recorder)(nil)
	_ CrawlFinalizer = (*Recorder)(nil)
)

// NewRecorder builds a Recorder that writes structured events through the
// given logger.
func NewRecorder(log zerolog.Logger) *Recorder {
	return &Recorder{log: log}
}

func (r *Recorder) RecordFetch(fetchURL string, statusCode int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.log.Info().
		Str("url", fetchURL).
		Int("status", statusCode).
		Dur("duration", duration).
		Str("content_type", contentType).
		Int("retry_count", retryCount).
		Int("depth", crawlDepth).
		Msg("fetch")
}

func (r *Recorder) RecordAssetFetch(fetchURL string, statusCode int, duration time.Duration, retryCount int) {
	r.log.Info().
		Str("url", fetchURL).
		Int("status", statusCode).
		Dur("duration", duration).
		Int("retry_count", retryCount).
		Msg("asset_fetch")
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errString string, attrs []Attribute) {
	event := r.log.Warn().
		Time("observed_at", observedAt).
		Str("package", packageName).
		Str("action", action).
		Str("cause", cause.String()).
		Str("error", errString)

	for _, a := range attrs {
		event = event.Str(string(a.Key), a.Value)
	}
	event.Msg("error")
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	event := r.log.Info().
		Str("kind", string(kind)).
		Str("path", path)

	for _, a := range attrs {
		event = event.Str(string(a.Key), a.Value)
	}
	event.Msg("artifact")
}

func (r *Recorder) RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration) {
	r.log.Info().
		Int("total_pages", totalPages).
		Int("total_errors", totalErrors).
		Int("total_assets", totalAssets).
		Dur("duration", duration).
		Msg("run completed")
}

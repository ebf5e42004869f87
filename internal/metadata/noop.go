package metadata

import "time"

// NoopSink discards every call. Tests that only care about the
// happy path embed it and override the one method they need to assert
// on, instead of hand-rolling every MetadataSink method.
type NoopSink struct{}

var (
	_ MetadataSink   = (*NoopSink)(nil)
	_ CrawlFinalizer = (*NoopSink)(nil)
)

func (NoopSink) RecordFetch(fetchURL string, statusCode int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
}

func (NoopSink) RecordAssetFetch(fetchURL string, statusCode int, duration time.Duration, retryCount int) {
}

func (NoopSink) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errString string, attrs []Attribute) {
}

func (NoopSink) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {}

func (NoopSink) RecordFinalCrawlStats(totalPages, totalErrors, totalAssets int, duration time.Duration) {
}

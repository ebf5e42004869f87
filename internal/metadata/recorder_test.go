package metadata_test

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_RecordFetch(t *testing.T) {
	var buf bytes.Buffer
	recorder := metadata.NewRecorder(zerolog.New(&buf))

	recorder.RecordFetch("https://example.com", 200, 12*time.Millisecond, "text/html", 0, 0)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "https://example.com", line["url"])
	assert.EqualValues(t, 200, line["status"])
}

func TestRecorder_RecordErrorIncludesAttrs(t *testing.T) {
	var buf bytes.Buffer
	recorder := metadata.NewRecorder(zerolog.New(&buf))

	recorder.RecordError(time.Now(), "fetcher", "Fetch", metadata.CauseNetworkFailure, "dial tcp: timeout",
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, "https://example.com")})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "network_failure", line["cause"])
	assert.Equal(t, "https://example.com", line["url"])
}

func TestRecorder_RecordAssetFetch(t *testing.T) {
	var buf bytes.Buffer
	recorder := metadata.NewRecorder(zerolog.New(&buf))

	recorder.RecordAssetFetch("https://example.com/logo.png", 200, 5*time.Millisecond, 0)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "https://example.com/logo.png", line["url"])
	assert.EqualValues(t, 200, line["status"])
}

func TestRecorder_RecordArtifact(t *testing.T) {
	var buf bytes.Buffer
	recorder := metadata.NewRecorder(zerolog.New(&buf))

	recorder.RecordArtifact(metadata.ArtifactCacheEntry, "/cache/abc.json", nil)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cache_entry", line["kind"])
	assert.Equal(t, "/cache/abc.json", line["path"])
}

func TestRecorder_RecordFinalCrawlStats(t *testing.T) {
	var buf bytes.Buffer
	recorder := metadata.NewRecorder(zerolog.New(&buf))

	recorder.RecordFinalCrawlStats(10, 1, 3, 2*time.Second)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.EqualValues(t, 10, line["total_pages"])
	assert.EqualValues(t, 1, line["total_errors"])
}

func TestErrorCause_String(t *testing.T) {
	assert.Equal(t, "network_failure", metadata.CauseNetworkFailure.String())
	assert.Equal(t, "unknown", metadata.CauseUnknown.String())
	assert.Equal(t, "retry_failure", metadata.CauseRetryFailure.String())
}

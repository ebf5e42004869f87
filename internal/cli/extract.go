package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kestrelsoft/hxpipe/internal/cache"
	"github.com/kestrelsoft/hxpipe/internal/eventbus"
	"github.com/kestrelsoft/hxpipe/internal/extractor"
	"github.com/kestrelsoft/hxpipe/internal/fetcher"
	"github.com/kestrelsoft/hxpipe/internal/gate"
	"github.com/kestrelsoft/hxpipe/internal/headless"
	"github.com/kestrelsoft/hxpipe/internal/mdconvert"
	"github.com/kestrelsoft/hxpipe/internal/metadata"
	"github.com/kestrelsoft/hxpipe/internal/pipeline"
	"github.com/kestrelsoft/hxpipe/internal/reliability/breaker"
	"github.com/kestrelsoft/hxpipe/internal/reliable"
	"github.com/kestrelsoft/hxpipe/internal/sanitizer"
	"github.com/kestrelsoft/hxpipe/internal/wasmpool"
	"github.com/kestrelsoft/hxpipe/pkg/retry"
	"github.com/kestrelsoft/hxpipe/pkg/timeutil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	extractURLs       []string
	extractBatch      bool
	extractCacheDir   string
	extractConcurrent int
)

// extractCmd runs the SPEC_FULL.md §4.1 pipeline directly: fetch, gate,
// extract through the reliable fallback chain, and print the resulting
// PipelineResult (or ErrorResponse) as JSON. It does no link discovery;
// it runs exactly the URLs given.
var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Run a single-page or batch extraction through the reliable pipeline",
	Run: func(cmd *cobra.Command, args []string) {
		if len(extractURLs) == 0 {
			fmt.Fprintln(os.Stderr, "Error: --url is required (repeat for a batch)")
			cmd.Usage()
			os.Exit(1)
		}

		orch, closePool := buildOrchestrator(extractCacheDir, extractConcurrent)
		defer closePool()

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if extractBatch || len(extractURLs) > 1 {
			results := orch.ExecuteBatch(context.Background(), extractURLs, pipeline.DefaultExtractionOptions())
			for _, r := range results {
				if r.Err != nil {
					_ = enc.Encode(pipeline.NewErrorResponse(r.URL, r.Err.Error(), "", false, 0))
					continue
				}
				_ = enc.Encode(r.Result)
			}
			return
		}

		result, err := orch.Execute(context.Background(), extractURLs[0], pipeline.DefaultExtractionOptions())
		if err != nil {
			_ = enc.Encode(pipeline.NewErrorResponse(extractURLs[0], err.Error(), "", false, 0))
			os.Exit(1)
		}
		_ = enc.Encode(result)
	},
}

func init() {
	extractCmd.Flags().StringArrayVar(&extractURLs, "url", nil, "a URL to extract (repeat for a batch)")
	extractCmd.Flags().BoolVar(&extractBatch, "batch", false, "force batch mode even for a single --url")
	extractCmd.Flags().StringVar(&extractCacheDir, "cache-dir", "", "spill directory for the extraction cache (empty disables disk spillover)")
	extractCmd.Flags().IntVar(&extractConcurrent, "batch-concurrency", 0, "bounded concurrency for --batch (0 uses the pipeline default)")
	rootCmd.AddCommand(extractCmd)
}

// buildOrchestrator wires every real collaborator the teacher repo
// already provides: the HTML fetcher, the gate, and a full reliable
// fallback chain backed by a sandboxed WASM pool, a go-rod headless
// adapter, and the shared circuit breaker registry. The returned func
// releases the headless browser's resources.
func buildOrchestrator(cacheDir string, batchConcurrency int) (*pipeline.Orchestrator, func()) {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	sink := metadata.NewRecorder(logger)
	bus := eventbus.NewBus(256)

	htmlFetcher := fetcher.NewHtmlFetcher(sink)

	breakers := breaker.NewRegistry(breaker.DefaultParams(), sink)

	nativeExtractor := extractor.NewDomExtractor(sink)
	pool := wasmpool.New(wasmpool.Params{
		MaxPoolSize:            4,
		HotCapacity:            2,
		WarmCapacity:           2,
		ColdMinimum:            0,
		MaxInstanceMemoryBytes: 64 * 1024 * 1024,
		FuelBudget:             50_000_000,
	}, func() wasmpool.Capability {
		return reliable.NewWASMCapability(&nativeExtractor)
	})

	closeFn := func() {}
	renderClient := headless.RenderClient(unavailableRenderClient{})
	if rc, err := headless.NewRodClient(2); err == nil {
		renderClient = rc
		closeFn = func() { _ = rc.Close() }
	}
	headlessAdapter := headless.NewAdapter(renderClient, 10, breakers, sink)

	reliableExtractor := reliable.NewReliableExtractor(reliable.Deps{
		MetadataSink: sink,
		Bus:          bus,
		Breakers:     breakers,
		Pool:         pool,
		Native:       &nativeExtractor,
		Headless:     headlessAdapter,
		Sanitizer:    sanitizer.NewHTMLSanitizer(sink),
		ConvertRule:  mdconvert.NewRule(sink),
		RetryParam:   retry.NewRetryParam(500*time.Millisecond, 250*time.Millisecond, 1, 3, timeutil.NewBackoffParam(500*time.Millisecond, 2.0, 10*time.Second)),
	})

	params := cache.DefaultParams()
	params.DiskDir = cacheDir
	c := cache.New(params)

	deps := pipeline.Deps{
		MetadataSink: sink,
		Bus:          bus,
		Cache:        c,
		Fetcher:      &htmlFetcher,
		Gate:         gate.New(nil),
		Reliable:     reliableExtractor,
		RetryParam:   retry.NewRetryParam(200*time.Millisecond, 250*time.Millisecond, 1, 3, timeutil.NewBackoffParam(200*time.Millisecond, 1.5, 2*time.Second)),
		UserAgent:    "hxpipe/1 (+https://github.com/kestrelsoft/hxpipe)",
	}
	if batchConcurrency > 0 {
		deps.BatchConcurrency = batchConcurrency
	}

	return pipeline.NewOrchestrator(deps), closeFn
}

// unavailableRenderClient is the Headless path's RenderClient when no
// browser could be started (no Chrome binary on the host, say). It lets
// the reliable extractor treat "headless unreachable" as an ordinary
// classified failure instead of wiring a nil RenderClient into the
// adapter and panicking on first Render call.
type unavailableRenderClient struct{}

func (unavailableRenderClient) Render(ctx context.Context, targetURL string, options headless.RenderOptions) (headless.RenderedResponse, error) {
	return headless.RenderedResponse{}, errHeadlessUnavailable
}

func (unavailableRenderClient) Close() error { return nil }

var errHeadlessUnavailable = fmt.Errorf("headless rendering unavailable: no browser could be started")

// Package observe provides application-wide observability primitives for
// EchoScribe: OpenTelemetry metrics, tracing helpers, and HTTP middleware.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported via
// a Prometheus bridge (see [InitProvider]) so they remain scrapeable from the
// standard /metrics endpoint. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a private [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all EchoScribe metrics.
const meterName = "github.com/MrWong99/echoscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks end-to-end pipeline latency per asset.
	TranscriptionDuration metric.Float64Histogram

	// ChunkTranscriptionDuration tracks single provider-call latency.
	ChunkTranscriptionDuration metric.Float64Histogram

	// LLMDuration tracks answer-generation latency.
	LLMDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// TranscriptionsCompleted counts finished pipelines. Use with attribute:
	//   attribute.String("status", "completed"|"failed")
	TranscriptionsCompleted metric.Int64Counter

	// ChunksSkipped counts chunks dropped after exhausting their retries.
	ChunksSkipped metric.Int64Counter

	// RetrievalSearches counts retrieval engine calls. Use with attribute:
	//   attribute.String("strategy", "semantic"|"ephemeral"|"keyword")
	RetrievalSearches metric.Int64Counter

	// BackgroundTaskFailures counts failed fire-and-forget tasks. Use with
	// attribute: attribute.String("task", ...)
	BackgroundTaskFailures metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveTranscriptions tracks pipelines currently running.
	ActiveTranscriptions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets are generous because a 25 MB Whisper call can take minutes.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TranscriptionDuration, err = m.Float64Histogram("echoscribe.transcription.duration",
		metric.WithDescription("End-to-end transcription pipeline latency per asset."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChunkTranscriptionDuration, err = m.Float64Histogram("echoscribe.transcription.chunk.duration",
		metric.WithDescription("Latency of a single speech-to-text provider call."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("echoscribe.llm.duration",
		metric.WithDescription("Latency of LLM answer generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("echoscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if met.TranscriptionsCompleted, err = m.Int64Counter("echoscribe.transcriptions.completed",
		metric.WithDescription("Finished transcription pipelines by status."),
	); err != nil {
		return nil, err
	}
	if met.ChunksSkipped, err = m.Int64Counter("echoscribe.transcription.chunks.skipped",
		metric.WithDescription("Chunks dropped after exhausting their retry budget."),
	); err != nil {
		return nil, err
	}
	if met.RetrievalSearches, err = m.Int64Counter("echoscribe.retrieval.searches",
		metric.WithDescription("Retrieval engine searches by strategy."),
	); err != nil {
		return nil, err
	}
	if met.BackgroundTaskFailures, err = m.Int64Counter("echoscribe.tasks.failures",
		metric.WithDescription("Failed fire-and-forget background tasks by task name."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("echoscribe.provider.errors",
		metric.WithDescription("Provider errors by provider and error kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveTranscriptions, err = m.Int64UpDownCounter("echoscribe.transcriptions.active",
		metric.WithDescription("Transcription pipelines currently running."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

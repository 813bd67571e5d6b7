// Package observe provides application-wide observability primitives for
// the Loqui gateway: OpenTelemetry metrics, distributed tracing, structured
// logging, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Loqui metrics.
const meterName = "github.com/loqui-ai/loqui"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Histograms ---

	// SessionDuration tracks wall-clock length of voice sessions.
	SessionDuration metric.Float64Histogram

	// ConnectDuration tracks provider dial latency.
	ConnectDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// AudioChunksIn counts mic audio chunks forwarded to the provider.
	AudioChunksIn metric.Int64Counter

	// AudioChunksOut counts provider audio chunks scheduled for playback.
	AudioChunksOut metric.Int64Counter

	// TranscriptItems counts transcript items by source. Use with attribute:
	//   attribute.String("source", "user"|"assistant")
	TranscriptItems metric.Int64Counter

	// PlaybackFlushes counts barge-in playback flushes.
	PlaybackFlushes metric.Int64Counter

	// QuotaLockouts counts demo-limit lockouts.
	QuotaLockouts metric.Int64Counter

	// --- Error counters ---

	// DecodeErrors counts audio chunks dropped for being undecodable.
	DecodeErrors metric.Int64Counter

	// SendErrors counts failed media sends to the provider.
	SendErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveClients tracks the number of connected gateway clients.
	ActiveClients metric.Int64UpDownCounter
}

// sessionBuckets defines histogram bucket boundaries (in seconds) sized for
// conversation lengths.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800,
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for dial
// and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionDuration, err = m.Float64Histogram("loqui.session.duration",
		metric.WithDescription("Wall-clock length of voice sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("loqui.connect.duration",
		metric.WithDescription("Provider dial latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("loqui.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AudioChunksIn, err = m.Int64Counter("loqui.audio.chunks_in",
		metric.WithDescription("Mic audio chunks forwarded to the provider."),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksOut, err = m.Int64Counter("loqui.audio.chunks_out",
		metric.WithDescription("Provider audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptItems, err = m.Int64Counter("loqui.transcript.items",
		metric.WithDescription("Transcript items created by source."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackFlushes, err = m.Int64Counter("loqui.playback.flushes",
		metric.WithDescription("Playback flushes triggered by barge-in."),
	); err != nil {
		return nil, err
	}
	if met.QuotaLockouts, err = m.Int64Counter("loqui.quota.lockouts",
		metric.WithDescription("Demo-limit lockouts."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.DecodeErrors, err = m.Int64Counter("loqui.audio.decode_errors",
		metric.WithDescription("Audio chunks dropped for being undecodable."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("loqui.audio.send_errors",
		metric.WithDescription("Failed media sends to the provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("loqui.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveClients, err = m.Int64UpDownCounter("loqui.active_clients",
		metric.WithDescription("Number of connected gateway clients."),
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
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordTranscriptItem records one transcript item creation.
func (m *Metrics) RecordTranscriptItem(ctx context.Context, source string) {
	m.TranscriptItems.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

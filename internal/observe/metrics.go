// Package observe provides application-wide observability primitives:
// OpenTelemetry metrics, tracing, structured logging, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitTelemetry] so that metrics can still be
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/aquilesboica/ia-teacher"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// CaptureBlocks counts audio blocks sent upstream. Use with attribute:
	//   attribute.String("status", "ok"|"dropped")
	CaptureBlocks metric.Int64Counter

	// PlaybackChunks counts audio chunks placed on the playback timeline.
	PlaybackChunks metric.Int64Counter

	// Interruptions counts model replies cut off by the user.
	Interruptions metric.Int64Counter

	// Turns counts completed conversational turns.
	Turns metric.Int64Counter

	// TransportErrors counts live session transport failures. Use with
	// attribute: attribute.String("provider", ...)
	TransportErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live tutoring sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Histograms ---

	// ConnectDuration tracks live session establishment latency.
	ConnectDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive-voice latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.CaptureBlocks, err = m.Int64Counter("ia_teacher.capture.blocks",
		metric.WithDescription("Total microphone blocks sent upstream, by status."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackChunks, err = m.Int64Counter("ia_teacher.playback.chunks",
		metric.WithDescription("Total audio chunks placed on the playback timeline."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("ia_teacher.interruptions",
		metric.WithDescription("Total model replies interrupted by the user."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("ia_teacher.turns",
		metric.WithDescription("Total completed conversational turns."),
	); err != nil {
		return nil, err
	}
	if met.TransportErrors, err = m.Int64Counter("ia_teacher.transport.errors",
		metric.WithDescription("Total live session transport failures by provider."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("ia_teacher.active_sessions",
		metric.WithDescription("Number of live tutoring sessions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("ia_teacher.connect.duration",
		metric.WithDescription("Latency of live session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("ia_teacher.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// RecordCaptureBlock records one upstream audio block with its send status.
func (m *Metrics) RecordCaptureBlock(ctx context.Context, status string) {
	m.CaptureBlocks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTransportError records one live session transport failure.
func (m *Metrics) RecordTransportError(ctx context.Context, provider string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

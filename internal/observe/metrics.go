// Package observe provides application-wide observability primitives for the
// gateway: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all gateway metrics.
const meterName = "github.com/MrWong99/ttsgateway"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// SpeechDuration tracks end-to-end synthesis latency per backend. Use with
	// attribute.String("backend", ...).
	SpeechDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// BackendRequests counts outbound backend operations. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("op", ...), attribute.String("status", ...)
	BackendRequests metric.Int64Counter

	// BackendErrors counts failed backend calls. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("kind", ...)
	BackendErrors metric.Int64Counter

	// RateLimitRejections counts requests rejected with 429.
	RateLimitRejections metric.Int64Counter

	// VoiceUploads counts successful voice uploads. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("visibility", ...)
	VoiceUploads metric.Int64Counter

	// CircuitTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("backend", ...), attribute.String("state", ...)
	CircuitTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSyntheses tracks the number of in-flight speech requests.
	ActiveSyntheses metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Synthesis
// on a busy GPU regularly takes tens of seconds.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SpeechDuration, err = m.Float64Histogram("ttsgateway.speech.duration",
		metric.WithDescription("Latency of speech synthesis by backend."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("ttsgateway.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.BackendRequests, err = m.Int64Counter("ttsgateway.backend.requests",
		metric.WithDescription("Total backend operations by backend, operation, and status."),
	); err != nil {
		return nil, err
	}
	if met.BackendErrors, err = m.Int64Counter("ttsgateway.backend.errors",
		metric.WithDescription("Total backend errors by backend and kind."),
	); err != nil {
		return nil, err
	}
	if met.RateLimitRejections, err = m.Int64Counter("ttsgateway.ratelimit.rejections",
		metric.WithDescription("Total requests rejected by the rate limiter."),
	); err != nil {
		return nil, err
	}
	if met.VoiceUploads, err = m.Int64Counter("ttsgateway.voices.uploads",
		metric.WithDescription("Total successful voice uploads by backend and visibility."),
	); err != nil {
		return nil, err
	}
	if met.CircuitTransitions, err = m.Int64Counter("ttsgateway.circuit.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and new state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSyntheses, err = m.Int64UpDownCounter("ttsgateway.speech.active",
		metric.WithDescription("Number of in-flight speech requests."),
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

// RecordBackendRequest records a backend operation with the standard
// attribute set.
func (m *Metrics) RecordBackendRequest(ctx context.Context, backend, op, status string) {
	m.BackendRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("op", op),
			attribute.String("status", status),
		),
	)
}

// RecordBackendError records a backend error counter increment.
func (m *Metrics) RecordBackendError(ctx context.Context, backend, kind string) {
	m.BackendErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}

// RecordSpeech records the latency of one synthesis call.
func (m *Metrics) RecordSpeech(ctx context.Context, backend string, seconds float64) {
	m.SpeechDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}

// RecordRateLimitRejection records one rejected request.
func (m *Metrics) RecordRateLimitRejection(ctx context.Context) {
	m.RateLimitRejections.Add(ctx, 1)
}

// RecordVoiceUpload records a successful voice upload.
func (m *Metrics) RecordVoiceUpload(ctx context.Context, backend, visibility string) {
	m.VoiceUploads.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("visibility", visibility),
		),
	)
}

// RecordCircuitTransition records a circuit breaker entering state.
func (m *Metrics) RecordCircuitTransition(ctx context.Context, backend, state string) {
	m.CircuitTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("state", state),
		),
	)
}

// Package observe provides application-wide observability primitives for
// Nihara: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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

// meterName is the instrumentation scope name used for all Nihara metrics.
const meterName = "github.com/MrWong99/nihara"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Session lifecycle ---

	// SessionStarts counts Start attempts. Use with attribute:
	//   attribute.String("outcome", "ok"|"device_unavailable"|"transport_error")
	SessionStarts metric.Int64Counter

	// SessionDuration tracks how long live sessions stay open.
	SessionDuration metric.Float64Histogram

	// SetupDuration tracks the time from dial to the service's ready signal.
	SetupDuration metric.Float64Histogram

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- Audio path ---

	// FramesSent counts microphone frames written to the transport.
	FramesSent metric.Int64Counter

	// FramesDropped counts microphone frames that never reached the transport.
	// Use with attribute: attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// DecodeAnomalies counts inbound audio fragments rejected by the decoder.
	DecodeAnomalies metric.Int64Counter

	// BuffersScheduled counts playback buffers handed to the output device.
	BuffersScheduled metric.Int64Counter

	// Interruptions counts playback interruptions. Use with attribute:
	//   attribute.String("reason", ...)
	Interruptions metric.Int64Counter

	// --- Conversation ---

	// ToolCalls counts voice command invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// ToolCallDuration tracks dispatch latency of voice commands.
	ToolCallDuration metric.Float64Histogram

	// TurnsFlushed counts completed turns written to history.
	TurnsFlushed metric.Int64Counter

	// --- Errors ---

	// TransportErrors counts connection-level failures. Use with attribute:
	//   attribute.String("op", ...)
	TransportErrors metric.Int64Counter

	// HistoryWriteFailures counts chat history writes that failed or were
	// rejected by the circuit breaker.
	HistoryWriteFailures metric.Int64Counter

	// --- HTTP / UI ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// UIClients tracks the number of connected browser clients.
	UIClients metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers conversation lengths from seconds to an hour.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Session lifecycle.
	if met.SessionStarts, err = m.Int64Counter("nihara.session.starts",
		metric.WithDescription("Total live session start attempts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("nihara.session.duration",
		metric.WithDescription("Duration of live sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SetupDuration, err = m.Float64Histogram("nihara.session.setup.duration",
		metric.WithDescription("Latency from dial to the service accepting the session setup."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("nihara.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// Audio path.
	if met.FramesSent, err = m.Int64Counter("nihara.audio.frames_sent",
		metric.WithDescription("Total microphone frames sent to the live service."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("nihara.audio.frames_dropped",
		metric.WithDescription("Total microphone frames dropped before sending, by reason."),
	); err != nil {
		return nil, err
	}
	if met.DecodeAnomalies, err = m.Int64Counter("nihara.audio.decode_anomalies",
		metric.WithDescription("Total inbound audio fragments rejected by the decoder."),
	); err != nil {
		return nil, err
	}
	if met.BuffersScheduled, err = m.Int64Counter("nihara.audio.buffers_scheduled",
		metric.WithDescription("Total playback buffers scheduled on the output device."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("nihara.audio.interruptions",
		metric.WithDescription("Total playback interruptions by reason."),
	); err != nil {
		return nil, err
	}

	// Conversation.
	if met.ToolCalls, err = m.Int64Counter("nihara.tool.calls",
		metric.WithDescription("Total voice command invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.ToolCallDuration, err = m.Float64Histogram("nihara.tool.duration",
		metric.WithDescription("Latency of voice command dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnsFlushed, err = m.Int64Counter("nihara.turns.flushed",
		metric.WithDescription("Total completed conversation turns flushed to history."),
	); err != nil {
		return nil, err
	}

	// Errors.
	if met.TransportErrors, err = m.Int64Counter("nihara.transport.errors",
		metric.WithDescription("Total live transport errors by failed operation."),
	); err != nil {
		return nil, err
	}
	if met.HistoryWriteFailures, err = m.Int64Counter("nihara.history.write_failures",
		metric.WithDescription("Total chat history writes that failed or were rejected."),
	); err != nil {
		return nil, err
	}

	// HTTP / UI.
	if met.HTTPRequestDuration, err = m.Float64Histogram("nihara.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.UIClients, err = m.Int64UpDownCounter("nihara.ui.clients",
		metric.WithDescription("Number of connected browser clients."),
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

// RecordSessionStart records a session start attempt with its outcome.
func (m *Metrics) RecordSessionStart(ctx context.Context, outcome string) {
	m.SessionStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordToolCall is a convenience method that records a tool call counter
// increment with the standard attribute set.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordFrameDropped records one dropped microphone frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordInterruption records one playback interruption.
func (m *Metrics) RecordInterruption(ctx context.Context, reason string) {
	m.Interruptions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordTransportError records a live transport failure for op.
func (m *Metrics) RecordTransportError(ctx context.Context, op string) {
	m.TransportErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

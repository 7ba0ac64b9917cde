// Package observe provides the observability primitives shared by the hark
// pipeline: OpenTelemetry metrics, tracing helpers, trace-aware logging, and
// HTTP middleware for the status server.
//
// Metrics go through the OpenTelemetry Metrics API and are scraped from the
// Prometheus exporter set up by [InitProvider]. Components receive a
// [*Metrics] explicitly; [DefaultMetrics] exists for wiring code that has no
// better place to get one. Tests should call [NewMetrics] with their own
// [metric.MeterProvider].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/hark"

// Metrics holds every instrument the pipeline records to. The OTel types
// synchronise internally, so a *Metrics is safe for concurrent use.
type Metrics struct {
	// WakeEvents counts wake phrase detections by "phrase".
	WakeEvents metric.Int64Counter

	// RecognitionDuration tracks each recognizer attempt by "engine" and
	// "outcome" (accepted, low_confidence, empty, timeout, unavailable).
	RecognitionDuration metric.Float64Histogram

	// DispatchCount counts skill dispatches by "intent" and "outcome".
	DispatchCount metric.Int64Counter

	// PipelineTransitions counts state machine transitions by "from" and "to".
	PipelineTransitions metric.Int64Counter

	// FramesDropped counts audio frames discarded on queue overflow.
	FramesDropped metric.Int64Counter

	// ProviderRequests counts backend calls by "provider", "kind", "status".
	ProviderRequests metric.Int64Counter

	// SessionDuration tracks wake-to-idle time per command cycle by "outcome".
	SessionDuration metric.Float64Histogram

	// BreakerTransitions counts circuit breaker state changes by "name" and "to".
	BreakerTransitions metric.Int64Counter

	// HTTPRequestDuration tracks status server requests by "route" and
	// "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning a fast local
// recognizer up to a full command cycle with a slow skill.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// ---- counters ----
	if met.WakeEvents, err = m.Int64Counter("hark.wake.events",
		metric.WithDescription("Wake phrase detections by phrase."),
	); err != nil {
		return nil, err
	}
	if met.DispatchCount, err = m.Int64Counter("hark.dispatch.count",
		metric.WithDescription("Skill dispatches by intent and outcome."),
	); err != nil {
		return nil, err
	}
	if met.PipelineTransitions, err = m.Int64Counter("hark.pipeline.transitions",
		metric.WithDescription("Pipeline state transitions."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("hark.audio.frames.dropped",
		metric.WithDescription("Audio frames dropped because the frame queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("hark.provider.requests",
		metric.WithDescription("Backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("hark.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes."),
	); err != nil {
		return nil, err
	}

	// ---- histograms ----
	if met.RecognitionDuration, err = m.Float64Histogram("hark.recognition.duration",
		metric.WithDescription("Latency of a single recognizer attempt."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("hark.session.duration",
		metric.WithDescription("Time from wake event to return to idle."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("hark.http.request.duration",
		metric.WithDescription("Status server request latency."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on
// [otel.GetMeterProvider]. It panics if instrument creation fails, which the
// global provider never does.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordWake counts one wake event.
func (m *Metrics) RecordWake(ctx context.Context, phrase string) {
	m.WakeEvents.Add(ctx, 1, metric.WithAttributes(Attr("phrase", phrase)))
}

// RecordRecognition records one recognizer attempt.
func (m *Metrics) RecordRecognition(ctx context.Context, engine, outcome string, d time.Duration) {
	m.RecognitionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(Attr("engine", engine), Attr("outcome", outcome)))
}

// RecordDispatch counts one dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, intent, outcome string) {
	m.DispatchCount.Add(ctx, 1,
		metric.WithAttributes(Attr("intent", intent), Attr("outcome", outcome)))
}

// RecordTransition counts one state change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.PipelineTransitions.Add(ctx, 1,
		metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordFrameDropped counts one dropped frame.
func (m *Metrics) RecordFrameDropped(ctx context.Context) {
	m.FramesDropped.Add(ctx, 1)
}

// RecordProviderRequest counts one backend call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind), Attr("status", status)))
}

// RecordSession records the duration of one finished command cycle.
func (m *Metrics) RecordSession(ctx context.Context, outcome string, d time.Duration) {
	m.SessionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordBreakerTransition counts one circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(Attr("name", name), Attr("to", to)))
}

package observe

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const serviceName = "hark"

// ProviderConfig describes the running hark instance to the telemetry SDK.
type ProviderConfig struct {
	// Version is reported as service.version.
	Version string

	// WakePhrases, Recognizers and AudioSource end up as hark.* resource
	// attributes so dashboards can tell deployments apart.
	WakePhrases []string
	Recognizers []string
	AudioSource string

	// TraceExporter receives finished spans. When nil, spans still feed the
	// stage recorder but are not exported.
	TraceExporter sdktrace.SpanExporter

	// MetricReader replaces the Prometheus exporter. Tests pass a
	// [sdkmetric.ManualReader].
	MetricReader sdkmetric.Reader
}

// Resource builds the telemetry resource for cfg.
func Resource(cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(cfg.Version),
		attribute.StringSlice("hark.wake.phrases", cfg.WakePhrases),
		attribute.StringSlice("hark.recognition.order", cfg.Recognizers),
	}
	if cfg.AudioSource != "" {
		attrs = append(attrs, attribute.String("hark.audio.source", cfg.AudioSource))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// InitProvider installs the global meter and tracer providers. Metrics go to
// the Prometheus bridge (served by promhttp at /metrics) unless
// cfg.MetricReader is set. Every tracer provider carries a stage recorder, so
// the spans opened by [StartStage] become hark.pipeline.stage.duration
// samples even without a trace exporter.
//
// The returned shutdown function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}

	reader := cfg.MetricReader
	if reader == nil {
		if reader, err = promexporter.New(); err != nil {
			return nil, err
		}
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	stages, err := NewStageRecorder(mp)
	if err != nil {
		return nil, errors.Join(err, mp.Shutdown(ctx))
	}
	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(stages),
	}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	// Traces first: ending the tracer provider flushes the stage recorder
	// into mp before mp shuts down.
	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// stageRecorder records the duration of every ended pipeline stage span.
type stageRecorder struct {
	duration metric.Float64Histogram
}

var _ sdktrace.SpanProcessor = (*stageRecorder)(nil)

// NewStageRecorder returns a span processor that records
// hark.pipeline.stage.duration on mp, labelled by "stage" and "outcome"
// ("ok" or "error", see [Fail]). Spans not opened by [StartStage] are ignored.
func NewStageRecorder(mp metric.MeterProvider) (sdktrace.SpanProcessor, error) {
	h, err := mp.Meter(meterName).Float64Histogram("hark.pipeline.stage.duration",
		metric.WithDescription("Duration of each command cycle stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return nil, err
	}
	return &stageRecorder{duration: h}, nil
}

func (r *stageRecorder) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (r *stageRecorder) OnEnd(s sdktrace.ReadOnlySpan) {
	stage, ok := strings.CutPrefix(s.Name(), stagePrefix)
	if !ok {
		return
	}
	outcome := "ok"
	if s.Status().Code == codes.Error {
		outcome = "error"
	}
	r.duration.Record(context.Background(), s.EndTime().Sub(s.StartTime()).Seconds(),
		metric.WithAttributes(Attr("stage", stage), Attr("outcome", outcome)))
}

func (r *stageRecorder) Shutdown(context.Context) error   { return nil }
func (r *stageRecorder) ForceFlush(context.Context) error { return nil }

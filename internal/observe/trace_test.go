package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func useGlobalTracer(t *testing.T, tp *sdktrace.TracerProvider) {
	t.Helper()
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("correlation ID %q, want 32 hex chars", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID %q is not lowercase hex", cid)
	}
}

func TestStartStage(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	useGlobalTracer(t, tp)

	ctx, span := StartStage(context.Background(), StageTranscribe, "sess-1")
	if CorrelationID(ctx) == "" {
		t.Error("StartStage did not create a span with a trace ID")
	}
	if got := SessionID(ctx); got != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got)
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	if spans[0].Name != "pipeline.transcribe" {
		t.Errorf("span name = %q", spans[0].Name)
	}
	var found bool
	for _, kv := range spans[0].Attributes {
		if kv.Key == SessionIDKey && kv.Value.AsString() == "sess-1" {
			found = true
		}
	}
	if !found {
		t.Errorf("%s attribute missing: %v", SessionIDKey, spans[0].Attributes)
	}
}

func TestFail(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	_, span := tp.Tracer("test").Start(context.Background(), "pipeline.dispatch")
	Fail(span, errors.New("skill exploded"))
	span.End()

	s := exp.GetSpans()[0]
	if s.Status.Code != codes.Error || s.Status.Description != "skill exploded" {
		t.Errorf("status = %+v, want error with description", s.Status)
	}
	if len(s.Events) != 1 || s.Events[0].Name != "exception" {
		t.Errorf("events = %v, want one exception event", s.Events)
	}
}

func TestWithSession_Empty(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	if WithSession(ctx, "") != ctx {
		t.Error("WithSession with empty ID should return ctx unchanged")
	}
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
}

func TestLogger(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("no span")
	for _, key := range []string{"trace_id", "session_id"} {
		if strings.Contains(buf.String(), key) {
			t.Errorf("bare log contains %s: %s", key, buf.String())
		}
	}

	tp, _ := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(WithSession(context.Background(), "sess-9"), "log-test")
	defer span.End()
	buf.Reset()
	Logger(ctx).Info("with span")
	for _, key := range []string{"trace_id=", "span_id=", "session_id=sess-9"} {
		if !strings.Contains(buf.String(), key) {
			t.Errorf("log output missing %s: %s", key, buf.String())
		}
	}
}

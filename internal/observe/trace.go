package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/hark"

// stagePrefix names every span opened by [StartStage]. The stage recorder
// installed by [InitProvider] keys on it.
const stagePrefix = "pipeline."

// Stage is one step of a command cycle that gets its own span.
type Stage string

const (
	StageCycle      Stage = "cycle"
	StageTranscribe Stage = "transcribe"
	StageDispatch   Stage = "dispatch"
	StageRespond    Stage = "respond"
)

// SessionIDKey is the span attribute carrying the command cycle's session ID.
const SessionIDKey = "hark.session.id"

type sessionKey struct{}

// WithSession returns ctx tagged with a command cycle's session ID. [Logger]
// adds it to every line logged under ctx.
func WithSession(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionKey{}, id)
}

// SessionID returns the session ID stored by [WithSession] or [StartStage].
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// StartStage opens the span for one stage of session sessionID's cycle. The
// returned context carries both the span and the session ID, so stages nested
// below it (arbitration, skill dispatch, speech) log against the same cycle
// without passing the ID around.
func StartStage(ctx context.Context, stage Stage, sessionID string) (context.Context, trace.Span) {
	ctx = WithSession(ctx, sessionID)
	return otel.Tracer(tracerName).Start(ctx, stagePrefix+string(stage),
		trace.WithAttributes(Attr(SessionIDKey, sessionID)))
}

// Fail marks a stage span as failed. The stage recorder reports such spans
// with outcome "error".
func Fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" when there is
// none. The status server echoes it in X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns slog.Default with the session_id, trace_id and span_id found
// in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := SessionID(ctx); id != "" {
		l = l.With(slog.String("session_id", id))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

package observe

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// unmatchedRoute labels requests no mux pattern claimed, which keeps
// scanners hitting random paths from inflating metric cardinality.
const unmatchedRoute = "unmatched"

// probeRoutes are polled by supervisors and scrapers. Successful hits are
// logged at debug level so they stay out of the pipeline's logs.
var probeRoutes = map[string]bool{
	"GET /healthz": true,
	"GET /readyz":  true,
	"GET /metrics": true,
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the status server. mux must be the [http.ServeMux]
// holding the routes: the pattern it matches becomes the span name and the
// "route" label of [Metrics.HTTPRequestDuration]. Each response carries
// X-Correlation-ID and a traceparent header.
func Middleware(m *Metrics) func(mux *http.ServeMux) http.Handler {
	return func(mux *http.ServeMux) http.Handler {
		return &instrumented{mux: mux, m: m}
	}
}

type instrumented struct {
	mux *http.ServeMux
	m   *Metrics
}

func (h *instrumented) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	prop := propagation.TraceContext{}
	ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "HTTP "+r.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.URLPath(r.URL.Path),
		),
	)
	defer span.End()

	cid := CorrelationID(ctx)
	w.Header().Set("X-Correlation-ID", cid)
	prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

	// ServeMux records the matched pattern on the request it is given.
	req := r.WithContext(ctx)
	rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
	h.mux.ServeHTTP(rec, req)

	route := req.Pattern
	if route == "" {
		route = unmatchedRoute
	} else {
		span.SetName(route)
		span.SetAttributes(semconv.HTTPRoute(route))
	}
	span.SetAttributes(semconv.HTTPResponseStatusCode(rec.statusCode))

	duration := time.Since(start)
	h.m.HTTPRequestDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(Attr("route", route), Attr("status", strconv.Itoa(rec.statusCode))))

	level := slog.LevelInfo
	if probeRoutes[route] && rec.statusCode < 400 {
		level = slog.LevelDebug
	}
	slog.LogAttrs(ctx, level, "status request",
		slog.String("trace_id", cid),
		slog.String("route", route),
		slog.String("path", r.URL.Path),
		slog.Int("status", rec.statusCode),
		slog.Duration("duration", duration),
	)
}

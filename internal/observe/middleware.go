package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Routes served by the HTTP listener. Any other path is reported as
// [RouteOther] so unknown paths cannot grow metric cardinality.
const (
	RouteHealthz = "/healthz"
	RouteReadyz  = "/readyz"
	RouteMetrics = "/metrics"
	RouteOther   = "other"
)

// Route maps a request path to its metric and span label.
func Route(path string) string {
	switch path {
	case RouteHealthz, RouteReadyz, RouteMetrics:
		return path
	default:
		return RouteOther
	}
}

// responseRecorder captures the status code written by the wrapped handler.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the health and metrics listener. Every request is
// timed into [Metrics.HTTPRequestDuration] by route and status. Health
// requests get a span and a debug log line; /metrics scrapes are timed only,
// so the scraper does not fill the trace backend.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := Route(r.URL.Path)
			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}

			if route == RouteMetrics {
				next.ServeHTTP(rec, r)
				m.recordHTTP(r, route, rec.status, time.Since(start))
				return
			}

			ctx, span := StartSpan(r.Context(), "http."+route,
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(route),
			)
			if id := TraceID(ctx); id != "" {
				w.Header().Set("X-Trace-ID", id)
			}
			next.ServeHTTP(rec, r.WithContext(ctx))

			elapsed := time.Since(start)
			span.SetAttributes(semconv.HTTPResponseStatusCode(rec.status))
			span.End()
			m.recordHTTP(r, route, rec.status, elapsed)

			Logger(ctx).LogAttrs(ctx, slog.LevelDebug, "http: request",
				slog.String("route", route),
				slog.String("method", r.Method),
				slog.Int("status", rec.status),
				slog.Duration("duration", elapsed),
			)
		})
	}
}

func (m *Metrics) recordHTTP(r *http.Request, route string, status int, d time.Duration) {
	m.HTTPRequestDuration.Record(r.Context(), d.Seconds(),
		metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", route),
			attribute.Int("status", status),
		),
	)
}

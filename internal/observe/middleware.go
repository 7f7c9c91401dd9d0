package observe

import (
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// codeCapture remembers the first status code the downstream handler writes.
type codeCapture struct {
	http.ResponseWriter
	code    int
	written bool
}

func (c *codeCapture) WriteHeader(code int) {
	if !c.written {
		c.code = code
		c.written = true
	}
	c.ResponseWriter.WriteHeader(code)
}

// Middleware instruments the ops endpoint (metrics, health) with a server
// span, a duration histogram sample, and a completion log line. The trace ID
// is echoed back as X-Correlation-ID so scrape and probe failures can be
// matched to log output.
func Middleware(m *Metrics) func(http.Handler) http.Handler {
	prop := propagation.TraceContext{}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := StartSpan(ctx, "HTTP "+r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			if cid := CorrelationID(ctx); cid != "" {
				w.Header().Set("X-Correlation-ID", cid)
			}
			prop.Inject(ctx, propagation.HeaderCarrier(w.Header()))

			cap := &codeCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(cap, r.WithContext(ctx))

			elapsed := time.Since(start)
			m.HTTPRequestDuration.Record(ctx, elapsed.Seconds(),
				metric.WithAttributes(
					attribute.String("method", r.Method),
					attribute.String("path", r.URL.Path),
				),
			)
			span.SetAttributes(semconv.HTTPResponseStatusCode(cap.code))

			slog.LogAttrs(ctx, slog.LevelInfo, "http request served",
				slog.String("trace_id", CorrelationID(ctx)),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", cap.code),
				slog.Duration("elapsed", elapsed),
			)
		})
	}
}

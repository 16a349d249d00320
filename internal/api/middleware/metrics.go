package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/opentaqwa/opentaqwa/internal/api/middleware"

// Metrics holds the HTTP server instruments. Event streams are measured
// apart from ordinary requests: they stay open for minutes and would
// swamp the request duration histogram.
type Metrics struct {
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
	responseSize    metric.Int64Histogram

	activeStreams  metric.Int64UpDownCounter
	streamDuration metric.Float64Histogram
}

// NewMetrics creates the instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.requestDuration, err = meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("Duration of HTTP server requests"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.activeRequests, err = meter.Int64UpDownCounter(
		"http.server.active_requests",
		metric.WithDescription("Number of HTTP requests in progress"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.responseSize, err = meter.Int64Histogram(
		"http.server.response.body.size",
		metric.WithDescription("Size of HTTP response bodies"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.activeStreams, err = meter.Int64UpDownCounter(
		"opentaqwa.api.streams.active",
		metric.WithDescription("Number of open schedule event streams"),
		metric.WithUnit("{stream}"),
	); err != nil {
		return nil, err
	}

	if m.streamDuration, err = meter.Float64Histogram(
		"opentaqwa.api.stream.duration",
		metric.WithDescription("Lifetime of schedule event streams"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// Middleware records each request under its route pattern, so path
// parameters do not multiply series.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := time.Now()
			method := metric.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method))

			stream := wantsEventStream(r)
			active := m.activeRequests
			if stream {
				active = m.activeStreams
			}
			active.Add(ctx, 1, method)
			defer active.Add(ctx, -1, method)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			attrs := metric.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(routePattern(r)),
				semconv.HTTPResponseStatusCode(rec.statusCode),
				attribute.Bool("error", rec.statusCode >= http.StatusBadRequest),
			)

			elapsed := time.Since(start).Seconds()
			if stream {
				m.streamDuration.Record(ctx, elapsed, attrs)
				return
			}
			m.requestDuration.Record(ctx, elapsed, attrs)
			m.responseSize.Record(ctx, rec.written, attrs)
		})
	}
}

// wantsEventStream reports whether the client asked for server-sent events.
func wantsEventStream(r *http.Request) bool {
	return r.Header.Get("Accept") == "text/event-stream"
}

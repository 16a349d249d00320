package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const meterName = "github.com/opentaqwa/opentaqwa/internal/telemetry"

// Provider calls and refreshes complete within a few seconds; the tail is
// bounded by the provider timeout.
var latencyBuckets = []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// timed pairs a duration histogram with a count of the same operations.
type timed struct {
	duration metric.Float64Histogram
	total    metric.Int64Counter
}

func newTimed(meter metric.Meter, name, what, unit string) (timed, error) {
	duration, err := meter.Float64Histogram(name+".duration",
		metric.WithDescription("Duration of "+what),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		return timed{}, err
	}
	total, err := meter.Int64Counter(name+".total",
		metric.WithDescription("Number of "+what),
		metric.WithUnit(unit),
	)
	if err != nil {
		return timed{}, err
	}
	return timed{duration: duration, total: total}, nil
}

// record uses a fresh context: the caller's is often cancelled by now.
func (t timed) record(d time.Duration, err error, attrs ...attribute.KeyValue) {
	if err != nil {
		attrs = append(attrs, semconv.ErrorTypeKey.String(errorType(err)))
	}
	opt := metric.WithAttributes(attrs...)
	t.duration.Record(context.Background(), d.Seconds(), opt)
	t.total.Add(context.Background(), 1, opt)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "_OTHER"
	}
}

// ProviderMetrics measures calls to the timings and geocoding providers.
type ProviderMetrics struct {
	requests timed
}

// NewProviderMetrics registers provider.request.duration and provider.request.total.
func NewProviderMetrics() (*ProviderMetrics, error) {
	requests, err := newTimed(otel.Meter(meterName), "provider.request", "provider requests", "{request}")
	if err != nil {
		return nil, err
	}
	return &ProviderMetrics{requests: requests}, nil
}

// RecordRequest records one provider call. Safe on a nil receiver.
func (m *ProviderMetrics) RecordRequest(provider, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.requests.record(d, err,
		attribute.String("provider.name", provider),
		attribute.String("provider.operation", operation),
	)
}

// EngineMetrics measures schedule refreshes.
type EngineMetrics struct {
	refreshes  timed
	superseded metric.Int64Counter
}

// NewEngineMetrics registers the schedule.refresh instruments.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.Meter(meterName)

	refreshes, err := newTimed(meter, "schedule.refresh", "schedule refreshes", "{refresh}")
	if err != nil {
		return nil, err
	}
	superseded, err := meter.Int64Counter("schedule.refresh.superseded",
		metric.WithDescription("Refresh results discarded because a newer refresh had started"),
		metric.WithUnit("{refresh}"),
	)
	if err != nil {
		return nil, err
	}
	return &EngineMetrics{refreshes: refreshes, superseded: superseded}, nil
}

// RecordRefresh records one refresh that reached the engine state. Safe on a nil receiver.
func (m *EngineMetrics) RecordRefresh(trigger string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.refreshes.record(d, err, attribute.String("refresh.trigger", trigger))
}

// RecordSuperseded counts a refresh result dropped for a newer one. Safe on a nil receiver.
func (m *EngineMetrics) RecordSuperseded(trigger string) {
	if m == nil {
		return
	}
	m.superseded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("refresh.trigger", trigger)))
}

package prayer

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/telemetry"
)

const tracerName = "github.com/opentaqwa/opentaqwa/internal/prayer"

// Provider defines the interface for prayer timing providers.
type Provider interface {
	// GetTimingsByCoordinates fetches the five timings for the civil date at
	// a coordinate, along with the coordinate's zone when known.
	GetTimingsByCoordinates(ctx context.Context, lat, lon float64, date time.Time) (Day, error)

	// Name returns the provider name for logging.
	Name() string
}

// FetcherConfig holds configuration for the schedule fetcher.
type FetcherConfig struct {
	// Provider is the prayer timing provider.
	Provider Provider

	// Logger for fetcher operations.
	Logger zerolog.Logger

	// Timeout bounds a single fetch (default: 10 seconds).
	Timeout time.Duration

	// Metrics records provider request metrics. Optional.
	Metrics *telemetry.ProviderMetrics
}

// Fetcher retrieves raw daily timings. It does not cache and does not retry.
type Fetcher struct {
	provider Provider
	logger   zerolog.Logger
	timeout  time.Duration
	metrics  *telemetry.ProviderMetrics
}

// NewFetcher creates a new schedule fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Fetcher{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		timeout:  timeout,
		metrics:  cfg.Metrics,
	}
}

// FetchDay retrieves the raw timings for the civil date of date at coord.
// Every failure, including timeout and cancellation, is returned as *FetchError.
func (f *Fetcher) FetchDay(ctx context.Context, coord location.Coordinate, date time.Time) (Day, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "prayer.FetchDay")
	defer span.End()

	span.SetAttributes(
		attribute.String("provider.name", f.provider.Name()),
		attribute.Float64("location.lat", coord.Lat),
		attribute.Float64("location.lon", coord.Lon),
		attribute.String("schedule.date", date.Format(time.DateOnly)),
	)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	f.logger.Debug().
		Float64("lat", coord.Lat).
		Float64("lon", coord.Lon).
		Str("date", date.Format(time.DateOnly)).
		Str("provider", f.provider.Name()).
		Msg("fetching prayer timings from provider")

	start := time.Now()
	day, err := f.provider.GetTimingsByCoordinates(ctx, coord.Lat, coord.Lon, date)
	f.metrics.RecordRequest(f.provider.Name(), "timings", time.Since(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return Day{}, &FetchError{Provider: f.provider.Name(), Err: err}
	}
	if day.Zone != nil {
		span.SetAttributes(attribute.String("schedule.zone", day.Zone.String()))
	}
	return day, nil
}

// Name returns the underlying provider name.
func (f *Fetcher) Name() string {
	return f.provider.Name()
}

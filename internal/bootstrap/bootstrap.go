// Package bootstrap assembles the prayer schedule pipeline from configuration.
package bootstrap

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/opentaqwa/opentaqwa/internal/config"
	"github.com/opentaqwa/opentaqwa/internal/engine"
	"github.com/opentaqwa/opentaqwa/internal/location"
	"github.com/opentaqwa/opentaqwa/internal/location/nominatim"
	"github.com/opentaqwa/opentaqwa/internal/prayer"
	"github.com/opentaqwa/opentaqwa/internal/prayer/aladhan"
	"github.com/opentaqwa/opentaqwa/internal/provider/resilience"
	"github.com/opentaqwa/opentaqwa/internal/telemetry"
)

// Components holds the wired pipeline.
type Components struct {
	Registry *resilience.Registry
	Resolver *location.Resolver
	Fetcher  *prayer.Fetcher
	Engine   *engine.Engine

	// Location is the zone schedules are computed in.
	Location *time.Location
}

// Build wires the resolver, fetcher and engine described by cfg.
func Build(cfg config.Config, logger zerolog.Logger) (*Components, error) {
	zone, err := cfg.Location.Zone()
	if err != nil {
		return nil, fmt.Errorf("loading time zone: %w", err)
	}

	providerMetrics, engineMetrics, err := telemetry.Instruments()
	if err != nil {
		return nil, fmt.Errorf("creating instruments: %w", err)
	}

	registry := resilience.NewRegistry()
	breakerLog := logger.With().Str("component", "resilience").Logger()

	aladhanHTTP := resilience.Defaults(aladhan.ProviderName)
	aladhanHTTP.Timeout = cfg.Aladhan.Timeout
	aladhanHTTP.Registry = registry
	aladhanHTTP.Logger = breakerLog

	// Geocoding only labels the place, so one attempt is enough.
	nominatimHTTP := resilience.Defaults(nominatim.ProviderName)
	nominatimHTTP.Timeout = cfg.Location.GeocodeTimeout
	nominatimHTTP.Retry = resilience.NoRetry()
	nominatimHTTP.UserAgent = cfg.Nominatim.UserAgent
	nominatimHTTP.Registry = registry
	nominatimHTTP.Logger = breakerLog

	geocoder := nominatim.NewClient(nominatim.ClientConfig{
		BaseURL:    cfg.Nominatim.BaseURL,
		HTTPClient: resilience.NewClient(nominatimHTTP),
		Logger:     logger.With().Str("component", "nominatim").Logger(),
	})

	resolver := location.NewResolver(location.ResolverConfig{
		Sensor:         location.NewStaticSensor(cfg.Location.Coordinate),
		Geocoder:       geocoder,
		Logger:         logger.With().Str("component", "location").Logger(),
		GeocodeTimeout: cfg.Location.GeocodeTimeout,
	})

	provider := aladhan.NewClient(aladhan.ClientConfig{
		BaseURL:    cfg.Aladhan.BaseURL,
		Method:     cfg.Aladhan.Method,
		HTTPClient: resilience.NewClient(aladhanHTTP),
		Logger:     logger.With().Str("component", "aladhan").Logger(),
	})

	fetcher := prayer.NewFetcher(prayer.FetcherConfig{
		Provider: provider,
		Logger:   logger.With().Str("component", "fetcher").Logger(),
		Timeout:  cfg.Aladhan.Timeout,
		Metrics:  providerMetrics,
	})

	eng := engine.New(engine.Config{
		Resolver:       resolver,
		Fetcher:        fetcher,
		Logger:         logger.With().Str("component", "engine").Logger(),
		Location:       zone,
		TickInterval:   cfg.Engine.TickInterval,
		ResyncInterval: cfg.Engine.ResyncInterval,
		Metrics:        engineMetrics,
	})

	return &Components{
		Registry: registry,
		Resolver: resolver,
		Fetcher:  fetcher,
		Engine:   eng,
		Location: zone,
	}, nil
}

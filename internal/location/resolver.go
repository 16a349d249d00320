package location

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Sensor reads the device position.
type Sensor interface {
	// RequestPermission asks for foreground location access. It may block on the user.
	RequestPermission(ctx context.Context) (bool, error)

	// CurrentPosition reads the current position with the given accuracy profile.
	CurrentPosition(ctx context.Context, accuracy Accuracy) (Coordinate, error)
}

// Geocoder turns a coordinate into a place name.
type Geocoder interface {
	ReverseGeocode(ctx context.Context, c Coordinate) (PlaceName, error)
}

// ResolverConfig holds configuration for the resolver.
type ResolverConfig struct {
	Sensor   Sensor
	Geocoder Geocoder
	Logger   zerolog.Logger

	// Accuracy requested from the sensor (default: AccuracyBalanced).
	Accuracy Accuracy

	// GeocodeTimeout bounds the reverse lookup (default: 10 seconds).
	GeocodeTimeout time.Duration
}

// Resolver produces a coordinate and place name, degrading to fallbacks instead of failing.
type Resolver struct {
	sensor         Sensor
	geocoder       Geocoder
	logger         zerolog.Logger
	accuracy       Accuracy
	geocodeTimeout time.Duration
}

// NewResolver creates a new location resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	accuracy := cfg.Accuracy
	if accuracy == 0 {
		accuracy = AccuracyBalanced
	}

	geocodeTimeout := cfg.GeocodeTimeout
	if geocodeTimeout == 0 {
		geocodeTimeout = 10 * time.Second
	}

	return &Resolver{
		sensor:         cfg.Sensor,
		geocoder:       cfg.Geocoder,
		logger:         cfg.Logger,
		accuracy:       accuracy,
		geocodeTimeout: geocodeTimeout,
	}
}

// Resolve returns the current coordinate and place name. It never fails:
// an unavailable location yields the fallback coordinate, and a failed
// reverse lookup yields a generic place name for the real coordinate.
func (r *Resolver) Resolve(ctx context.Context) Resolution {
	coord, err := r.position(ctx)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("fallback", FallbackCoordinate.String()).
			Msg("location unavailable, using fallback coordinate")
		return Resolution{Coordinate: FallbackCoordinate, Place: FallbackPlace}
	}

	return Resolution{Coordinate: coord, Place: r.placeName(ctx, coord)}
}

func (r *Resolver) position(ctx context.Context) (Coordinate, error) {
	if r.sensor == nil {
		return Coordinate{}, ErrLocationUnavailable
	}

	granted, err := r.sensor.RequestPermission(ctx)
	if err != nil {
		return Coordinate{}, errors.Join(ErrLocationUnavailable, err)
	}
	if !granted {
		return Coordinate{}, ErrPermissionDenied
	}

	coord, err := r.sensor.CurrentPosition(ctx, r.accuracy)
	if err != nil {
		return Coordinate{}, errors.Join(ErrLocationUnavailable, err)
	}
	if err := coord.Validate(); err != nil {
		return Coordinate{}, errors.Join(ErrLocationUnavailable, err)
	}
	return coord, nil
}

func (r *Resolver) placeName(ctx context.Context, coord Coordinate) PlaceName {
	if r.geocoder == nil {
		return GenericPlace
	}

	geoCtx, cancel := context.WithTimeout(ctx, r.geocodeTimeout)
	defer cancel()

	place, err := r.geocoder.ReverseGeocode(geoCtx, coord)
	if err != nil {
		r.logger.Warn().Err(errors.Join(ErrGeocodeFailure, err)).
			Float64("lat", coord.Lat).
			Float64("lon", coord.Lon).
			Msg("reverse geocoding failed, using generic place name")
		return GenericPlace
	}
	return place
}

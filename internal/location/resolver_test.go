package location_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentaqwa/opentaqwa/internal/location"
)

type mockSensor struct {
	granted       bool
	permissionErr error
	coord         location.Coordinate
	positionErr   error
	gotAccuracy   location.Accuracy
}

func (m *mockSensor) RequestPermission(_ context.Context) (bool, error) {
	return m.granted, m.permissionErr
}

func (m *mockSensor) CurrentPosition(_ context.Context, accuracy location.Accuracy) (location.Coordinate, error) {
	m.gotAccuracy = accuracy
	return m.coord, m.positionErr
}

type mockGeocoder struct {
	place    location.PlaceName
	err      error
	block    bool
	calls    int
	deadline bool
}

func (m *mockGeocoder) ReverseGeocode(ctx context.Context, _ location.Coordinate) (location.PlaceName, error) {
	m.calls++
	_, m.deadline = ctx.Deadline()
	if m.block {
		<-ctx.Done()
		return location.PlaceName{}, ctx.Err()
	}
	return m.place, m.err
}

func TestResolver_PermissionDeniedUsesFallback(t *testing.T) {
	geocoder := &mockGeocoder{place: location.PlaceName{City: "Paris", Country: "France"}}
	resolver := location.NewResolver(location.ResolverConfig{
		Sensor:   &mockSensor{granted: false},
		Geocoder: geocoder,
		Logger:   zerolog.Nop(),
	})

	res := resolver.Resolve(context.Background())

	assert.Equal(t, 51.5074, res.Coordinate.Lat)
	assert.Equal(t, -0.1278, res.Coordinate.Lon)
	assert.True(t, res.Place.IsDefault)
	assert.Equal(t, "London", res.Place.City)
	assert.Equal(t, 0, geocoder.calls, "fallback place is not reverse geocoded")
}

func TestResolver_SensorFailuresUseFallback(t *testing.T) {
	tests := []struct {
		name   string
		sensor location.Sensor
	}{
		{"no sensor", nil},
		{"permission prompt error", &mockSensor{permissionErr: errors.New("prompt crashed")}},
		{"position read error", &mockSensor{granted: true, positionErr: errors.New("gps off")}},
		{"out of range position", &mockSensor{granted: true, coord: location.Coordinate{Lat: 123, Lon: 0}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := location.NewResolver(location.ResolverConfig{
				Sensor: tt.sensor,
				Logger: zerolog.Nop(),
			})

			res := resolver.Resolve(context.Background())

			assert.Equal(t, location.FallbackCoordinate, res.Coordinate)
			assert.Equal(t, location.FallbackPlace, res.Place)
		})
	}
}

func TestResolver_GrantedUsesSensorAndGeocoder(t *testing.T) {
	sensor := &mockSensor{granted: true, coord: location.Coordinate{Lat: 40.71, Lon: -74.00}}
	geocoder := &mockGeocoder{place: location.PlaceName{City: "New York", Country: "United States"}}
	resolver := location.NewResolver(location.ResolverConfig{
		Sensor:   sensor,
		Geocoder: geocoder,
		Logger:   zerolog.Nop(),
	})

	res := resolver.Resolve(context.Background())

	assert.Equal(t, location.Coordinate{Lat: 40.71, Lon: -74.00}, res.Coordinate)
	assert.Equal(t, "New York", res.Place.City)
	assert.False(t, res.Place.IsDefault)
	assert.Equal(t, location.AccuracyBalanced, sensor.gotAccuracy)
	assert.True(t, geocoder.deadline, "reverse geocoding is bounded by a timeout")
}

func TestResolver_GeocodeFailureKeepsCoordinate(t *testing.T) {
	resolver := location.NewResolver(location.ResolverConfig{
		Sensor:   &mockSensor{granted: true, coord: location.Coordinate{Lat: 21.42, Lon: 39.82}},
		Geocoder: &mockGeocoder{err: errors.New("network down")},
		Logger:   zerolog.Nop(),
	})

	res := resolver.Resolve(context.Background())

	assert.Equal(t, location.Coordinate{Lat: 21.42, Lon: 39.82}, res.Coordinate)
	assert.Equal(t, location.GenericPlace, res.Place)
}

func TestResolver_GeocodeTimeout(t *testing.T) {
	geocoder := &mockGeocoder{block: true}
	resolver := location.NewResolver(location.ResolverConfig{
		Sensor:         &mockSensor{granted: true, coord: location.Coordinate{Lat: 1, Lon: 2}},
		Geocoder:       geocoder,
		Logger:         zerolog.Nop(),
		GeocodeTimeout: 20 * time.Millisecond,
	})

	start := time.Now()
	res := resolver.Resolve(context.Background())

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "Current Location", res.Place.City)
	assert.Equal(t, location.Coordinate{Lat: 1, Lon: 2}, res.Coordinate)
}

func TestStaticSensor(t *testing.T) {
	ctx := context.Background()

	denied := location.NewStaticSensor(nil)
	granted, err := denied.RequestPermission(ctx)
	require.NoError(t, err)
	assert.False(t, granted)
	_, err = denied.CurrentPosition(ctx, location.AccuracyBalanced)
	assert.ErrorIs(t, err, location.ErrPermissionDenied)

	coord := location.Coordinate{Lat: 24.47, Lon: 39.61}
	sensor := location.NewStaticSensor(&coord)
	granted, err = sensor.RequestPermission(ctx)
	require.NoError(t, err)
	assert.True(t, granted)
	got, err := sensor.CurrentPosition(ctx, location.AccuracyHigh)
	require.NoError(t, err)
	assert.Equal(t, coord, got)
}

func TestCoordinate_Validate(t *testing.T) {
	assert.NoError(t, location.Coordinate{Lat: 90, Lon: -180}.Validate())
	assert.ErrorIs(t, location.Coordinate{Lat: -91, Lon: 0}.Validate(), location.ErrInvalidCoordinates)
	assert.ErrorIs(t, location.Coordinate{Lat: 0, Lon: 180.5}.Validate(), location.ErrInvalidCoordinates)
}

func TestPlaceName_String(t *testing.T) {
	assert.Equal(t, "London, UK (Default)", location.FallbackPlace.String())
	assert.Equal(t, "Current Location", location.GenericPlace.String())
}

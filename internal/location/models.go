// Package location resolves the coordinate and place name a prayer schedule is computed for.
package location

import (
	"errors"
	"fmt"
)

// Location errors.
var (
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrGeocodeFailure      = errors.New("reverse geocoding failed")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
)

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// Validate checks that the coordinate lies within WGS84 bounds.
func (c Coordinate) Validate() error {
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// PlaceName is the human-readable label for a coordinate. Display only.
type PlaceName struct {
	City    string `json:"city" yaml:"city"`
	Country string `json:"country" yaml:"country"`

	// IsDefault marks the fallback place used when the device location is unavailable.
	IsDefault bool `json:"isDefault" yaml:"isDefault"`
}

func (p PlaceName) String() string {
	if p.Country == "" {
		return p.City
	}
	return p.City + ", " + p.Country
}

// Accuracy is the accuracy/power profile requested from a position sensor.
type Accuracy int

const (
	AccuracyLowest Accuracy = iota + 1
	AccuracyLow
	AccuracyBalanced
	AccuracyHigh
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyLowest:
		return "lowest"
	case AccuracyLow:
		return "low"
	case AccuracyBalanced:
		return "balanced"
	case AccuracyHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Fallbacks used when the device location or reverse lookup cannot be used.
var (
	FallbackCoordinate = Coordinate{Lat: 51.5074, Lon: -0.1278}
	FallbackPlace      = PlaceName{City: "London", Country: "UK (Default)", IsDefault: true}
	GenericPlace       = PlaceName{City: "Current Location"}
)

// Resolution is the outcome of one resolver cycle.
type Resolution struct {
	Coordinate Coordinate `json:"coordinate" yaml:"coordinate"`
	Place      PlaceName  `json:"place" yaml:"place"`
}

package location

import "context"

// StaticSensor reports a configured coordinate. A sensor without a coordinate
// behaves like a device whose user denied the location permission.
type StaticSensor struct {
	coord *Coordinate
}

// NewStaticSensor creates a sensor for the given coordinate. A nil coordinate denies permission.
func NewStaticSensor(coord *Coordinate) *StaticSensor {
	return &StaticSensor{coord: coord}
}

// RequestPermission grants access only when a coordinate is configured.
func (s *StaticSensor) RequestPermission(_ context.Context) (bool, error) {
	return s.coord != nil, nil
}

// CurrentPosition returns the configured coordinate.
func (s *StaticSensor) CurrentPosition(ctx context.Context, _ Accuracy) (Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return Coordinate{}, err
	}
	if s.coord == nil {
		return Coordinate{}, ErrPermissionDenied
	}
	return *s.coord, nil
}

package geo

import (
	"fmt"
	"math"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371000.0

// Coordinate is a WGS84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects coordinates outside WGS84 bounds. Out-of-range input is an
// error, never silently clamped.
func (c Coordinate) Validate() error {
	if c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", c.Latitude)
	}
	if c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", c.Longitude)
	}
	return nil
}

// Fence is a circular boundary around a campus reference point.
// Configuration data, not mutated at runtime.
type Fence struct {
	Center       Coordinate `json:"center"`
	RadiusMeters float64    `json:"radius_meters"`
}

// Result reports how far a device is from the fence center. The fence is
// advisory in the current policy: callers surface it, they do not block on it.
type Result struct {
	WithinFence    bool    `json:"within_fence"`
	DistanceMeters float64 `json:"distance_meters"`
}

// Evaluate computes the haversine distance between point and the fence center.
// Boundary equality counts as within the fence.
func Evaluate(point Coordinate, fence Fence) (Result, error) {
	if err := point.Validate(); err != nil {
		return Result{}, fmt.Errorf("device coordinate: %w", err)
	}
	if err := fence.Center.Validate(); err != nil {
		return Result{}, fmt.Errorf("fence center: %w", err)
	}
	if fence.RadiusMeters <= 0 {
		return Result{}, fmt.Errorf("fence radius %v must be positive", fence.RadiusMeters)
	}

	d := Distance(point, fence.Center)
	return Result{WithinFence: d <= fence.RadiusMeters, DistanceMeters: d}, nil
}

// Distance returns the great-circle distance in meters between two coordinates.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

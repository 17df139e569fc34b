// Package geo provides great-circle distance, bounding boxes and a grid
// index used for proximity queries over match locations.
package geo

import (
	"errors"
	"math"
)

// EarthRadiusMeters is the mean earth radius used for haversine distances.
const EarthRadiusMeters = 6_371_008.8

// Sentinel kinds for geo errors.
var (
	ErrInvalidLatitude  = errors.New("latitude must be within [-90, 90]")
	ErrInvalidLongitude = errors.New("longitude must be within [-180, 180]")
	ErrInvalidRadius    = errors.New("radius must be positive")
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports whether p is inside the valid coordinate range.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return ErrInvalidLatitude
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return ErrInvalidLongitude
	}
	return nil
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Distance returns the haversine distance between a and b in meters.
func Distance(a, b Point) float64 {
	lat1, lat2 := radians(a.Lat), radians(b.Lat)
	dLat := lat2 - lat1
	dLng := radians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Box is a latitude/longitude rectangle. When the box crosses the
// antimeridian MinLng > MaxLng.
type Box struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

// Contains reports whether p lies inside the box.
func (b Box) Contains(p Point) bool {
	if p.Lat < b.MinLat || p.Lat > b.MaxLat {
		return false
	}
	if b.MinLng <= b.MaxLng {
		return p.Lng >= b.MinLng && p.Lng <= b.MaxLng
	}
	return p.Lng >= b.MinLng || p.Lng <= b.MaxLng
}

// WrapsAntimeridian reports whether the box spans the ±180° meridian.
func (b Box) WrapsAntimeridian() bool { return b.MinLng > b.MaxLng }

// BoundingBox returns a box that contains every point within radiusMeters
// of center. The box is conservative: it may contain points farther than the
// radius, never the other way round.
func BoundingBox(center Point, radiusMeters float64) Box {
	angular := radiusMeters / EarthRadiusMeters
	lat := radians(center.Lat)
	lng := radians(center.Lng)

	minLat := lat - angular
	maxLat := lat + angular

	// A pole inside the circle: every longitude qualifies.
	if minLat <= -math.Pi/2 || maxLat >= math.Pi/2 {
		return Box{
			MinLat: math.Max(degrees(minLat), -90),
			MaxLat: math.Min(degrees(maxLat), 90),
			MinLng: -180,
			MaxLng: 180,
		}
	}

	ratio := math.Sin(angular) / math.Cos(lat)
	if ratio >= 1 {
		return Box{MinLat: degrees(minLat), MaxLat: degrees(maxLat), MinLng: -180, MaxLng: 180}
	}
	dLng := math.Asin(ratio)
	minLng := lng - dLng
	maxLng := lng + dLng
	if minLng < -math.Pi {
		minLng += 2 * math.Pi
	}
	if maxLng > math.Pi {
		maxLng -= 2 * math.Pi
	}
	return Box{
		MinLat: degrees(minLat),
		MaxLat: degrees(maxLat),
		MinLng: degrees(minLng),
		MaxLng: degrees(maxLng),
	}
}

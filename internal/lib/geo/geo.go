package geo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/s2"
	"github.com/twpayne/go-polyline"
)

// EarthRadiusMeters is the mean Earth radius used for all distance calculations
const EarthRadiusMeters = 6371000.0

// geoUtils implements the GeoUtils interface on top of the S2 geometry library
type geoUtils struct{}

// NewGeoUtils creates a new GeoUtils implementation
func NewGeoUtils() GeoUtils {
	return &geoUtils{}
}

// PointToPoint calculates great-circle distance between two points
func (g *geoUtils) PointToPoint(p1, p2 Point) (float64, error) {
	if !IsValidCoordinate(p1) || !IsValidCoordinate(p2) {
		return 0, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}

	if p1 == p2 {
		return 0, nil
	}

	return p1.latLng().Distance(p2.latLng()).Radians() * EarthRadiusMeters, nil
}

// PointToPolyline calculates minimum distance from point to polyline
func (g *geoUtils) PointToPolyline(point Point, polyline Polyline) (float64, error) {
	if !IsValidCoordinate(point) {
		return 0, errors.New("invalid point coordinates")
	}

	if len(polyline.Points) == 0 {
		return 0, errors.New("polyline has no points")
	}

	if len(polyline.Points) == 1 {
		return g.PointToPoint(point, polyline.Points[0])
	}

	x := s2.PointFromLatLng(point.latLng())
	minDistance := math.Inf(1)

	for i := 0; i < len(polyline.Points)-1; i++ {
		a := s2.PointFromLatLng(polyline.Points[i].latLng())
		b := s2.PointFromLatLng(polyline.Points[i+1].latLng())

		var distance float64
		if a == b {
			distance = x.Distance(a).Radians() * EarthRadiusMeters
		} else {
			distance = s2.DistanceFromSegment(x, a, b).Radians() * EarthRadiusMeters
		}

		if distance < minDistance {
			minDistance = distance
		}
	}

	return minDistance, nil
}

// PolylineLength sums the great-circle length of every segment
func (g *geoUtils) PolylineLength(polyline Polyline) (float64, error) {
	total := 0.0
	for i := 0; i < len(polyline.Points)-1; i++ {
		length, err := g.PointToPoint(polyline.Points[i], polyline.Points[i+1])
		if err != nil {
			return 0, fmt.Errorf("segment %d: %w", i, err)
		}
		total += length
	}
	return total, nil
}

// DecodePolyline decodes an encoded polyline string to point sequence
func (g *geoUtils) DecodePolyline(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, errors.New("encoded polyline string is empty")
	}

	coords, _, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, errors.New("failed to decode polyline: " + err.Error())
	}

	points := make([]Point, len(coords))
	for i, coord := range coords {
		points[i] = Point{
			Latitude:  coord[0],
			Longitude: coord[1],
		}

		if !IsValidCoordinate(points[i]) {
			return nil, errors.New("decoded polyline contains invalid coordinates")
		}
	}

	return points, nil
}

// NewPoint creates a Point from latitude and longitude values with validation
func NewPoint(latitude, longitude float64) (Point, error) {
	point := Point{Latitude: latitude, Longitude: longitude}
	if !IsValidCoordinate(point) {
		return Point{}, errors.New("invalid coordinates: latitude must be [-90, 90], longitude must be [-180, 180]")
	}
	return point, nil
}

// ParsePoint parses a "lat,lng" pair
func ParsePoint(s string) (Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return Point{}, fmt.Errorf("expected \"lat,lng\", got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid latitude %q: %w", parts[0], err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return Point{}, fmt.Errorf("invalid longitude %q: %w", parts[1], err)
	}
	return NewPoint(lat, lng)
}

// IsValidCoordinate validates latitude and longitude values
func IsValidCoordinate(point Point) bool {
	return point.Latitude >= -90 && point.Latitude <= 90 &&
		point.Longitude >= -180 && point.Longitude <= 180
}

func (p Point) latLng() s2.LatLng {
	return s2.LatLngFromDegrees(p.Latitude, p.Longitude)
}

package geo

// Point represents a geographic coordinate
type Point struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lng"`
}

// Polyline represents an encoded polyline with optional decoded points
type Polyline struct {
	EncodedPolyline string  `json:"encoded_polyline,omitempty"`
	Points          []Point `json:"points"`
}

// GeoUtils interface defines geographic calculation utilities
type GeoUtils interface {
	// Calculate great-circle distance between two points in meters
	PointToPoint(p1, p2 Point) (float64, error)

	// Calculate minimum distance from point to polyline in meters
	PointToPolyline(point Point, polyline Polyline) (float64, error)

	// Decode Google/OSRM polyline string (precision 5) to point sequence
	DecodePolyline(encoded string) ([]Point, error)

	// Total length of the polyline in meters
	PolylineLength(polyline Polyline) (float64, error)
}

// NewGeoUtils is implemented in geo.go

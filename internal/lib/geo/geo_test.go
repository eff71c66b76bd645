package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	// Bengaluru city centre and a point about 1.1km east
	mgRoad   = Point{Latitude: 12.9756, Longitude: 77.6050}
	indiraNR = Point{Latitude: 12.9756, Longitude: 77.6152}
)

func TestGeoUtils_PointToPoint(t *testing.T) {
	geoUtils := NewGeoUtils()

	distance, err := geoUtils.PointToPoint(mgRoad, indiraNR)
	require.NoError(t, err)
	assert.InDelta(t, 1106, distance, 15, "Distance should be approximately 1.1km")

	distance, err = geoUtils.PointToPoint(mgRoad, mgRoad)
	require.NoError(t, err)
	assert.Equal(t, 0.0, distance)

	invalidPoint := Point{Latitude: 200, Longitude: -300}
	_, err = geoUtils.PointToPoint(mgRoad, invalidPoint)
	assert.Error(t, err, "Should return error for invalid coordinates")
}

func TestGeoUtils_PointToPolyline(t *testing.T) {
	geoUtils := NewGeoUtils()

	route := Polyline{Points: []Point{mgRoad, indiraNR}}

	// ~0.0009 degrees of latitude north of the segment midpoint is ~100m
	testPoint := Point{Latitude: 12.9765, Longitude: 77.6100}
	distance, err := geoUtils.PointToPolyline(testPoint, route)
	require.NoError(t, err)
	assert.InDelta(t, 100, distance, 5)

	distance, err = geoUtils.PointToPolyline(mgRoad, route)
	require.NoError(t, err)
	assert.Less(t, distance, 1.0, "Point on route should be on the polyline")

	// Beyond the end of the segment the distance is measured to the endpoint
	past := Point{Latitude: 12.9756, Longitude: 77.6252}
	distance, err = geoUtils.PointToPolyline(past, route)
	require.NoError(t, err)
	endDistance, _ := geoUtils.PointToPoint(past, indiraNR)
	assert.InDelta(t, endDistance, distance, 1)

	_, err = geoUtils.PointToPolyline(mgRoad, Polyline{})
	assert.Error(t, err)
}

func TestGeoUtils_PointToPolyline_DegenerateSegment(t *testing.T) {
	geoUtils := NewGeoUtils()

	route := Polyline{Points: []Point{mgRoad, mgRoad}}
	distance, err := geoUtils.PointToPolyline(indiraNR, route)
	require.NoError(t, err)
	assert.InDelta(t, 1106, distance, 15)
}

func TestGeoUtils_DecodePolyline(t *testing.T) {
	geoUtils := NewGeoUtils()

	// Reference example from the polyline algorithm documentation
	points, err := geoUtils.DecodePolyline("_p~iF~ps|U_ulLnnqC_mqNvxq`@")
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.InDelta(t, 38.5, points[0].Latitude, 1e-6)
	assert.InDelta(t, -120.2, points[0].Longitude, 1e-6)
	assert.InDelta(t, 43.252, points[2].Latitude, 1e-6)
	assert.InDelta(t, -126.453, points[2].Longitude, 1e-6)

	_, err = geoUtils.DecodePolyline("")
	assert.Error(t, err)
}

func TestGeoUtils_PolylineLength(t *testing.T) {
	geoUtils := NewGeoUtils()

	length, err := geoUtils.PolylineLength(Polyline{Points: []Point{mgRoad, indiraNR, mgRoad}})
	require.NoError(t, err)
	assert.InDelta(t, 2212, length, 30)

	length, err = geoUtils.PolylineLength(Polyline{Points: []Point{mgRoad}})
	require.NoError(t, err)
	assert.Equal(t, 0.0, length)
}

func TestParsePoint(t *testing.T) {
	p, err := ParsePoint("12.9756, 77.6050")
	require.NoError(t, err)
	assert.Equal(t, mgRoad, p)

	for _, bad := range []string{"", "12.9", "a,b", "91,0", "0,181"} {
		_, err := ParsePoint(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

package mapview

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

func TestDefaultIcons_ConcurrentCallersAgree(t *testing.T) {
	var wg sync.WaitGroup
	results := make([]Icons, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = DefaultIcons()
		}(i)
	}
	wg.Wait()

	for _, icons := range results {
		assert.Equal(t, results[0], icons)
	}
	assert.Equal(t, "https://unpkg.com/leaflet@1.9.4/dist/images/marker-icon.png", results[0].IconURL)
	assert.Equal(t, "https://unpkg.com/leaflet@1.9.4/dist/images/marker-icon-2x.png", results[0].IconRetinaURL)
	assert.Equal(t, "https://unpkg.com/leaflet@1.9.4/dist/images/marker-shadow.png", results[0].ShadowURL)
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, TileURL, s.TileURL)
	assert.Equal(t, 15, s.HeatMapZoom)
	assert.Equal(t, 14, s.NavigatorZoom)
	assert.Equal(t, HeatOptions{Radius: 25, Blur: 15, MaxZoom: 17}, s.Heat)

	require.Len(t, s.Markers, 3)
	assert.Equal(t, "red", s.Markers["high"].Color)
	assert.Equal(t, "orange", s.Markers["medium"].Color)
	assert.Equal(t, "yellow", s.Markers["low"].FillColor)
	assert.Equal(t, 6, s.Markers["low"].Radius)
	assert.Equal(t, 0.7, s.Markers["low"].FillOpacity)
}

func TestHeatPoints(t *testing.T) {
	records := []defect.Record{
		{Position: geo.Point{Latitude: 1, Longitude: 2}, Severity: defect.High},
		{Position: geo.Point{Latitude: 3, Longitude: 4}, Severity: defect.Medium},
		{Position: geo.Point{Latitude: 5, Longitude: 6}, Severity: defect.Low},
		{Position: geo.Point{Latitude: 7, Longitude: 8}},
	}

	points := HeatPoints(records)
	require.Len(t, points, 3)
	assert.Equal(t, HeatPoint{Lat: 1, Lng: 2, Weight: 1.0}, points[0])
	assert.Equal(t, 0.6, points[1].Weight)
	assert.Equal(t, 0.3, points[2].Weight)

	assert.NotNil(t, HeatPoints(nil))
	assert.Empty(t, HeatPoints(nil))
}

// Package mapview describes how clients should render defects: the base
// tile layer, heat layer options and per-severity marker styles.
package mapview

import (
	"sync"

	"github.com/roadwatch/defectmap/server/internal/lib/defect"
)

const (
	// TileURL is the OpenStreetMap tile template
	TileURL = "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"

	// Attribution is shown with the tile layer
	Attribution = "&copy; OpenStreetMap contributors"

	HeatMapZoom   = 15
	NavigatorZoom = 14

	markerRadius      = 6
	markerFillOpacity = 0.7

	leafletImageBase = "https://unpkg.com/leaflet@1.9.4/dist/images/"
)

// HeatOptions configures the heat layer
type HeatOptions struct {
	Radius  int `json:"radius"`
	Blur    int `json:"blur"`
	MaxZoom int `json:"max_zoom"`
}

// Icons are the default marker image URLs
type Icons struct {
	IconRetinaURL string `json:"icon_retina_url"`
	IconURL       string `json:"icon_url"`
	ShadowURL     string `json:"shadow_url"`
}

// MarkerStyle is the circle marker drawn for one defect
type MarkerStyle struct {
	Color       string  `json:"color"`
	FillColor   string  `json:"fill_color"`
	Radius      int     `json:"radius"`
	FillOpacity float64 `json:"fill_opacity"`
}

// Settings is everything a client needs to set up its map
type Settings struct {
	TileURL       string                 `json:"tile_url"`
	Attribution   string                 `json:"attribution"`
	HeatMapZoom   int                    `json:"heatmap_zoom"`
	NavigatorZoom int                    `json:"navigator_zoom"`
	Heat          HeatOptions            `json:"heat"`
	Icons         Icons                  `json:"icons"`
	Markers       map[string]MarkerStyle `json:"markers"`
}

var (
	iconsOnce    sync.Once
	defaultIcons Icons
)

// DefaultIcons returns the marker icon URLs. They are resolved once per
// process however many callers race on the first call.
func DefaultIcons() Icons {
	iconsOnce.Do(func() {
		defaultIcons = Icons{
			IconRetinaURL: leafletImageBase + "marker-icon-2x.png",
			IconURL:       leafletImageBase + "marker-icon.png",
			ShadowURL:     leafletImageBase + "marker-shadow.png",
		}
	})
	return defaultIcons
}

// DefaultHeatOptions are the heat layer options
func DefaultHeatOptions() HeatOptions {
	return HeatOptions{Radius: 25, Blur: 15, MaxZoom: 17}
}

// Marker returns the marker style for a severity
func Marker(s defect.Severity) MarkerStyle {
	color := s.MarkerColor()
	return MarkerStyle{
		Color:       color,
		FillColor:   color,
		Radius:      markerRadius,
		FillOpacity: markerFillOpacity,
	}
}

// DefaultSettings assembles the map settings
func DefaultSettings() Settings {
	markers := make(map[string]MarkerStyle, len(defect.Severities))
	for _, s := range defect.Severities {
		markers[s.String()] = Marker(s)
	}
	return Settings{
		TileURL:       TileURL,
		Attribution:   Attribution,
		HeatMapZoom:   HeatMapZoom,
		NavigatorZoom: NavigatorZoom,
		Heat:          DefaultHeatOptions(),
		Icons:         DefaultIcons(),
		Markers:       markers,
	}
}

// HeatPoint is one weighted point of the heat layer
type HeatPoint struct {
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
	Weight float64 `json:"weight"`
}

// HeatPoints weights each record by severity
func HeatPoints(records []defect.Record) []HeatPoint {
	points := make([]HeatPoint, 0, len(records))
	for _, r := range records {
		if !r.Severity.Valid() {
			continue
		}
		points = append(points, HeatPoint{
			Lat:    r.Position.Latitude,
			Lng:    r.Position.Longitude,
			Weight: r.Severity.HeatWeight(),
		})
	}
	return points
}

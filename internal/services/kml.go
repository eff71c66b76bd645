package services

import (
	"fmt"
	"image/color"
	"io"

	"github.com/twpayne/go-kml/v2"

	"github.com/roadwatch/defectmap/server/internal/lib/advisory"
	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

// KML colors are written aabbggrr by the encoder from these RGBA values
var kmlColors = map[string]color.RGBA{
	"red":    {R: 0xff, G: 0x00, B: 0x00, A: 0xff},
	"orange": {R: 0xff, G: 0xa5, B: 0x00, A: 0xff},
	"yellow": {R: 0xff, G: 0xff, B: 0x00, A: 0xff},
}

var routeColor = color.RGBA{R: 0x33, G: 0x88, B: 0xff, A: 0xff}

func severityStyleID(s defect.Severity) string {
	return "defect-" + s.String()
}

func kmlCoordinates(points []geo.Point) []kml.Coordinate {
	coords := make([]kml.Coordinate, len(points))
	for i, p := range points {
		coords[i] = kml.Coordinate{Lon: p.Longitude, Lat: p.Latitude}
	}
	return coords
}

// WriteReportKML writes the route and its defects as a KML document
func WriteReportKML(w io.Writer, name string, report *advisory.Report) error {
	if report == nil {
		return fmt.Errorf("no report to export")
	}

	var children []kml.Element
	children = append(children,
		kml.Name(name),
		kml.Description(fmt.Sprintf("%s: %d defects (high %d, medium %d, low %d) under the %s policy",
			report.Display.Label,
			report.Result.TotalCount,
			report.Result.CountsBySeverity[defect.High],
			report.Result.CountsBySeverity[defect.Medium],
			report.Result.CountsBySeverity[defect.Low],
			report.Result.Policy)),
		kml.SharedStyle("route",
			kml.LineStyle(
				kml.Color(routeColor),
				kml.Width(4),
			),
		),
	)

	for _, s := range defect.Severities {
		children = append(children, kml.SharedStyle(severityStyleID(s),
			kml.IconStyle(
				kml.Color(kmlColors[s.MarkerColor()]),
			),
		))
	}

	if len(report.Route.Points) >= 2 {
		routeName := "Route"
		if report.Summary != "" {
			routeName = report.Summary
		}
		children = append(children, kml.Placemark(
			kml.Name(routeName),
			kml.StyleURL("#route"),
			kml.LineString(
				kml.Coordinates(kmlCoordinates(report.Route.Points)...),
			),
		))
	}

	for _, d := range report.Defects {
		children = append(children, kml.Placemark(
			kml.Name(d.Severity.String()),
			kml.Description(fmt.Sprintf("%.0f m from route", d.DistanceToRoute)),
			kml.StyleURL("#"+severityStyleID(d.Severity)),
			kml.Point(
				kml.Coordinates(kml.Coordinate{Lon: d.Position.Longitude, Lat: d.Position.Latitude}),
			),
		))
	}

	doc := kml.KML(kml.Document(children...))
	if err := doc.WriteIndent(w, "", "  "); err != nil {
		return fmt.Errorf("failed to write KML: %w", err)
	}
	return nil
}

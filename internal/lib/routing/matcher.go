package routing

import (
	"context"
	"errors"
	"sort"

	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

// corridorMatcher implements the CorridorMatcher interface
type corridorMatcher struct {
	geoUtils        geo.GeoUtils
	nearbyThreshold float64 // meters beyond the buffer still reported as nearby
}

// NewCorridorMatcher creates a new CorridorMatcher implementation
func NewCorridorMatcher() CorridorMatcher {
	return &corridorMatcher{
		geoUtils:        geo.NewGeoUtils(),
		nearbyThreshold: 100.0,
	}
}

// Classify places a single record against the corridor
func (m *corridorMatcher) Classify(ctx context.Context, record defect.Record, corridor Corridor) (CorridorDefect, error) {
	if len(corridor.Polyline.Points) < 2 {
		return CorridorDefect{}, errors.New("corridor must have at least 2 points")
	}

	distance, err := m.geoUtils.PointToPolyline(record.Position, corridor.Polyline)
	if err != nil {
		return CorridorDefect{}, err
	}

	classification := Distant
	switch {
	case distance <= corridor.BufferMeters:
		classification = OnRoute
	case distance <= corridor.BufferMeters+m.nearbyThreshold:
		classification = Nearby
	}

	return CorridorDefect{
		Record:          record,
		Classification:  classification,
		DistanceToRoute: distance,
		MarkerColor:     record.Severity.MarkerColor(),
	}, nil
}

// Annotate measures every record against the corridor
func (m *corridorMatcher) Annotate(ctx context.Context, records []defect.Record, corridor Corridor) ([]CorridorDefect, error) {
	annotated := make([]CorridorDefect, 0, len(records))

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		classified, err := m.Classify(ctx, record, corridor)
		if err != nil {
			return nil, err
		}
		annotated = append(annotated, classified)
	}

	// Most severe first, then closest to the route
	sort.SliceStable(annotated, func(i, j int) bool {
		if annotated[i].Severity != annotated[j].Severity {
			return annotated[i].Severity > annotated[j].Severity
		}
		return annotated[i].DistanceToRoute < annotated[j].DistanceToRoute
	})

	return annotated, nil
}

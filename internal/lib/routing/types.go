package routing

import (
	"context"

	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

// Classification places a defect relative to a route corridor
type Classification string

const (
	OnRoute Classification = "on_route" // within the query buffer
	Nearby  Classification = "nearby"   // outside the buffer but within the nearby threshold
	Distant Classification = "distant"
)

// Corridor is a routed path and the buffer used to look defects up along it
type Corridor struct {
	Polyline     geo.Polyline `json:"polyline"`
	BufferMeters float64      `json:"buffer_meters"`
}

// CorridorDefect is a defect record annotated against a corridor
type CorridorDefect struct {
	defect.Record
	Classification  Classification `json:"classification"`
	DistanceToRoute float64        `json:"distance_to_route"`
	MarkerColor     string         `json:"marker_color"`
}

// CorridorMatcher annotates defects with their distance to a route
type CorridorMatcher interface {
	// Annotate measures each record against the corridor, closest and most
	// severe first. Records are never dropped.
	Annotate(ctx context.Context, records []defect.Record, corridor Corridor) ([]CorridorDefect, error)

	// Classify places a single record against the corridor
	Classify(ctx context.Context, record defect.Record, corridor Corridor) (CorridorDefect, error)
}

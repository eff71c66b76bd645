package advisory

import (
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/lib/routing"
)

// Report is the complete advisory for one routed corridor: the query that
// was made, the defects found along it, the tally and its presentation.
type Report struct {
	Waypoints       []geo.Point              `json:"waypoints"`
	BufferMeters    float64                  `json:"buffer_meters"`
	Route           geo.Polyline             `json:"route"`
	DistanceMeters  float64                  `json:"distance_meters"`
	DurationSeconds float64                  `json:"duration_seconds"`
	Summary         string                   `json:"summary,omitempty"`
	Defects         []routing.CorridorDefect `json:"defects"`
	Rejected        int                      `json:"rejected"`
	Result          Result                   `json:"result"`
	Display         Display                  `json:"display"`
}

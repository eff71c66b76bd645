package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dpup/prefab/logging"

	"github.com/roadwatch/defectmap/server/internal/clients/defects"
	"github.com/roadwatch/defectmap/server/internal/clients/osrm"
	"github.com/roadwatch/defectmap/server/internal/lib/advisory"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/lib/routing"
	"github.com/roadwatch/defectmap/server/internal/metrics"
)

// ErrInvalidRequest marks caller mistakes, reported as 400
var ErrInvalidRequest = errors.New("invalid request")

// Router computes a road route through waypoints
type Router interface {
	Route(ctx context.Context, waypoints []geo.Point) (*osrm.RouteData, error)
}

// DefectFinder looks defects up from the defect service
type DefectFinder interface {
	FindAlongRoute(ctx context.Context, query defects.RouteQuery) (*defects.Batch, error)
	FindNearby(ctx context.Context, center geo.Point, radiusMeters float64) (*defects.Batch, error)
}

// AdviceRequest asks for an advisory. Either Waypoints is a ready-made path,
// or Origin and Destination are routed first.
type AdviceRequest struct {
	Waypoints    []geo.Point `json:"waypoints,omitempty"`
	Origin       *geo.Point  `json:"origin,omitempty"`
	Destination  *geo.Point  `json:"destination,omitempty"`
	BufferMeters float64     `json:"buffer,omitempty"`
	Policy       string      `json:"policy,omitempty"`
}

// AdvisoryService turns a route into a travel advisory
type AdvisoryService struct {
	router  Router
	finder  DefectFinder
	matcher routing.CorridorMatcher
	policy  advisory.Policy
	buffer  float64
}

// NewAdvisoryService creates a new AdvisoryService
func NewAdvisoryService(router Router, finder DefectFinder, policy advisory.Policy, bufferMeters float64) *AdvisoryService {
	return &AdvisoryService{
		router:  router,
		finder:  finder,
		matcher: routing.NewCorridorMatcher(),
		policy:  policy,
		buffer:  bufferMeters,
	}
}

// Plan routes from start to end and advises on the result. It lets the
// service drive navigator sessions.
func (s *AdvisoryService) Plan(ctx context.Context, start, end geo.Point) (*advisory.Report, error) {
	return s.Advise(ctx, AdviceRequest{Origin: &start, Destination: &end})
}

// Advise looks up the defects along the requested path and classifies them
func (s *AdvisoryService) Advise(ctx context.Context, req AdviceRequest) (*advisory.Report, error) {
	policy := s.policy
	if req.Policy != "" {
		named, err := advisory.PolicyByName(req.Policy)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		policy = named
	}

	buffer := s.buffer
	if req.BufferMeters != 0 {
		if req.BufferMeters < 0 {
			return nil, fmt.Errorf("%w: buffer must be positive", ErrInvalidRequest)
		}
		buffer = req.BufferMeters
	}

	if (req.Origin == nil) != (req.Destination == nil) {
		return nil, fmt.Errorf("%w: origin and destination must be given together", ErrInvalidRequest)
	}

	report := &advisory.Report{BufferMeters: buffer}

	switch {
	case req.Origin != nil && req.Destination != nil:
		if len(req.Waypoints) > 0 {
			return nil, fmt.Errorf("%w: give waypoints or origin and destination, not both", ErrInvalidRequest)
		}
		for _, p := range []geo.Point{*req.Origin, *req.Destination} {
			if !geo.IsValidCoordinate(p) {
				return nil, fmt.Errorf("%w: invalid coordinates %v", ErrInvalidRequest, p)
			}
		}

		route, err := s.router.Route(ctx, []geo.Point{*req.Origin, *req.Destination})
		if err != nil {
			logging.Errorw(ctx, "Advisory: routing failed", "error", err)
			return nil, fmt.Errorf("%w: routing: %w", defects.ErrQueryFailed, err)
		}
		report.Route = route.Polyline
		report.DistanceMeters = route.DistanceMeters
		report.DurationSeconds = route.DurationSeconds
		report.Summary = route.Summary

	case len(req.Waypoints) >= 2:
		report.Route = geo.Polyline{Points: req.Waypoints}
		length, err := geo.NewGeoUtils().PolylineLength(report.Route)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		report.DistanceMeters = length

	default:
		return nil, fmt.Errorf("%w: need at least 2 waypoints or an origin and destination", ErrInvalidRequest)
	}

	query := defects.RouteQuery{Waypoints: report.Route.Points, BufferMeters: buffer}
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	report.Waypoints = query.Waypoints

	batch, err := s.finder.FindAlongRoute(ctx, query)
	if err != nil {
		return nil, err
	}

	annotated, err := s.matcher.Annotate(ctx, batch.Records, routing.Corridor{
		Polyline:     report.Route,
		BufferMeters: buffer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to annotate defects: %w", err)
	}

	report.Defects = annotated
	report.Rejected = len(batch.Rejected)
	report.Result = advisory.Compute(policy, batch.Records)
	report.Display = advisory.Present(report.Result.Verdict)

	metrics.RecordVerdict(report.Result.Verdict.String(), policy.Name)
	logging.Infow(ctx, "Advisory computed",
		"verdict", report.Result.Verdict.String(),
		"policy", policy.Name,
		"total", report.Result.TotalCount,
		"rejected", report.Rejected)

	return report, nil
}

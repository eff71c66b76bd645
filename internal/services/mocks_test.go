package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/roadwatch/defectmap/server/internal/clients/defects"
	"github.com/roadwatch/defectmap/server/internal/clients/osrm"
	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

// MockRouter is a mock implementation of Router
type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) Route(ctx context.Context, waypoints []geo.Point) (*osrm.RouteData, error) {
	args := m.Called(ctx, waypoints)
	route, _ := args.Get(0).(*osrm.RouteData)
	return route, args.Error(1)
}

// MockDefectFinder is a mock implementation of DefectFinder
type MockDefectFinder struct {
	mock.Mock
}

func (m *MockDefectFinder) FindAlongRoute(ctx context.Context, query defects.RouteQuery) (*defects.Batch, error) {
	args := m.Called(ctx, query)
	batch, _ := args.Get(0).(*defects.Batch)
	return batch, args.Error(1)
}

func (m *MockDefectFinder) FindNearby(ctx context.Context, center geo.Point, radiusMeters float64) (*defects.Batch, error) {
	args := m.Called(ctx, center, radiusMeters)
	batch, _ := args.Get(0).(*defects.Batch)
	return batch, args.Error(1)
}

// MockLocator is a mock implementation of ipgeo.Locator
type MockLocator struct {
	mock.Mock
}

func (m *MockLocator) Locate(ctx context.Context, clientIP string) (geo.Point, error) {
	args := m.Called(ctx, clientIP)
	return args.Get(0).(geo.Point), args.Error(1)
}

var (
	cubbonPark = geo.Point{Latitude: 12.9763, Longitude: 77.5929}
	mgRoadEast = geo.Point{Latitude: 12.9756, Longitude: 77.6152}
	mgRoadMid  = geo.Point{Latitude: 12.9756, Longitude: 77.6050}
)

// testRoute runs along MG Road
var testRoute = &osrm.RouteData{
	DistanceMeters:  2440.5,
	DurationSeconds: 410.2,
	Summary:         "Mahatma Gandhi Road",
	Polyline: geo.Polyline{
		Points: []geo.Point{cubbonPark, mgRoadMid, mgRoadEast},
	},
}

func onRoute(lng float64, s defect.Severity) defect.Record {
	return defect.Record{Position: geo.Point{Latitude: 12.9756, Longitude: lng}, Severity: s}
}

func batchOf(records ...defect.Record) *defects.Batch {
	if records == nil {
		records = []defect.Record{}
	}
	return &defects.Batch{Records: records}
}

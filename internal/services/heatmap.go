package services

import (
	"context"
	"fmt"
	"time"

	"github.com/dpup/prefab/logging"
	"golang.org/x/sync/singleflight"

	"github.com/roadwatch/defectmap/server/internal/cache"
	"github.com/roadwatch/defectmap/server/internal/clients/ipgeo"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/lib/mapview"
)

// HeatMap is the weighted defect density around a point
type HeatMap struct {
	Center       geo.Point           `json:"center"`
	RadiusMeters float64             `json:"radius_meters"`
	Zoom         int                 `json:"zoom"`
	Points       []mapview.HeatPoint `json:"points"`
	Rejected     int                 `json:"rejected"`
	FetchedAt    time.Time           `json:"fetched_at"`
}

// HeatMapService serves heat maps around a caller's position
type HeatMapService struct {
	finder  DefectFinder
	locator ipgeo.Locator
	cache   *cache.Cache
	ttl     time.Duration
	radius  float64
	group   singleflight.Group
}

// NewHeatMapService creates a new HeatMapService
func NewHeatMapService(finder DefectFinder, locator ipgeo.Locator, c *cache.Cache, ttl time.Duration, defaultRadius float64) *HeatMapService {
	return &HeatMapService{
		finder:  finder,
		locator: locator,
		cache:   c,
		ttl:     ttl,
		radius:  defaultRadius,
	}
}

// Locate resolves the caller's position
func (s *HeatMapService) Locate(ctx context.Context, clientIP string) (geo.Point, error) {
	point, err := s.locator.Locate(ctx, clientIP)
	if err != nil {
		logging.Warnw(ctx, "HeatMap: location unavailable", "client_ip", clientIP, "error", err)
		return geo.Point{}, err
	}
	return point, nil
}

// Nearby returns the heat map around center, or around the caller when
// center is nil. Identical concurrent lookups share one upstream request,
// which keeps running for the others when one caller gives up.
func (s *HeatMapService) Nearby(ctx context.Context, center *geo.Point, radiusMeters float64, clientIP string) (*HeatMap, error) {
	if radiusMeters == 0 {
		radiusMeters = s.radius
	}
	if radiusMeters < 0 {
		return nil, fmt.Errorf("%w: radius must be positive", ErrInvalidRequest)
	}

	var position geo.Point
	if center != nil {
		if !geo.IsValidCoordinate(*center) {
			return nil, fmt.Errorf("%w: invalid coordinates %v", ErrInvalidRequest, *center)
		}
		position = *center
	} else {
		located, err := s.Locate(ctx, clientIP)
		if err != nil {
			return nil, err
		}
		position = located
	}

	key := cache.NearbyKey(position, radiusMeters)

	var cached HeatMap
	if found, err := s.cache.Get(key, &cached); err != nil {
		logging.Warnw(ctx, "HeatMap: dropping unreadable cache entry", "key", key, "error", err)
		s.cache.Delete(key)
	} else if found {
		return &cached, nil
	}

	// Shared by every caller waiting on key, so it is detached from this
	// caller's cancellation. The defect client's query timeout bounds it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		batch, err := s.finder.FindNearby(shared, position, radiusMeters)
		if err != nil {
			return nil, err
		}

		heatMap := &HeatMap{
			Center:       position,
			RadiusMeters: radiusMeters,
			Zoom:         mapview.HeatMapZoom,
			Points:       mapview.HeatPoints(batch.Records),
			Rejected:     len(batch.Rejected),
			FetchedAt:    time.Now().UTC(),
		}

		if s.ttl > 0 {
			if err := s.cache.Set(key, heatMap, s.ttl, "nearby"); err != nil {
				logging.Warnw(shared, "HeatMap: failed to cache", "key", key, "error", err)
			}
		}
		return heatMap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logging.Infow(ctx, "HeatMap: shared in-flight lookup", "key", key)
		}
		return res.Val.(*HeatMap), nil
	}
}

package services

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dpup/prefab/errors"
	"github.com/dpup/prefab/logging"

	"github.com/roadwatch/defectmap/server/internal/cache"
	"github.com/roadwatch/defectmap/server/internal/metrics"
	"github.com/roadwatch/defectmap/server/internal/navigator"
)

// SweeperService periodically drops expired navigator sessions and stale
// heat map cache entries
type SweeperService struct {
	navigator *navigator.Navigator
	cache     *cache.Cache

	mu       sync.Mutex
	stopChan chan struct{}
	running  bool
}

// NewSweeperService creates a new sweeper
func NewSweeperService(nav *navigator.Navigator, c *cache.Cache) *SweeperService {
	return &SweeperService{
		navigator: nav,
		cache:     c,
	}
}

// Start begins sweeping every interval until ctx is done or Stop is called
func (s *SweeperService) Start(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	ctx = logging.EnsureLogger(ctx)

	logging.Infow(ctx, "Sweeper: starting", "interval", interval.String())
	go s.loop(ctx, interval, s.stopChan)
}

// Stop ends the sweep loop
func (s *SweeperService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopChan)
}

// IsRunning returns whether the sweep loop is active
func (s *SweeperService) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SweeperService) loop(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	defer func() {
		if r := recover(); r != nil {
			err, _ := errors.ParseStack(debug.Stack())
			skipFrames := 3
			numFrames := 5
			logging.Errorw(ctx, "Sweeper: recovered from panic",
				"error", r, "error.stack_trace", err.MinimalStack(skipFrames, numFrames))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepResult describes one sweep
type SweepResult struct {
	Sessions     int
	CacheEntries int
	// Cache is the cache population before stale entries were removed
	Cache cache.CacheStats
}

// SweepOnce runs a single sweep and reports what was removed
func (s *SweeperService) SweepOnce(ctx context.Context) SweepResult {
	result := SweepResult{Sessions: s.navigator.Sweep()}

	result.Cache = s.cache.Stats()
	metrics.SetCacheEntries(result.Cache.FreshEntries, result.Cache.StaleEntries)
	result.CacheEntries = s.cache.CleanupStale()

	if result.Sessions > 0 || result.CacheEntries > 0 {
		logging.Infow(ctx, "Sweeper: removed expired state",
			"sessions", result.Sessions,
			"cache_entries", result.CacheEntries,
			"cache_fresh", result.Cache.FreshEntries)
	}
	return result
}

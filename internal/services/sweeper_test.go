package services

import (
	"context"
	"testing"
	"time"

	"github.com/dpup/prefab/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadwatch/defectmap/server/internal/cache"
	"github.com/roadwatch/defectmap/server/internal/lib/advisory"
	"github.com/roadwatch/defectmap/server/internal/navigator"
)

func idlePlanner() *AdvisoryService {
	return NewAdvisoryService(&MockRouter{}, &MockDefectFinder{}, advisory.HighTierPolicy, 20)
}

func TestSweeper_SweepOnce(t *testing.T) {
	c := cache.NewCache()
	require.NoError(t, c.Set("expired", 1, -time.Second, "test"))
	require.NoError(t, c.Set("fresh", 2, time.Hour, "test"))

	nav := navigator.New(idlePlanner(), navigator.Options{SessionTTL: time.Nanosecond})
	nav.Create(logging.EnsureLogger(t.Context()))
	time.Sleep(time.Millisecond)

	sweeper := NewSweeperService(nav, c)
	result := sweeper.SweepOnce(logging.EnsureLogger(t.Context()))
	assert.Equal(t, 1, result.Sessions)
	assert.Equal(t, 1, result.CacheEntries)
	assert.Equal(t, 1, result.Cache.FreshEntries)
	assert.Equal(t, 1, result.Cache.StaleEntries)
	assert.Equal(t, 0, nav.Len())
	assert.Equal(t, 1, c.Stats().TotalEntries)
}

func TestSweeper_StartStop(t *testing.T) {
	c := cache.NewCache()
	require.NoError(t, c.Set("expired", 1, -time.Second, "test"))
	nav := navigator.New(idlePlanner(), navigator.Options{SessionTTL: time.Hour})

	sweeper := NewSweeperService(nav, c)
	sweeper.Start(logging.EnsureLogger(t.Context()), 5*time.Millisecond)
	sweeper.Start(logging.EnsureLogger(t.Context()), 5*time.Millisecond)
	assert.True(t, sweeper.IsRunning())

	assert.Eventually(t, func() bool {
		return c.Stats().TotalEntries == 0
	}, time.Second, 5*time.Millisecond)

	sweeper.Stop()
	sweeper.Stop()
	assert.False(t, sweeper.IsRunning())
}

func TestSweeper_StartsFromBareContext(t *testing.T) {
	nav := navigator.New(idlePlanner(), navigator.Options{SessionTTL: time.Hour})
	sweeper := NewSweeperService(nav, cache.NewCache())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	assert.NotPanics(t, func() {
		sweeper.Start(ctx, time.Millisecond)
		sweeper.SweepOnce(logging.EnsureLogger(ctx))
	})
	time.Sleep(5 * time.Millisecond)
	sweeper.Stop()
}

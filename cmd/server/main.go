package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/dpup/prefab"
	"github.com/dpup/prefab/logging"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/roadwatch/defectmap/server/internal/cache"
	"github.com/roadwatch/defectmap/server/internal/clients/defects"
	"github.com/roadwatch/defectmap/server/internal/clients/ipgeo"
	"github.com/roadwatch/defectmap/server/internal/clients/osrm"
	"github.com/roadwatch/defectmap/server/internal/config"
	"github.com/roadwatch/defectmap/server/internal/lib/mapview"
	"github.com/roadwatch/defectmap/server/internal/metrics"
	"github.com/roadwatch/defectmap/server/internal/navigator"
	"github.com/roadwatch/defectmap/server/internal/services"
)

const sweepInterval = time.Minute

func main() {
	// Load configuration using Prefab's config system
	appConfig := loadConfig()

	policy, err := appConfig.AdvisoryPolicy()
	if err != nil {
		log.Fatalf("Invalid advisory policy: %v", err)
	}

	cacheInstance := cache.NewCache()

	// Initialize external API clients
	defectsClient := defects.NewClient(appConfig.Defects.BaseURL, appConfig.Defects.QueryTimeout)
	osrmClient := osrm.NewClient(appConfig.Routing.BaseURL, appConfig.Routing.Profile, appConfig.Defects.QueryTimeout)

	var locator ipgeo.Locator
	if appConfig.Location.Fixed != nil {
		locator = ipgeo.Fixed{Point: appConfig.Location.Fixed.Point()}
		log.Printf("Using fixed location %v", *appConfig.Location.Fixed)
	} else {
		locator = ipgeo.NewClient(appConfig.Location.BaseURL, appConfig.Defects.QueryTimeout)
	}

	advisoryService := services.NewAdvisoryService(osrmClient, defectsClient, policy, appConfig.Defects.BufferMeters)
	heatMapService := services.NewHeatMapService(defectsClient, locator, cacheInstance,
		appConfig.HeatMap.CacheTTL, appConfig.HeatMap.RadiusMeters)

	// A navigator lookup is a route query followed by a defect query
	nav := navigator.New(advisoryService, navigator.Options{
		SessionTTL:    appConfig.Navigator.SessionTTL,
		LookupTimeout: 2 * appConfig.Defects.QueryTimeout,
		Classify:      services.ErrorKind,
	})

	sweeper := services.NewSweeperService(nav, cacheInstance)
	sweeper.Start(logging.EnsureLogger(context.Background()), sweepInterval)
	defer sweeper.Stop()

	// Resolve marker icons before the first map view is served
	icons := mapview.DefaultIcons()

	log.Printf("Road defect advisory server starting")
	log.Printf("Defect service: %s (buffer %.0fm, timeout %v)",
		appConfig.Defects.BaseURL, appConfig.Defects.BufferMeters, appConfig.Defects.QueryTimeout)
	log.Printf("Routing engine: %s", appConfig.Routing.BaseURL)
	log.Printf("Advisory policy: %s (tier %s, thresholds %d/%d)",
		policy.Name, policy.DesignatedTier, policy.LowerThreshold, policy.UpperThreshold)
	log.Printf("Marker icons: %s", icons.IconURL)

	handlers := services.NewHTTPHandlers(advisoryService, heatMapService, nav)

	// Server configuration (port, etc.) will be loaded from prefab.yaml/env vars
	server := prefab.New(
		prefab.WithGRPCReflection(),
		prefab.WithHTTPHandlerFunc("/", homepageHandler),
		prefab.WithHTTPHandlerFunc(services.MapPath, handlers.Map),
		prefab.WithHTTPHandlerFunc(services.HeatMapPath, handlers.HeatMap),
		prefab.WithHTTPHandlerFunc(services.AdvisoryPath, handlers.Advisory),
		prefab.WithHTTPHandlerFunc(services.SessionsPath, handlers.Sessions),
		prefab.WithHTTPHandlerFunc(services.SessionsPath+"/", handlers.Session),
		prefab.WithHTTPHandlerFunc("/metrics", metrics.Handler()),
	)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server.ServiceRegistrar(), healthServer)

	// Start the server (blocks until shutdown)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// loadConfig overlays prefab.yaml and PF__ environment variables on the
// defaults, one section at a time
func loadConfig() *config.Config {
	appConfig := config.DefaultConfig()

	sections := []struct {
		key    string
		target interface{}
	}{
		{"defects", &appConfig.Defects},
		{"routing", &appConfig.Routing},
		{"location", &appConfig.Location},
		{"advisory", &appConfig.Advisory},
		{"heatmap", &appConfig.HeatMap},
		{"navigator", &appConfig.Navigator},
	}
	for _, section := range sections {
		if err := prefab.Config.Unmarshal(section.key, section.target); err != nil {
			log.Fatalf("Failed to unmarshal %s section: %v", section.key, err)
		}
	}

	if err := appConfig.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	return appConfig
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	// Only handle the root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>defectmap</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">defectmap</span>

Route advisories from crowd-reported road defects.

<span class="header">API Endpoints:</span>

Map:
  <a href="/api/v1/map">GET  /api/v1/map</a>                                  - Tile layer, heat options and marker styles
  <a href="/api/v1/heatmap">GET  /api/v1/heatmap?lat=&amp;lng=&amp;radius=</a>         - Weighted defects near a point (or near you)

Advisory:
  POST /api/v1/advisory                             - {"waypoints":[...]} or {"origin":{...},"destination":{...}}

Navigator:
  POST   /api/v1/navigator/sessions                 - Start a session
  GET    /api/v1/navigator/sessions/{id}            - Current state
  POST   /api/v1/navigator/sessions/{id}/clicks     - {"lat":..,"lng":..}
  POST   /api/v1/navigator/sessions/{id}/refresh    - Re-run the route lookup
  GET    /api/v1/navigator/sessions/{id}/route.kml  - Export route and defects
  DELETE /api/v1/navigator/sessions/{id}            - End the session

<span class="header">Verdicts:</span>
  Safe to Travel, Proceed with Caution, Not Advisable

<a href="/metrics">/metrics</a>
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/roadwatch/defectmap/server/internal/cache"
	"github.com/roadwatch/defectmap/server/internal/clients/defects"
	"github.com/roadwatch/defectmap/server/internal/clients/ipgeo"
	"github.com/roadwatch/defectmap/server/internal/clients/osrm"
	"github.com/roadwatch/defectmap/server/internal/config"
	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/services"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "route":
		handleRoute()
	case "nearby":
		handleNearby()
	case "linestring":
		handleLineString()
	case "help":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

// serviceFlags are shared by the commands that talk to upstream services
type serviceFlags struct {
	defectsURL *string
	routingURL *string
	timeout    *time.Duration
}

func addServiceFlags(fs *flag.FlagSet) serviceFlags {
	defaults := config.DefaultConfig()
	return serviceFlags{
		defectsURL: fs.String("defects-url", defaults.Defects.BaseURL, "Defect lookup service base URL"),
		routingURL: fs.String("routing-url", defaults.Routing.BaseURL, "OSRM base URL"),
		timeout:    fs.Duration("timeout", defaults.Defects.QueryTimeout, "Per-query timeout"),
	}
}

func handleRoute() {
	fs := flag.NewFlagSet("route", flag.ExitOnError)
	from := fs.String("from", "", "Origin as lat,lng")
	to := fs.String("to", "", "Destination as lat,lng")
	buffer := fs.Float64("buffer", defects.DefaultBufferMeters, "Corridor buffer in meters")
	policyName := fs.String("policy", "high", "Advisory policy (high or medium)")
	svc := addServiceFlags(fs)

	fs.Parse(os.Args[2:])

	if *from == "" || *to == "" {
		fmt.Println("Example usage:")
		fmt.Println("  advise route --from 12.9763,77.5929 --to 12.9756,77.6152")
		fmt.Println("  advise route --from 12.9763,77.5929 --to 12.9756,77.6152 --policy medium --buffer 30")
		os.Exit(1)
	}

	origin, err := geo.ParsePoint(*from)
	if err != nil {
		log.Fatalf("Invalid --from: %v", err)
	}
	destination, err := geo.ParsePoint(*to)
	if err != nil {
		log.Fatalf("Invalid --to: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Advisory.Policy = *policyName
	policy, err := cfg.AdvisoryPolicy()
	if err != nil {
		log.Fatalf("Invalid --policy: %v", err)
	}

	advisoryService := services.NewAdvisoryService(
		osrm.NewClient(*svc.routingURL, cfg.Routing.Profile, *svc.timeout),
		defects.NewClient(*svc.defectsURL, *svc.timeout),
		policy, *buffer)

	ctx, cancel := context.WithTimeout(logging.EnsureLogger(context.Background()), 2**svc.timeout)
	defer cancel()

	report, err := advisoryService.Advise(ctx, services.AdviceRequest{Origin: &origin, Destination: &destination})
	if err != nil {
		log.Fatalf("Advisory failed (%s): %v", services.ErrorKind(err), err)
	}

	fmt.Printf("%s: %d defects along %.1f km (high %d, medium %d, low %d)\n",
		report.Display.Label, report.Result.TotalCount, report.DistanceMeters/1000,
		report.Result.CountsBySeverity[defect.High],
		report.Result.CountsBySeverity[defect.Medium],
		report.Result.CountsBySeverity[defect.Low])
	printJSON(report)
}

func handleNearby() {
	fs := flag.NewFlagSet("nearby", flag.ExitOnError)
	at := fs.String("at", "", "Center as lat,lng (omit to geolocate this machine)")
	radius := fs.Float64("radius", 3000, "Search radius in meters")
	locationURL := fs.String("location-url", config.DefaultConfig().Location.BaseURL, "IP geolocation base URL")
	svc := addServiceFlags(fs)

	fs.Parse(os.Args[2:])

	var center *geo.Point
	if *at != "" {
		p, err := geo.ParsePoint(*at)
		if err != nil {
			log.Fatalf("Invalid --at: %v", err)
		}
		center = &p
	}

	heatMapService := services.NewHeatMapService(
		defects.NewClient(*svc.defectsURL, *svc.timeout),
		ipgeo.NewClient(*locationURL, *svc.timeout),
		cache.NewCache(), 0, *radius)

	ctx, cancel := context.WithTimeout(logging.EnsureLogger(context.Background()), 2**svc.timeout)
	defer cancel()

	// An empty IP asks the lookup service for the caller's own address
	heatMap, err := heatMapService.Nearby(ctx, center, *radius, "")
	if err != nil {
		log.Fatalf("Nearby lookup failed (%s): %v", services.ErrorKind(err), err)
	}

	fmt.Printf("%d defects within %.0fm of %.5f,%.5f\n",
		len(heatMap.Points), heatMap.RadiusMeters, heatMap.Center.Latitude, heatMap.Center.Longitude)
	printJSON(heatMap)
}

func handleLineString() {
	fs := flag.NewFlagSet("linestring", flag.ExitOnError)
	points := fs.String("points", "", "Waypoints as lat,lng;lat,lng;...")

	fs.Parse(os.Args[2:])

	if *points == "" {
		fmt.Println("Example usage:")
		fmt.Println("  advise linestring --points '12.9716,77.5946;12.9756,77.6152'")
		os.Exit(1)
	}

	var waypoints []geo.Point
	for _, raw := range strings.Split(*points, ";") {
		p, err := geo.ParsePoint(raw)
		if err != nil {
			log.Fatalf("Invalid waypoint %q: %v", raw, err)
		}
		waypoints = append(waypoints, p)
	}

	ls, err := defects.FormatLineString(waypoints)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println(ls)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("Error encoding output: %v", err)
	}
}

func printUsage() {
	fmt.Println("advise - query road defects and route advisories from the command line")
	fmt.Println("")
	fmt.Println("Usage:")
	fmt.Println("  advise <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  route       Route between two points and print the advisory")
	fmt.Println("  nearby      Print weighted defects around a point")
	fmt.Println("  linestring  Print the LINESTRING sent to the defect service")
	fmt.Println("  help        Show this message")
}

package osrm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/metrics"
)

// HTTPDoer executes HTTP requests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client provides access to an OSRM routing server
type Client struct {
	baseURL    string
	profile    string
	timeout    time.Duration
	httpClient HTTPDoer
	geoUtils   geo.GeoUtils
}

// RouteData represents the processed route returned by OSRM
type RouteData struct {
	DurationSeconds float64      `json:"duration_seconds"`
	DistanceMeters  float64      `json:"distance_meters"`
	Polyline        geo.Polyline `json:"polyline"`
	Summary         string       `json:"summary,omitempty"`
}

// NewClient creates a new OSRM client. Each route query is bounded by
// timeout; zero leaves only the caller's deadline.
func NewClient(baseURL, profile string, timeout time.Duration) *Client {
	return NewClientWithHTTPDoer(baseURL, profile, timeout, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom HTTP implementation
func NewClientWithHTTPDoer(baseURL, profile string, timeout time.Duration, doer HTTPDoer) *Client {
	if profile == "" {
		profile = "driving"
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		profile:    profile,
		timeout:    timeout,
		httpClient: doer,
		geoUtils:   geo.NewGeoUtils(),
	}
}

// Route computes the driving route through the waypoints in order
func (c *Client) Route(ctx context.Context, waypoints []geo.Point) (*RouteData, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("route needs at least 2 waypoints, got %d", len(waypoints))
	}

	// OSRM expects "lng,lat;lng,lat"
	coords := make([]string, len(waypoints))
	for i, p := range waypoints {
		if !geo.IsValidCoordinate(p) {
			return nil, fmt.Errorf("waypoint %d has invalid coordinates", i)
		}
		coords[i] = strconv.FormatFloat(p.Longitude, 'f', 6, 64) + "," + strconv.FormatFloat(p.Latitude, 'f', 6, 64)
	}

	requestURL := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=polyline&steps=false",
		c.baseURL, c.profile, strings.Join(coords, ";"))

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	route, err := c.execute(req)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	metrics.ObserveQuery("osrm_route", outcome, time.Since(start))

	return route, err
}

func (c *Client) execute(req *http.Request) (*RouteData, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit exceeded")
	}

	// OSRM reports routing failures (NoRoute, InvalidQuery) as 400 with a JSON
	// body carrying the code, so decode before looking at the status.
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var response OSRMRouteResponse
	if err := json.Unmarshal(body, &response); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Code != "Ok" {
		return nil, fmt.Errorf("routing failed: %s: %s", response.Code, response.Message)
	}

	if len(response.Routes) == 0 {
		return nil, fmt.Errorf("no routes found in response")
	}

	return c.processRouteResponse(response.Routes[0])
}

// processRouteResponse converts the first OSRM route into RouteData
func (c *Client) processRouteResponse(route OSRMRoute) (*RouteData, error) {
	points, err := c.geoUtils.DecodePolyline(route.Geometry)
	if err != nil {
		return nil, fmt.Errorf("failed to decode route geometry: %w", err)
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("route geometry has %d points", len(points))
	}

	var summaries []string
	for _, leg := range route.Legs {
		if leg.Summary != "" {
			summaries = append(summaries, leg.Summary)
		}
	}

	return &RouteData{
		DurationSeconds: route.Duration,
		DistanceMeters:  route.Distance,
		Polyline: geo.Polyline{
			EncodedPolyline: route.Geometry,
			Points:          points,
		},
		Summary: strings.Join(summaries, "; "),
	}, nil
}

// OSRMRouteResponse represents the /route/v1 response structure
type OSRMRouteResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Routes  []OSRMRoute `json:"routes"`
}

// OSRMRoute represents a single route in the response
type OSRMRoute struct {
	Geometry string    `json:"geometry"`
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Legs     []OSRMLeg `json:"legs"`
}

// OSRMLeg represents the part of a route between two waypoints
type OSRMLeg struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Summary  string  `json:"summary"`
}

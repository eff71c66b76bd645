package defects

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dpup/prefab/logging"

	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/metrics"
)

// DefaultBufferMeters is the corridor radius searched around a route
const DefaultBufferMeters = 20.0

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 16 << 20

var (
	// ErrQueryFailed covers transport failures, timeouts and non-2xx responses.
	// It is distinct from a successful query that found no defects.
	ErrQueryFailed = errors.New("defect query failed")

	// ErrMalformedResponse means the body was not a JSON array of defect records
	ErrMalformedResponse = errors.New("malformed defect response")
)

// HTTPDoer executes HTTP requests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to the defect lookup service
type Client struct {
	baseURL    string
	httpClient HTTPDoer
	timeout    time.Duration
}

// RouteQuery asks for every defect inside the buffered corridor around a path
type RouteQuery struct {
	Waypoints    []geo.Point `json:"waypoints"`
	BufferMeters float64     `json:"buffer_meters"`
}

// Validate checks the query has a start and end point
func (q RouteQuery) Validate() error {
	if len(q.Waypoints) < 2 {
		return fmt.Errorf("route query needs at least 2 waypoints, got %d", len(q.Waypoints))
	}
	for i, p := range q.Waypoints {
		if !geo.IsValidCoordinate(p) {
			return fmt.Errorf("waypoint %d has invalid coordinates", i)
		}
	}
	if q.BufferMeters <= 0 {
		return fmt.Errorf("buffer must be positive, got %v", q.BufferMeters)
	}
	return nil
}

// Batch is the parsed result of a successful lookup
type Batch struct {
	Records  []defect.Record    `json:"records"`
	Rejected []defect.Rejection `json:"rejected,omitempty"`
}

// NewClient creates a defect lookup client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// NewClientWithHTTPDoer creates a client with a custom HTTP implementation
func NewClientWithHTTPDoer(baseURL string, timeout time.Duration, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: doer,
	}
}

// FormatLineString renders waypoints as a WKT LINESTRING of "lng lat" pairs
func FormatLineString(waypoints []geo.Point) (string, error) {
	if len(waypoints) < 2 {
		return "", fmt.Errorf("a line string needs at least 2 points, got %d", len(waypoints))
	}

	pairs := make([]string, len(waypoints))
	for i, p := range waypoints {
		pairs[i] = formatCoord(p.Longitude) + " " + formatCoord(p.Latitude)
	}
	return "LINESTRING(" + strings.Join(pairs, ", ") + ")", nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// routeRequest is the body of POST /route
type routeRequest struct {
	Route  string  `json:"route"`
	Buffer float64 `json:"buffer"`
}

// FindAlongRoute returns the defects inside the corridor around the query path
func (c *Client) FindAlongRoute(ctx context.Context, query RouteQuery) (*Batch, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	lineString, err := FormatLineString(query.Waypoints)
	if err != nil {
		return nil, err
	}

	jsonBody, err := json.Marshal(routeRequest{Route: lineString, Buffer: query.BufferMeters})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/route", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(ctx, "route", req)
}

// FindNearby returns the defects within radius meters of center
func (c *Client) FindNearby(ctx context.Context, center geo.Point, radiusMeters float64) (*Batch, error) {
	if !geo.IsValidCoordinate(center) {
		return nil, errors.New("invalid center point coordinates")
	}
	if radiusMeters <= 0 {
		return nil, fmt.Errorf("radius must be positive, got %v", radiusMeters)
	}

	params := url.Values{}
	params.Set("lat", fmt.Sprintf("%.6f", center.Latitude))
	params.Set("lng", fmt.Sprintf("%.6f", center.Longitude))
	params.Set("radius", formatCoord(radiusMeters))

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/nearby?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(ctx, "nearby", req)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// do executes the request and parses the defect array
func (c *Client) do(ctx context.Context, endpoint string, req *http.Request) (*Batch, error) {
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveQuery("defects_"+endpoint, metrics.OutcomeFailed, time.Since(start))
		return nil, fmt.Errorf("%w: %s: %w", ErrQueryFailed, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.ObserveQuery("defects_"+endpoint, metrics.OutcomeFailed, time.Since(start))
		return nil, fmt.Errorf("%w: %s: failed to read response: %w", ErrQueryFailed, endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.ObserveQuery("defects_"+endpoint, metrics.OutcomeFailed, time.Since(start))
		return nil, fmt.Errorf("%w: %s: API error %d: %s", ErrQueryFailed, endpoint, resp.StatusCode, truncate(body, 200))
	}

	wire, err := decodeRecords(body)
	if err != nil {
		metrics.ObserveQuery("defects_"+endpoint, metrics.OutcomeMalformed, time.Since(start))
		logging.Errorw(ctx, "Defect service returned a malformed response",
			"kind", "malformed_response", "endpoint", endpoint, "error", err, "body", truncate(body, 200))
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedResponse, endpoint, err)
	}

	records, rejected := defect.FromWire(wire)
	for _, r := range rejected {
		logging.Warnw(ctx, "Rejected defect record",
			"kind", "invalid_severity", "endpoint", endpoint, "index", r.Index, "severity", r.Record.Severity, "reason", r.Reason)
	}
	metrics.RecordRejected(endpoint, len(rejected))
	metrics.ObserveQuery("defects_"+endpoint, metrics.OutcomeOK, time.Since(start))

	return &Batch{Records: records, Rejected: rejected}, nil
}

// decodeRecords accepts only a top-level JSON array
func decodeRecords(body []byte) ([]defect.WireRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, errors.New("response body is not a JSON array")
	}

	var wire []defect.WireRecord
	if err := json.Unmarshal(trimmed, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return wire, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

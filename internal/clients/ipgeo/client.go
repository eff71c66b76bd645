package ipgeo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roadwatch/defectmap/server/internal/lib/geo"
	"github.com/roadwatch/defectmap/server/internal/metrics"
)

// ErrLocationUnavailable means no position could be determined for the caller
var ErrLocationUnavailable = errors.New("location unavailable")

// HTTPDoer executes HTTP requests
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Locator resolves the position of the client making a request
type Locator interface {
	Locate(ctx context.Context, clientIP string) (geo.Point, error)
}

// Client looks positions up from an ip-api.com compatible service
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient HTTPDoer
}

// NewClient creates a new IP geolocation client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return NewClientWithHTTPDoer(baseURL, timeout, &http.Client{
		Timeout: 30 * time.Second,
	})
}

// NewClientWithHTTPDoer creates a client with a custom HTTP implementation
func NewClientWithHTTPDoer(baseURL string, timeout time.Duration, doer HTTPDoer) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		timeout:    timeout,
		httpClient: doer,
	}
}

// lookupResponse is the subset of the ip-api.com response we read
type lookupResponse struct {
	Status  string  `json:"status"`
	Message string  `json:"message,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Query   string  `json:"query"`
}

// Locate performs a one-shot lookup. Every failure is reported as
// ErrLocationUnavailable wrapping the cause.
func (c *Client) Locate(ctx context.Context, clientIP string) (geo.Point, error) {
	start := time.Now()
	point, err := c.locate(ctx, clientIP)
	outcome := metrics.OutcomeOK
	if err != nil {
		outcome = metrics.OutcomeFailed
		err = fmt.Errorf("%w: %w", ErrLocationUnavailable, err)
	}
	metrics.ObserveQuery("ipgeo", outcome, time.Since(start))
	return point, err
}

func (c *Client) locate(ctx context.Context, clientIP string) (geo.Point, error) {
	params := url.Values{}
	params.Set("fields", "status,message,lat,lon,city,query")

	requestURL := fmt.Sprintf("%s/json/%s?%s", c.baseURL, url.PathEscape(clientIP), params.Encode())

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return geo.Point{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return geo.Point{}, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return geo.Point{}, fmt.Errorf("rate limit exceeded (45/minute)")
	}
	if resp.StatusCode >= 400 {
		return geo.Point{}, fmt.Errorf("API error %d", resp.StatusCode)
	}

	var response lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return geo.Point{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if response.Status != "success" {
		return geo.Point{}, fmt.Errorf("lookup for %q failed: %s", clientIP, response.Message)
	}

	return geo.NewPoint(response.Lat, response.Lon)
}

// Fixed always reports the same configured position
type Fixed struct {
	Point geo.Point
}

// Locate returns the configured position
func (f Fixed) Locate(ctx context.Context, clientIP string) (geo.Point, error) {
	return f.Point, nil
}

// Unavailable is used when no location source is configured
type Unavailable struct{}

// Locate always fails
func (Unavailable) Locate(ctx context.Context, clientIP string) (geo.Point, error) {
	return geo.Point{}, fmt.Errorf("%w: no location source configured", ErrLocationUnavailable)
}

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/roadwatch/defectmap/server/internal/clients/defects"
	"github.com/roadwatch/defectmap/server/internal/lib/advisory"
	"github.com/roadwatch/defectmap/server/internal/lib/defect"
	"github.com/roadwatch/defectmap/server/internal/lib/geo"
)

// Config represents the complete server configuration. Each section is
// loaded from its own key in prefab.yaml.
type Config struct {
	Defects   DefectsConfig   `yaml:"defects"`
	Routing   RoutingConfig   `yaml:"routing"`
	Location  LocationConfig  `yaml:"location"`
	Advisory  AdvisoryConfig  `yaml:"advisory"`
	HeatMap   HeatMapConfig   `yaml:"heatmap"`
	Navigator NavigatorConfig `yaml:"navigator"`
}

// DefectsConfig holds the defect lookup service settings
type DefectsConfig struct {
	BaseURL      string        `yaml:"base_url"`
	BufferMeters float64       `yaml:"buffer_meters"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// RoutingConfig holds the OSRM routing engine settings
type RoutingConfig struct {
	BaseURL string `yaml:"base_url"`
	Profile string `yaml:"profile"`
}

// LocationConfig chooses how a caller's position is determined. A fixed
// position wins over the IP lookup service.
type LocationConfig struct {
	BaseURL string           `yaml:"base_url"`
	Fixed   *CoordinatesYAML `yaml:"fixed"`
}

// AdvisoryConfig selects a named threshold policy, optionally overriding
// parts of it
type AdvisoryConfig struct {
	Policy         string `yaml:"policy"`
	DesignatedTier string `yaml:"designated_tier"`
	LowerThreshold *int   `yaml:"lower_threshold"`
	UpperThreshold *int   `yaml:"upper_threshold"`
}

// HeatMapConfig holds heat map lookup settings
type HeatMapConfig struct {
	RadiusMeters float64       `yaml:"radius_meters"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// NavigatorConfig holds navigator session settings
type NavigatorConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl"`
}

// CoordinatesYAML represents lat/lng coordinates in YAML config
type CoordinatesYAML struct {
	Latitude  float64 `yaml:"lat"`
	Longitude float64 `yaml:"lng"`
}

// Point converts to a geo point
func (c CoordinatesYAML) Point() geo.Point {
	return geo.Point{Latitude: c.Latitude, Longitude: c.Longitude}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Defects: DefectsConfig{
			BaseURL:      "https://pd-server-six.vercel.app",
			BufferMeters: defects.DefaultBufferMeters,
			QueryTimeout: 10 * time.Second,
		},
		Routing: RoutingConfig{
			BaseURL: "https://router.project-osrm.org",
			Profile: "driving",
		},
		Location: LocationConfig{
			BaseURL: "http://ip-api.com",
		},
		Advisory: AdvisoryConfig{
			Policy: advisory.HighTierPolicyName,
		},
		HeatMap: HeatMapConfig{
			RadiusMeters: 3000,
			CacheTTL:     2 * time.Minute,
		},
		Navigator: NavigatorConfig{
			SessionTTL: 30 * time.Minute,
		},
	}
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if err := validateBaseURL("defects.base_url", c.Defects.BaseURL); err != nil {
		return err
	}
	if err := validateBaseURL("routing.base_url", c.Routing.BaseURL); err != nil {
		return err
	}
	if c.Location.Fixed == nil {
		if err := validateBaseURL("location.base_url", c.Location.BaseURL); err != nil {
			return err
		}
	} else if !geo.IsValidCoordinate(c.Location.Fixed.Point()) {
		return fmt.Errorf("location.fixed: invalid coordinates %v", *c.Location.Fixed)
	}

	if c.Defects.BufferMeters <= 0 {
		return fmt.Errorf("defects.buffer_meters must be positive, got %v", c.Defects.BufferMeters)
	}
	if c.Defects.QueryTimeout <= 0 {
		return fmt.Errorf("defects.query_timeout must be positive, got %v", c.Defects.QueryTimeout)
	}
	if c.HeatMap.RadiusMeters <= 0 {
		return fmt.Errorf("heatmap.radius_meters must be positive, got %v", c.HeatMap.RadiusMeters)
	}
	if c.HeatMap.CacheTTL < 0 {
		return fmt.Errorf("heatmap.cache_ttl must not be negative, got %v", c.HeatMap.CacheTTL)
	}
	if c.Navigator.SessionTTL <= 0 {
		return fmt.Errorf("navigator.session_ttl must be positive, got %v", c.Navigator.SessionTTL)
	}

	if _, err := c.AdvisoryPolicy(); err != nil {
		return err
	}
	return nil
}

// AdvisoryPolicy resolves the named policy and applies any overrides
func (c *Config) AdvisoryPolicy() (advisory.Policy, error) {
	policy, err := advisory.PolicyByName(c.Advisory.Policy)
	if err != nil {
		return advisory.Policy{}, fmt.Errorf("advisory.policy: %w", err)
	}

	overridden := false
	if c.Advisory.DesignatedTier != "" {
		tier, err := defect.ParseSeverity(c.Advisory.DesignatedTier)
		if err != nil {
			return advisory.Policy{}, fmt.Errorf("advisory.designated_tier: %w", err)
		}
		policy.DesignatedTier = tier
		overridden = true
	}
	if c.Advisory.LowerThreshold != nil {
		policy.LowerThreshold = *c.Advisory.LowerThreshold
		overridden = true
	}
	if c.Advisory.UpperThreshold != nil {
		policy.UpperThreshold = *c.Advisory.UpperThreshold
		overridden = true
	}
	if overridden {
		policy.Name += "-custom"
	}

	if err := policy.Validate(); err != nil {
		return advisory.Policy{}, err
	}
	return policy, nil
}

func validateBaseURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s: unsupported scheme %q", key, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s: missing host", key)
	}
	return nil
}

package telemetry

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds telemetry provider settings.
type Config struct {
	// Enabled controls whether telemetry is active
	Enabled bool `json:"enabled"`

	// ServiceName identifies the service in telemetry data
	ServiceName string `json:"service_name"`

	// ServiceVersion identifies the service version in telemetry data
	ServiceVersion string `json:"service_version"`

	// InstanceID distinguishes overlapping engine lifetimes; the engine
	// stamps a fresh one per open
	InstanceID string `json:"instance_id"`

	// SampleRate controls trace sampling (0.0 to 1.0)
	SampleRate float64 `json:"sample_rate"`

	// MetricInterval controls how often metrics are exported
	MetricInterval time.Duration `json:"metric_interval"`
}

// DefaultConfig returns a disabled configuration with sensible defaults
// for the remaining fields.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "strata",
		ServiceVersion: "development",
		SampleRate:     1.0,
		MetricInterval: 60 * time.Second,
	}
}

// LoadFromEnv overrides fields from STRATA_TELEMETRY_* environment
// variables.
func (c *Config) LoadFromEnv() {
	if val := os.Getenv("STRATA_TELEMETRY_ENABLED"); val != "" {
		if enabled, err := strconv.ParseBool(val); err == nil {
			c.Enabled = enabled
		}
	}
	if val := os.Getenv("STRATA_TELEMETRY_SERVICE_NAME"); val != "" {
		c.ServiceName = val
	}
	if val := os.Getenv("STRATA_TELEMETRY_SERVICE_VERSION"); val != "" {
		c.ServiceVersion = val
	}
	if val := os.Getenv("STRATA_TELEMETRY_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.SampleRate = rate
		}
	}
	if val := os.Getenv("STRATA_TELEMETRY_METRIC_INTERVAL"); val != "" {
		if interval, err := time.ParseDuration(val); err == nil {
			c.MetricInterval = interval
		}
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name cannot be empty")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service_version cannot be empty")
	}
	if c.SampleRate < 0.0 || c.SampleRate > 1.0 {
		return fmt.Errorf("sample_rate must be between 0.0 and 1.0, got %f", c.SampleRate)
	}
	if c.MetricInterval <= 0 {
		return fmt.Errorf("metric_interval must be positive, got %s", c.MetricInterval)
	}
	return nil
}

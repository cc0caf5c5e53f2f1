// Package config provides configuration management for the ledger service.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when optional fields are unset.
const (
	defaultRequestTimeout   = 10 * time.Second
	defaultRecoveryTimeout  = 60 * time.Second
	defaultQuoteTTL         = 5 * time.Second
	defaultSweepInterval    = time.Minute
	defaultThrottleInterval = 500 * time.Millisecond
	defaultFailureThreshold = 5
	defaultQueueCapacity    = 1024
	defaultSubscriberBuffer = 64
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Stream      StreamConfig      `yaml:"stream"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // live | sandbox | mock
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines upstream API settings. Credentials may be left empty:
// the service then reports an explicit not-configured status instead of
// refusing to start.
type BrokerConfig struct {
	Provider       string `yaml:"provider"`
	APIKey         string `yaml:"api_key"`
	AccountID      string `yaml:"account_id"`
	APIEndpoint    string `yaml:"api_endpoint"`    // optional override
	StreamEndpoint string `yaml:"stream_endpoint"` // optional override
}

// GatewayConfig defines the resilience layer parameters. Durations are
// strings parsed with time.ParseDuration.
type GatewayConfig struct {
	RequestTimeout   string `yaml:"request_timeout"`
	FailureThreshold int    `yaml:"failure_threshold"`
	RecoveryTimeout  string `yaml:"recovery_timeout"`
	QuoteTTL         string `yaml:"quote_ttl"`
	SweepInterval    string `yaml:"sweep_interval"`
}

// StreamConfig defines the broadcaster and backpressure parameters.
type StreamConfig struct {
	ThrottleInterval string `yaml:"throttle_interval"`
	QueueCapacity    int    `yaml:"queue_capacity"`
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
}

// DashboardConfig defines the HTTP API settings.
type DashboardConfig struct {
	Port      int    `yaml:"port"`
	AuthToken string `yaml:"auth_token"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.Mode {
	case "live", "sandbox", "mock":
	default:
		return fmt.Errorf("environment.mode must be 'live', 'sandbox', or 'mock'")
	}

	if c.Environment.Mode == "live" {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required in live mode")
		}
	}

	if c.Gateway.FailureThreshold < 0 {
		return fmt.Errorf("gateway.failure_threshold must be >= 0")
	}
	if c.Stream.QueueCapacity < 0 {
		return fmt.Errorf("stream.queue_capacity must be >= 0")
	}
	if c.Stream.SubscriberBuffer < 0 {
		return fmt.Errorf("stream.subscriber_buffer must be >= 0")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be a valid port number")
	}

	for name, value := range map[string]string{
		"gateway.request_timeout":  c.Gateway.RequestTimeout,
		"gateway.recovery_timeout": c.Gateway.RecoveryTimeout,
		"gateway.quote_ttl":        c.Gateway.QuoteTTL,
		"gateway.sweep_interval":   c.Gateway.SweepInterval,
		"stream.throttle_interval": c.Stream.ThrottleInterval,
	} {
		if value == "" {
			continue
		}
		if d, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s invalid: %w", name, err)
		} else if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	return nil
}

// IsConfigured reports whether upstream credentials are present.
func (c *Config) IsConfigured() bool {
	return c.Environment.Mode == "mock" || (c.Broker.APIKey != "" && c.Broker.AccountID != "")
}

// IsSandbox reports whether the upstream sandbox endpoints should be used.
func (c *Config) IsSandbox() bool {
	return c.Environment.Mode == "sandbox"
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// RequestTimeoutDuration returns the per-call upstream timeout.
func (c *Config) RequestTimeoutDuration() time.Duration {
	return parseDurationOr(c.Gateway.RequestTimeout, defaultRequestTimeout)
}

// RecoveryTimeoutDuration returns the breaker's open duration.
func (c *Config) RecoveryTimeoutDuration() time.Duration {
	return parseDurationOr(c.Gateway.RecoveryTimeout, defaultRecoveryTimeout)
}

// QuoteTTLDuration returns the quote cache time-to-live.
func (c *Config) QuoteTTLDuration() time.Duration {
	return parseDurationOr(c.Gateway.QuoteTTL, defaultQuoteTTL)
}

// SweepIntervalDuration returns the cache sweep period.
func (c *Config) SweepIntervalDuration() time.Duration {
	return parseDurationOr(c.Gateway.SweepInterval, defaultSweepInterval)
}

// ThrottleIntervalDuration returns the broadcaster throttle window.
func (c *Config) ThrottleIntervalDuration() time.Duration {
	return parseDurationOr(c.Stream.ThrottleInterval, defaultThrottleInterval)
}

// GetFailureThreshold returns the breaker trip threshold with its default.
func (c *Config) GetFailureThreshold() uint32 {
	if c.Gateway.FailureThreshold == 0 {
		return defaultFailureThreshold
	}
	return uint32(c.Gateway.FailureThreshold)
}

// GetQueueCapacity returns the backpressure queue bound with its default.
func (c *Config) GetQueueCapacity() int {
	if c.Stream.QueueCapacity == 0 {
		return defaultQueueCapacity
	}
	return c.Stream.QueueCapacity
}

// GetSubscriberBuffer returns the per-subscriber buffer with its default.
func (c *Config) GetSubscriberBuffer() int {
	if c.Stream.SubscriberBuffer == 0 {
		return defaultSubscriberBuffer
	}
	return c.Stream.SubscriberBuffer
}

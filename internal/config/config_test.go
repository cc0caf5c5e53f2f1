package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

const validYAML = `
environment:
  mode: sandbox
  log_level: info
broker:
  provider: tradier
  api_key: test-key
  account_id: test-account
gateway:
  request_timeout: 5s
  failure_threshold: 3
  recovery_timeout: 30s
  quote_ttl: 2s
  sweep_interval: 45s
stream:
  throttle_interval: 250ms
  queue_capacity: 512
  subscriber_buffer: 32
dashboard:
  port: 9847
`

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Environment.Mode != "sandbox" {
		t.Errorf("Mode = %q, want sandbox", cfg.Environment.Mode)
	}
	if !cfg.IsSandbox() {
		t.Error("IsSandbox() = false, want true")
	}
	if !cfg.IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}
	if got := cfg.RequestTimeoutDuration(); got != 5*time.Second {
		t.Errorf("RequestTimeoutDuration() = %v, want 5s", got)
	}
	if got := cfg.RecoveryTimeoutDuration(); got != 30*time.Second {
		t.Errorf("RecoveryTimeoutDuration() = %v, want 30s", got)
	}
	if got := cfg.ThrottleIntervalDuration(); got != 250*time.Millisecond {
		t.Errorf("ThrottleIntervalDuration() = %v, want 250ms", got)
	}
	if got := cfg.GetFailureThreshold(); got != 3 {
		t.Errorf("GetFailureThreshold() = %d, want 3", got)
	}
	if got := cfg.GetQueueCapacity(); got != 512 {
		t.Errorf("GetQueueCapacity() = %d, want 512", got)
	}
}

func TestLoad_InvalidPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Error("Expected error when loading nonexistent config file, got nil")
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	_, err := Load(writeConfig(t, `
environment:
  mode: mock
  log_level: info
totally_unknown_section:
  foo: bar
`))
	if err == nil {
		t.Error("Expected unknown top-level field to be rejected, got nil")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("LEDGER_TEST_API_KEY", "secret-from-env")

	cfg, err := Load(writeConfig(t, `
environment:
  mode: sandbox
  log_level: info
broker:
  api_key: ${LEDGER_TEST_API_KEY}
  account_id: acct-1
`))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Broker.APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q, want expanded env value", cfg.Broker.APIKey)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Environment: EnvironmentConfig{Mode: "sandbox", LogLevel: "info"},
			Broker:      BrokerConfig{APIKey: "k", AccountID: "a"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad mode", func(c *Config) { c.Environment.Mode = "paper" }, true},
		{"live requires api key", func(c *Config) { c.Environment.Mode = "live"; c.Broker.APIKey = "" }, true},
		{"live requires account", func(c *Config) { c.Environment.Mode = "live"; c.Broker.AccountID = "" }, true},
		{"mock needs no credentials", func(c *Config) { c.Environment.Mode = "mock"; c.Broker = BrokerConfig{} }, false},
		{"bad duration string", func(c *Config) { c.Gateway.QuoteTTL = "not-a-duration" }, true},
		{"negative duration", func(c *Config) { c.Stream.ThrottleInterval = "-1s" }, true},
		{"negative queue capacity", func(c *Config) { c.Stream.QueueCapacity = -1 }, true},
		{"port out of range", func(c *Config) { c.Dashboard.Port = 70000 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDurationDefaults(t *testing.T) {
	cfg := &Config{}
	if got := cfg.RecoveryTimeoutDuration(); got != 60*time.Second {
		t.Errorf("RecoveryTimeoutDuration() default = %v, want 60s", got)
	}
	if got := cfg.QuoteTTLDuration(); got != 5*time.Second {
		t.Errorf("QuoteTTLDuration() default = %v, want 5s", got)
	}
	if got := cfg.GetFailureThreshold(); got != 5 {
		t.Errorf("GetFailureThreshold() default = %d, want 5", got)
	}
	if got := cfg.GetSubscriberBuffer(); got != 64 {
		t.Errorf("GetSubscriberBuffer() default = %d, want 64", got)
	}
}

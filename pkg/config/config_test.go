package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 50
	cfg.RateLimiting.WebSocket.Burst = 100
	cfg.RateLimiting.WebSocket.MaxConcurrent = 10
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1920, cfg.Capture.IdealWidth)
	assert.Equal(t, 1080, cfg.Capture.IdealHeight)
	assert.Equal(t, 30, cfg.Capture.IdealFrameRate)
	assert.Equal(t, "always", cfg.Capture.Cursor)
	assert.Equal(t, 6, cfg.Session.CodeMinLength)
	assert.Equal(t, 8, cfg.Session.CodeMaxLength)
	assert.False(t, cfg.Session.StrictCodes)
	assert.Equal(t, 1500*time.Millisecond, cfg.Signal.SimulatedDelay)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http rps must be > 0", func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 }},
		{"http burst must be > 0", func(c *Config) { c.RateLimiting.HTTP.Burst = 0 }},
		{"http max concurrent must be >= 0", func(c *Config) { c.RateLimiting.HTTP.MaxConcurrent = -1 }},
		{"ws connections per minute must be > 0", func(c *Config) { c.RateLimiting.WebSocket.ConnectionsPerMinute = 0 }},
		{"ws messages per second must be > 0", func(c *Config) { c.RateLimiting.WebSocket.MessagesPerSecond = 0 }},
		{"ws burst must be > 0", func(c *Config) { c.RateLimiting.WebSocket.Burst = 0 }},
		{"ws max message size must be >= 0", func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 }},
		{"pong timeout must exceed ping interval", func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval }},
		{"signal url required", func(c *Config) { c.Signal.URL = "" }},
		{"signal url must be websocket", func(c *Config) { c.Signal.URL = "http://localhost:8080/ws" }},
		{"signal url needs a host", func(c *Config) { c.Signal.URL = "ws:///ws" }},
		{"retry attempts at least one", func(c *Config) { c.Signal.Retry.MaxAttempts = 0 }},
		{"negative simulated delay", func(c *Config) { c.Signal.SimulatedDelay = -time.Second }},
		{"port range half set", func(c *Config) { c.WebRTC.PortRange.Min = 50000 }},
		{"port range inverted", func(c *Config) { c.WebRTC.PortRange.Min, c.WebRTC.PortRange.Max = 50010, 50000 }},
		{"negotiation timeout required", func(c *Config) { c.WebRTC.NegotiationTimeout = 0 }},
		{"unknown cursor mode", func(c *Config) { c.Capture.Cursor = "sometimes" }},
		{"code lengths inverted", func(c *Config) { c.Session.CodeMinLength, c.Session.CodeMaxLength = 8, 6 }},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.JaegerEndpoint = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "ws://localhost:8080/ws", cfg.Signal.URL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s

signal:
  url: "ws://relay.example:9000/ws"
  ping_interval: 5s
  pong_timeout: 10s
  simulated_delay: 100ms

webrtc:
  port_range:
    min: 50000
    max: 50100
  negotiation_timeout: 5s

session:
  strict_codes: true

logging:
  level: "debug"
  format: "json"
`)

	t.Setenv("SCREENLINK_SERVER_ADDRESS", ":7000")
	t.Setenv("SCREENLINK_LOG_LEVEL", "warn")
	t.Setenv("SCREENLINK_SIMULATED_DELAY", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	// YAML values
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "ws://relay.example:9000/ws", cfg.Signal.URL)
	assert.Equal(t, uint16(50000), cfg.WebRTC.PortRange.Min)
	assert.Equal(t, 5*time.Second, cfg.WebRTC.NegotiationTimeout)
	assert.True(t, cfg.Session.StrictCodes)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Defaults survive partial files
	assert.Equal(t, 30, cfg.Capture.IdealFrameRate)

	// Env overrides
	assert.Equal(t, ":7000", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 250*time.Millisecond, cfg.Signal.SimulatedDelay)
}

func TestLoad_RejectsInvalidFile(t *testing.T) {
	path := writeTempConfig(t, `
capture:
  cursor: "sometimes"
`)
	_, err := Load(path)
	assert.Error(t, err)

	path = writeTempConfig(t, "server: [unclosed")
	_, err = Load(path)
	assert.Error(t, err)
}

// Package app translates the loaded configuration into the component
// configs used by the relay and the screenlink CLI.
package app

import (
	"screenlink/internal/core/domain"
	"screenlink/internal/infrastructure/signal"
	peerconn "screenlink/internal/infrastructure/webrtc"
	"screenlink/pkg/accesscode"
	"screenlink/pkg/config"
	"screenlink/pkg/tracing"

	"github.com/pion/webrtc/v3"
)

func Validator(cfg *config.Config) accesscode.Validator {
	return accesscode.Validator{
		Min:    cfg.Session.CodeMinLength,
		Max:    cfg.Session.CodeMaxLength,
		Strict: cfg.Session.StrictCodes,
	}
}

func HubConfig(cfg *config.Config) signal.HubConfig {
	hc := signal.DefaultHubConfig()
	hc.CodeMinLength = cfg.Session.CodeMinLength
	hc.CodeMaxLength = cfg.Session.CodeMaxLength
	if cfg.Signal.TombstoneTTL > 0 {
		hc.TombstoneTTL = cfg.Signal.TombstoneTTL
	}
	return hc
}

// ServerConfig takes keepalive from the signal section and per-connection
// limits from rate_limiting.websocket. Message rate limits only apply when
// rate limiting is enabled.
func ServerConfig(cfg *config.Config) signal.ServerConfig {
	sc := signal.DefaultServerConfig()
	sc.PingInterval = cfg.Signal.PingInterval
	sc.PongTimeout = cfg.Signal.PongTimeout

	ws := cfg.RateLimiting.WebSocket
	if ws.MaxMessageSizeBytes > 0 {
		sc.MaxMessageBytes = ws.MaxMessageSizeBytes
	}
	if cfg.RateLimiting.Enabled {
		sc.MessagesPerSecond = ws.MessagesPerSecond
		sc.Burst = ws.Burst
		sc.MaxConnections = ws.MaxConcurrent
	}
	return sc
}

func ClientTimeouts(cfg *config.Config) signal.ClientTimeouts {
	return signal.ClientTimeouts{
		Join:   cfg.Signal.JoinTimeout,
		Answer: cfg.Signal.AnswerTimeout,
		Viewer: cfg.Signal.ViewerTimeout,
	}
}

// DialerConfig targets url, or the configured signal.url when url is empty.
func DialerConfig(cfg *config.Config, url string) signal.DialerConfig {
	if url == "" {
		url = cfg.Signal.URL
	}
	dc := signal.DefaultDialerConfig(url)
	dc.Timeouts = ClientTimeouts(cfg)
	dc.PongTimeout = cfg.Signal.PongTimeout
	dc.Retry.Enabled = cfg.Signal.Retry.MaxAttempts > 1
	dc.Retry.MaxAttempts = cfg.Signal.Retry.MaxAttempts
	dc.Retry.InitialDelay = cfg.Signal.Retry.InitialDelay
	dc.Retry.MaxDelay = cfg.Signal.Retry.MaxDelay
	return dc
}

func PeerConfig(cfg *config.Config) peerconn.Config {
	pc := peerconn.Config{IncludeLoopback: cfg.WebRTC.IncludeLoopback}
	for _, s := range cfg.WebRTC.ICEServers {
		pc.ICEServers = append(pc.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	pc.PortRange.Min = cfg.WebRTC.PortRange.Min
	pc.PortRange.Max = cfg.WebRTC.PortRange.Max
	return pc
}

func SessionConfig(cfg *config.Config) peerconn.SessionConfig {
	sc := peerconn.DefaultSessionConfig()
	if cfg.WebRTC.NegotiationTimeout > 0 {
		sc.NegotiationTimeout = cfg.WebRTC.NegotiationTimeout
	}
	return sc
}

func CaptureProfile(cfg *config.Config) domain.CaptureProfile {
	p := domain.DefaultCaptureProfile()
	p.IdealWidth = cfg.Capture.IdealWidth
	p.IdealHeight = cfg.Capture.IdealHeight
	p.IdealFrameRate = cfg.Capture.IdealFrameRate
	if cfg.Capture.Cursor != "" {
		p.Cursor = domain.CursorMode(cfg.Capture.Cursor)
	}
	return p
}

func TracingConfig(cfg *config.Config, environment string) tracing.Config {
	return tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerEndpoint,
		Environment: environment,
		SampleRate:  cfg.Tracing.SamplingRate,
	}
}

// LoadConfig reads path, or the first readable default location when path
// is empty. Defaults are returned when nothing can be loaded.
func LoadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	for _, candidate := range []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/screenlink/config.yaml",
		"config.yaml",
	} {
		if cfg, err := config.Load(candidate); err == nil {
			return cfg, nil
		}
	}
	return config.DefaultConfig(), nil
}


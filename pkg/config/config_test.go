package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helper to build a minimal valid config that can be tweaked in tests.
func validBaseConfig() *Config {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 10
	cfg.RateLimiting.HTTP.Burst = 20
	cfg.RateLimiting.HTTP.MaxConcurrent = 5
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 10
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 65536
	return cfg
}

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "http rps must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.RequestsPerSecond = 0 },
		},
		{
			name:   "http burst must be > 0",
			mutate: func(c *Config) { c.RateLimiting.HTTP.Burst = 0 },
		},
		{
			name:   "ws max message size must be >= 0",
			mutate: func(c *Config) { c.RateLimiting.WebSocket.MaxMessageSizeBytes = -1 },
		},
		{
			name:   "unknown quality tier",
			mutate: func(c *Config) { c.Call.DefaultQuality = "8k" },
		},
		{
			name:   "unknown audio mode",
			mutate: func(c *Config) { c.Call.AudioMode = "aac" },
		},
		{
			name:   "opus bitrate out of range",
			mutate: func(c *Config) { c.Call.Opus.BitrateKbps = 1000 },
		},
		{
			name:   "signal key must be 32 bytes",
			mutate: func(c *Config) { c.Call.SignalKey = "abcd" },
		},
		{
			name: "port range inverted",
			mutate: func(c *Config) {
				c.WebRTC.PortRange.Min = 50000
				c.WebRTC.PortRange.Max = 40000
			},
		},
		{
			name:   "ice server without urls",
			mutate: func(c *Config) { c.WebRTC.ICEServers = []ICEServerConfig{{}} },
		},
		{
			name: "ice server with http url",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers = []ICEServerConfig{{URLs: []string{"https://stun.example.org"}}}
			},
		},
		{
			name:   "auth enabled without secret",
			mutate: func(c *Config) { c.Auth.Enabled = true; c.Auth.JWTSecret = "" },
		},
		{
			name:   "tracing sample rate above one",
			mutate: func(c *Config) { c.Tracing.Enabled = true; c.Tracing.SampleRate = 2 },
		},
		{
			name:   "redis enabled without address",
			mutate: func(c *Config) { c.Redis.Enabled = true; c.Redis.Address = "" },
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rillcall.yaml")
	yaml := `
server:
  address: ":9000"
call:
  default_quality: "720p"
  stats_interval: 2s
webrtc:
  ice_servers:
    - urls: ["stun:stun.example.org:3478"]
    - urls: ["turn:turn.example.org:3478"]
  turn:
    credential_ttl: 1h
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RILLCALL_TURN_SECRET", "from-env")
	t.Setenv("RILLCALL_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":9000" {
		t.Errorf("server.address = %q", cfg.Server.Address)
	}
	if cfg.Call.DefaultQuality != "720p" || cfg.Call.StatsInterval != 2*time.Second {
		t.Errorf("call section not loaded: %+v", cfg.Call)
	}
	if len(cfg.WebRTC.ICEServers) != 2 {
		t.Errorf("expected 2 ice servers, got %d", len(cfg.WebRTC.ICEServers))
	}
	if cfg.WebRTC.TURN.CredentialTTL != time.Hour {
		t.Errorf("turn.credential_ttl = %s", cfg.WebRTC.TURN.CredentialTTL)
	}
	if cfg.WebRTC.TURN.SharedSecret != "from-env" {
		t.Errorf("expected env override for turn secret, got %q", cfg.WebRTC.TURN.SharedSecret)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected env override for log level, got %q", cfg.Logging.Level)
	}
	// Untouched sections keep their defaults.
	if cfg.Reliability.Retry.MaxAttempts != 3 {
		t.Errorf("retry.max_attempts = %d", cfg.Reliability.Retry.MaxAttempts)
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server.address = %q", cfg.Server.Address)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("call:\n  audio_mode: aac\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

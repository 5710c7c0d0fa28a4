package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"rillcall/pkg/validation"

	"gopkg.in/yaml.v2"
)

type ICEServerConfig struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Call struct {
		DefaultQuality string        `yaml:"default_quality"`
		AudioMode      string        `yaml:"audio_mode"`
		StatsInterval  time.Duration `yaml:"stats_interval"`
		MediaE2EE      bool          `yaml:"media_e2ee"`
		RoomIdleTTL    time.Duration `yaml:"room_idle_ttl"`
		MaxPeers       int           `yaml:"max_peers"`
		SignalKey      string        `yaml:"signal_key"`
		Opus           struct {
			BitrateKbps int    `yaml:"bitrate_kbps"`
			Application string `yaml:"application"`
			FEC         bool   `yaml:"fec"`
			DTX         bool   `yaml:"dtx"`
		} `yaml:"opus"`
	} `yaml:"call"`

	WebRTC struct {
		ICEServers []ICEServerConfig `yaml:"ice_servers"`
		PortRange  struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		NAT1To1IPs []string `yaml:"nat_1to1_ips"`
		// IncludeLoopback gathers loopback candidates, for calls on one host.
		IncludeLoopback bool `yaml:"include_loopback"`
		TURN            struct {
			SharedSecret       string        `yaml:"shared_secret"`
			CredentialTTL      time.Duration `yaml:"credential_ttl"`
			CredentialEndpoint string        `yaml:"credential_endpoint"`
			CredentialAPIKey   string        `yaml:"credential_api_key"`
			RequestTimeout     time.Duration `yaml:"request_timeout"`
		} `yaml:"turn"`
		DiagnosticsTimeout time.Duration `yaml:"diagnostics_timeout"`
	} `yaml:"webrtc"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`

		WebSocket struct {
			ConnectionsPerMinute int   `yaml:"connections_per_minute"`
			MaxConcurrent        int   `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes  int64 `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled        bool    `yaml:"enabled"`
		JaegerEndpoint string  `yaml:"jaeger_endpoint"`
		SampleRate     float64 `yaml:"sample_rate"`
		Environment    string  `yaml:"environment"`
	} `yaml:"tracing"`

	Reliability struct {
		Retry struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
		} `yaml:"retry"`
		CircuitBreaker struct {
			MaxFailures  int           `yaml:"max_failures"`
			ResetTimeout time.Duration `yaml:"reset_timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Call
	switch c.Call.DefaultQuality {
	case "auto", "720p", "1080p", "4k":
	default:
		return fmt.Errorf("call.default_quality must be one of auto, 720p, 1080p, 4k")
	}
	if c.Call.AudioMode != "opus" && c.Call.AudioMode != "pcm" {
		return fmt.Errorf("call.audio_mode must be opus or pcm")
	}
	if c.Call.StatsInterval <= 0 {
		return fmt.Errorf("call.stats_interval must be > 0")
	}
	if c.Call.MaxPeers <= 0 {
		return fmt.Errorf("call.max_peers must be > 0")
	}
	if c.Call.Opus.BitrateKbps < 6 || c.Call.Opus.BitrateKbps > 510 {
		return fmt.Errorf("call.opus.bitrate_kbps must be within 6..510")
	}
	switch c.Call.Opus.Application {
	case "voip", "audio":
	default:
		return fmt.Errorf("call.opus.application must be voip or audio")
	}
	if c.Call.SignalKey != "" && len(c.Call.SignalKey) != 64 {
		return fmt.Errorf("call.signal_key must be 32 hex-encoded bytes")
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for i, s := range c.WebRTC.ICEServers {
		if len(s.URLs) == 0 {
			return fmt.Errorf("webrtc.ice_servers[%d].urls must not be empty", i)
		}
		for _, u := range s.URLs {
			if err := validation.ValidateICEURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers[%d]: %w", i, err)
			}
		}
	}
	if c.WebRTC.TURN.CredentialTTL < 0 {
		return fmt.Errorf("webrtc.turn.credential_ttl must be >= 0")
	}
	if c.WebRTC.TURN.CredentialEndpoint != "" && c.WebRTC.TURN.RequestTimeout <= 0 {
		return fmt.Errorf("webrtc.turn.request_timeout must be > 0 when credential_endpoint is set")
	}
	if c.WebRTC.DiagnosticsTimeout <= 0 {
		return fmt.Errorf("webrtc.diagnostics_timeout must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("logging.max_size_mb must be > 0 when logging.file is set")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0 when auth.enabled=true")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.ConnectionsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.websocket.connections_per_minute must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerEndpoint == "" {
			return fmt.Errorf("tracing.jaeger_endpoint must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within 0..1")
		}
	}

	// Reliability
	if c.Reliability.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("reliability.retry.max_attempts must be > 0")
	}
	if c.Reliability.CircuitBreaker.MaxFailures <= 0 {
		return fmt.Errorf("reliability.circuit_breaker.max_failures must be > 0")
	}
	if c.Reliability.CircuitBreaker.ResetTimeout <= 0 {
		return fmt.Errorf("reliability.circuit_breaker.reset_timeout must be > 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Call.DefaultQuality = "auto"
	cfg.Call.AudioMode = "opus"
	cfg.Call.StatsInterval = time.Second
	cfg.Call.RoomIdleTTL = 10 * time.Minute
	cfg.Call.MaxPeers = 8
	cfg.Call.Opus.BitrateKbps = 32
	cfg.Call.Opus.Application = "voip"
	cfg.Call.Opus.FEC = true

	cfg.WebRTC.ICEServers = []ICEServerConfig{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}
	cfg.WebRTC.TURN.CredentialTTL = 24 * time.Hour
	cfg.WebRTC.TURN.RequestTimeout = 5 * time.Second
	cfg.WebRTC.DiagnosticsTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 100
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 28

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.ConnectionsPerMinute = 60
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 64 * 1024

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerEndpoint = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0
	cfg.Tracing.Environment = "development"

	cfg.Reliability.Retry.MaxAttempts = 3
	cfg.Reliability.Retry.InitialDelay = 100 * time.Millisecond
	cfg.Reliability.Retry.MaxDelay = 2 * time.Second
	cfg.Reliability.CircuitBreaker.MaxFailures = 5
	cfg.Reliability.CircuitBreaker.ResetTimeout = 30 * time.Second

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("RILLCALL_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("RILLCALL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RILLCALL_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("RILLCALL_TURN_SECRET"); secret != "" {
		c.WebRTC.TURN.SharedSecret = secret
	}
	if endpoint := os.Getenv("RILLCALL_TURN_CREDENTIAL_ENDPOINT"); endpoint != "" {
		c.WebRTC.TURN.CredentialEndpoint = endpoint
	}
	if key := os.Getenv("RILLCALL_SIGNAL_KEY"); key != "" {
		c.Call.SignalKey = key
	}
	if addr := os.Getenv("RILLCALL_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("RILLCALL_MEDIA_E2EE"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Call.MediaE2EE = enabled
		}
	}
}

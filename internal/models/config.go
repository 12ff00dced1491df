// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every gatekeeper component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, rate limit, stats, etc.)
// - Defaults that work out of the box for a single instance
// - Validation that catches misconfigurations at startup, not at the first request
package models

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"
)

// Stats store type constants
const (
	StatsTypeMemory   = "memory"
	StatsTypeJSON     = "json"
	StatsTypeRedis    = "redis"
	StatsTypeSQLite   = "sqlite"
	StatsTypePostgres = "postgres"
)

// Key extractor constants
const (
	KeyExtractorHeader  = "header"
	KeyExtractorNetwork = "network"
)

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Upstream: the downstream service requests are admitted to
// - RateLimit: token bucket and registry parameters
// - Logging: Structured logging and output configuration
// - Metrics / Observability: Prometheus metrics and OpenTelemetry tracing
// - Stats: admission decision statistics
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Upstream      UpstreamConfig      `yaml:"upstream" json:"upstream"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
	Stats         StatsConfig         `yaml:"stats" json:"stats"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
}

// UpstreamConfig points at the service behind the limiter. An empty URL
// serves a built-in echo handler instead of proxying.
type UpstreamConfig struct {
	URL string `yaml:"url" json:"url"`
}

// RateLimitConfig holds token bucket and eviction parameters.
type RateLimitConfig struct {
	Enabled            bool          `yaml:"enabled" json:"enabled"`
	Capacity           int64         `yaml:"capacity" json:"capacity"`
	RefillPeriod       time.Duration `yaml:"refill_period" json:"refill_period"`
	RefillMode         string        `yaml:"refill_mode" json:"refill_mode"`
	TokensPerPeriod    int64         `yaml:"tokens_per_period" json:"tokens_per_period"`
	Eviction           string        `yaml:"eviction" json:"eviction"`
	StalenessThreshold time.Duration `yaml:"staleness_threshold" json:"staleness_threshold"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
	MaxEntries         int           `yaml:"max_entries" json:"max_entries"`
	KeyExtractor       string        `yaml:"key_extractor" json:"key_extractor"`
	KeyHeader          string        `yaml:"key_header" json:"key_header"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string        `yaml:"service_name" json:"service_name"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// StatsConfig selects where admission decision counters are kept.
type StatsConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	Type          string        `yaml:"type" json:"type"`
	DSN           string        `yaml:"dsn" json:"dsn"`
	Redis         RedisConfig   `yaml:"redis" json:"redis"`
	BufferSize    int           `yaml:"buffer_size" json:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval" json:"flush_interval"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

// NewDefaultConfig creates a configuration with working defaults.
//
// Default Values Rationale:
// - 100 requests per 10 seconds per client, refilled continuously
// - Buckets idle for a minute are swept every 10 seconds
// - Client identity from the first X-Forwarded-For entry, falling back to the peer address
// - In-memory decision statistics, Prometheus metrics on :9090
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			Capacity:           100,
			RefillPeriod:       10 * time.Second,
			RefillMode:         "continuous",
			Eviction:           "ttl",
			StalenessThreshold: 60 * time.Second,
			CleanupInterval:    10 * time.Second,
			MaxEntries:         100000,
			KeyExtractor:       KeyExtractorHeader,
			KeyHeader:          "X-Forwarded-For",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gatekeeper",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   "stdout",
				SampleRate: 1.0,
			},
		},
		Stats: StatsConfig{
			Enabled:       true,
			Type:          StatsTypeMemory,
			BufferSize:    4096,
			FlushInterval: time.Second,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "gatekeeper:stats",
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Upstream.Validate(); err != nil {
		return fmt.Errorf("invalid upstream config: %w", err)
	}

	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	if err := c.Stats.Validate(); err != nil {
		return fmt.Errorf("invalid stats config: %w", err)
	}

	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (uc *UpstreamConfig) Validate() error {
	if uc.URL == "" {
		return nil
	}
	u, err := url.Parse(uc.URL)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("upstream url must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("upstream url must include a host")
	}
	return nil
}

// Validate checks the values an operator controls. The token bucket layer
// re-validates the derived per-token interval when the registry is built.
func (rc *RateLimitConfig) Validate() error {
	if !rc.Enabled {
		return nil
	}

	if rc.Capacity <= 0 {
		return errors.New("capacity must be positive")
	}
	if rc.RefillPeriod <= 0 {
		return errors.New("refill period must be positive")
	}
	if rc.RefillPeriod < time.Duration(rc.Capacity) {
		return fmt.Errorf("refill period %v is too short for capacity %d", rc.RefillPeriod, rc.Capacity)
	}

	switch rc.RefillMode {
	case "continuous":
	case "discrete":
		if rc.TokensPerPeriod <= 0 {
			return errors.New("tokens per period must be positive for discrete refill")
		}
	default:
		return fmt.Errorf("invalid refill mode: %s", rc.RefillMode)
	}

	switch rc.Eviction {
	case "ttl":
		if rc.StalenessThreshold <= 0 {
			return errors.New("staleness threshold must be positive")
		}
		if rc.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
	case "lru":
		if rc.MaxEntries <= 0 {
			return errors.New("max entries must be positive for lru eviction")
		}
	default:
		return fmt.Errorf("invalid eviction strategy: %s", rc.Eviction)
	}

	switch rc.KeyExtractor {
	case KeyExtractorHeader:
		if rc.KeyHeader == "" {
			return errors.New("key header is required for the header key extractor")
		}
	case KeyExtractorNetwork:
	default:
		return fmt.Errorf("invalid key extractor: %s", rc.KeyExtractor)
	}

	return nil
}

func (lc *LoggingConfig) Validate() error {
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, lc.Level) {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	if !slices.Contains([]string{"json", "text"}, lc.Format) {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	if !slices.Contains([]string{"stdout", "stderr", "file"}, lc.Output) {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case "stdout":
	case "otlp":
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("OTLP endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}

func (sc *StatsConfig) Validate() error {
	if !sc.Enabled {
		return nil
	}

	switch sc.Type {
	case StatsTypeMemory:
	case StatsTypeRedis:
		if sc.Redis.Addr == "" {
			return errors.New("Redis address is required when stats type is redis")
		}
	case StatsTypeJSON, StatsTypeSQLite, StatsTypePostgres:
		if sc.DSN == "" {
			return fmt.Errorf("DSN is required when stats type is %s", sc.Type)
		}
	default:
		return fmt.Errorf("invalid stats type: %s", sc.Type)
	}

	if sc.BufferSize <= 0 {
		return errors.New("stats buffer size must be positive")
	}

	if sc.FlushInterval <= 0 {
		return errors.New("stats flush interval must be positive")
	}

	return nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gatekeeper/internal/models"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "GATEKEEPER_"

// Load loads configuration from file and environment variables
func Load(configPath string) (*models.Config, error) {
	// Start with default configuration
	config := models.NewDefaultConfig()

	// Load from file if provided and exists
	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	loadFromEnvironment(config)

	// Validate the final configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// legacyConfig mirrors rate limit keys of request-per-minute limiters so
// operators migrating a config file learn why they have no effect.
type legacyConfig struct {
	RateLimit struct {
		RequestsPerMinute *int `yaml:"requests_per_minute"`
		BurstSize         *int `yaml:"burst_size"`
	} `yaml:"rate_limit"`
}

// warnLegacyKeys logs a warning for each unsupported rate limit key found in
// the YAML data. The main decoder ignores them.
func warnLegacyKeys(data []byte) {
	var legacy legacyConfig
	if err := yaml.Unmarshal(data, &legacy); err != nil {
		return
	}
	if legacy.RateLimit.RequestsPerMinute != nil {
		slog.Warn("Config key is not supported; use capacity and refill_period instead.", "config_key", "rate_limit.requests_per_minute")
	}
	if legacy.RateLimit.BurstSize != nil {
		slog.Warn("Config key is not supported; the bucket capacity is the burst size.", "config_key", "rate_limit.burst_size")
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(config *models.Config, filePath string) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	warnLegacyKeys(data)
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment loads configuration from environment variables.
// Unparseable values are logged and ignored.
func loadFromEnvironment(config *models.Config) {
	// Server configuration
	envInt("PORT", &config.Server.Port)
	envString("HOST", &config.Server.Host)
	envDuration("READ_TIMEOUT", &config.Server.ReadTimeout)
	envDuration("WRITE_TIMEOUT", &config.Server.WriteTimeout)
	envDuration("IDLE_TIMEOUT", &config.Server.IdleTimeout)
	envBool("TLS_ENABLED", &config.Server.TLSEnabled)
	envString("TLS_CERT_FILE", &config.Server.TLSCertFile)
	envString("TLS_KEY_FILE", &config.Server.TLSKeyFile)

	envString("UPSTREAM_URL", &config.Upstream.URL)

	// Rate limit configuration
	envBool("RATE_LIMIT_ENABLED", &config.RateLimit.Enabled)
	envInt64("RATE_LIMIT_CAPACITY", &config.RateLimit.Capacity)
	envDuration("RATE_LIMIT_REFILL_PERIOD", &config.RateLimit.RefillPeriod)
	envString("RATE_LIMIT_REFILL_MODE", &config.RateLimit.RefillMode)
	envInt64("RATE_LIMIT_TOKENS_PER_PERIOD", &config.RateLimit.TokensPerPeriod)
	envString("RATE_LIMIT_EVICTION", &config.RateLimit.Eviction)
	envDuration("RATE_LIMIT_STALENESS_THRESHOLD", &config.RateLimit.StalenessThreshold)
	envDuration("RATE_LIMIT_CLEANUP_INTERVAL", &config.RateLimit.CleanupInterval)
	envInt("RATE_LIMIT_MAX_ENTRIES", &config.RateLimit.MaxEntries)
	envString("RATE_LIMIT_KEY_EXTRACTOR", &config.RateLimit.KeyExtractor)
	envString("RATE_LIMIT_KEY_HEADER", &config.RateLimit.KeyHeader)

	// Logging configuration
	envString("LOG_LEVEL", &config.Logging.Level)
	envString("LOG_FORMAT", &config.Logging.Format)
	envString("LOG_OUTPUT", &config.Logging.Output)
	envString("LOG_FILE_PATH", &config.Logging.FilePath)

	// Metrics and tracing
	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)
	envInt("METRICS_PORT", &config.Metrics.Port)
	envString("SERVICE_NAME", &config.Observability.ServiceName)
	envBool("TRACING_ENABLED", &config.Observability.Tracing.Enabled)
	envString("TRACING_EXPORTER", &config.Observability.Tracing.Exporter)
	envString("TRACING_OTLP_ENDPOINT", &config.Observability.Tracing.OTLPEndpoint)
	envFloat("TRACING_SAMPLE_RATE", &config.Observability.Tracing.SampleRate)

	// Decision statistics
	envBool("STATS_ENABLED", &config.Stats.Enabled)
	envString("STATS_TYPE", &config.Stats.Type)
	envString("STATS_DSN", &config.Stats.DSN)
	envInt("STATS_BUFFER_SIZE", &config.Stats.BufferSize)
	envDuration("STATS_FLUSH_INTERVAL", &config.Stats.FlushInterval)
	envString("REDIS_ADDR", &config.Stats.Redis.Addr)
	envString("REDIS_PASSWORD", &config.Stats.Redis.Password)
	envInt("REDIS_DB", &config.Stats.Redis.DB)
	envString("REDIS_PREFIX", &config.Stats.Redis.Prefix)
}

func lookup(name string) (string, bool) {
	v := os.Getenv(EnvPrefix + name)
	return v, v != ""
}

func ignored(name, value string, err error) {
	slog.Warn("Ignoring invalid environment override", "variable", EnvPrefix+name, "value", value, "error", err)
}

func envString(name string, dst *string) {
	if v, ok := lookup(name); ok {
		*dst = v
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookup(name); ok {
		*dst = strings.ToLower(v) == "true"
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookup(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			ignored(name, v, err)
			return
		}
		*dst = n
	}
}

func envInt64(name string, dst *int64) {
	if v, ok := lookup(name); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			ignored(name, v, err)
			return
		}
		*dst = n
	}
}

func envFloat(name string, dst *float64) {
	if v, ok := lookup(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			ignored(name, v, err)
			return
		}
		*dst = f
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			ignored(name, v, err)
			return
		}
		*dst = d
	}
}

// SaveExample saves an example configuration file
func SaveExample(filePath string) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	config := models.NewDefaultConfig()

	// Example values for optional sections
	config.Upstream.URL = "http://localhost:3000"
	config.Server.TLSCertFile = "/path/to/cert.pem"
	config.Server.TLSKeyFile = "/path/to/key.pem"
	config.RateLimit.TokensPerPeriod = 10
	config.Observability.Tracing.OTLPEndpoint = "localhost:4317"

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

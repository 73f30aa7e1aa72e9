package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/crunchhq/crunch/pkg/observability"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Assets        AssetsConfig
	Cache         CacheConfig
	Remote        RemoteConfig
	Publish       PublishConfig
	Watch         WatchConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AssetsConfig holds the asset pipeline's filesystem layout and remote
// allow-list. Roots and tokens can come from environment variables or the
// optional YAML assets file.
type AssetsConfig struct {
	// CSSRoots and JSRoots are the search roots per pipeline, in lookup
	// order.
	CSSRoots []string
	JSRoots  []string

	// Tokens maps allow-list tokens to remote URLs.
	Tokens map[string]string
}

// CacheConfig holds bundle cache settings.
type CacheConfig struct {
	MaxEntries int

	// TTLDays expresses cache lifetime in whole days. Zero or negative
	// switches the cache to revalidate-every-request mode.
	TTLDays int

	// SweepSchedule is a cron expression for the periodic index sweep.
	SweepSchedule string

	// Redis second-level cache. Empty address disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// TTL converts TTLDays to a duration. Non-positive stays non-positive so
// the revalidation policy survives the conversion.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLDays <= 0 {
		return 0
	}
	return time.Duration(c.TTLDays) * 24 * time.Hour
}

// RemoteConfig bounds remote resource retrieval.
type RemoteConfig struct {
	MaxBytes     int64
	Timeout      time.Duration
	AllowRawURLs bool
}

// PublishConfig selects and configures the physical bundle publisher.
type PublishConfig struct {
	// Backend is "none", "filesystem" or "s3".
	Backend string

	// Filesystem backend.
	Directory string

	// S3 backend.
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3Prefix       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	Timeout time.Duration
}

// WatchConfig controls filesystem-driven cache invalidation.
type WatchConfig struct {
	Enabled  bool
	Debounce time.Duration
}

// ObservabilityConfig holds observability settings.
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// assetsFile is the YAML shape of the optional assets file.
type assetsFile struct {
	CSSRoots []string          `yaml:"css_roots"`
	JSRoots  []string          `yaml:"js_roots"`
	Tokens   map[string]string `yaml:"tokens"`
}

// LoadConfig loads configuration from environment variables, folding in the
// YAML assets file named by CRUNCH_ASSETS_FILE when set.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Assets:        loadAssetsConfig(),
		Cache:         loadCacheConfig(),
		Remote:        loadRemoteConfig(),
		Publish:       loadPublishConfig(),
		Watch:         loadWatchConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("CRUNCH_ASSETS_FILE", ""); path != "" {
		if err := cfg.loadAssetsFile(path); err != nil {
			return nil, fmt.Errorf("load assets file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CRUNCH_HOST", "0.0.0.0"),
		Port:            getEnv("CRUNCH_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CRUNCH_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CRUNCH_WRITE_TIMEOUT", 30*time.Second),
		IdleTimeout:     getEnvDuration("CRUNCH_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CRUNCH_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("CRUNCH_HEALTH_PORT", "9090"),
	}
}

func loadAssetsConfig() AssetsConfig {
	return AssetsConfig{
		CSSRoots: getEnvList("CRUNCH_CSS_ROOTS", nil),
		JSRoots:  getEnvList("CRUNCH_JS_ROOTS", nil),
		Tokens:   map[string]string{},
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries:    getEnvInt("CRUNCH_CACHE_MAX_ENTRIES", 1024),
		TTLDays:       getEnvInt("CRUNCH_CACHE_TTL_DAYS", 1),
		SweepSchedule: getEnv("CRUNCH_CACHE_SWEEP_SCHEDULE", "@every 1h"),
		RedisAddr:     getEnv("CRUNCH_REDIS_ADDR", ""),
		RedisPassword: getEnv("CRUNCH_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("CRUNCH_REDIS_DB", 0),
	}
}

func loadRemoteConfig() RemoteConfig {
	return RemoteConfig{
		MaxBytes:     getEnvInt64("CRUNCH_REMOTE_MAX_BYTES", 2<<20),
		Timeout:      getEnvDuration("CRUNCH_REMOTE_TIMEOUT", 10*time.Second),
		AllowRawURLs: getEnvBool("CRUNCH_REMOTE_ALLOW_RAW_URLS", false),
	}
}

func loadPublishConfig() PublishConfig {
	return PublishConfig{
		Backend:        getEnv("CRUNCH_PUBLISH_BACKEND", "none"),
		Directory:      getEnv("CRUNCH_PUBLISH_DIR", ""),
		S3Endpoint:     getEnv("CRUNCH_S3_ENDPOINT", ""),
		S3Region:       getEnv("CRUNCH_S3_REGION", "us-east-1"),
		S3Bucket:       getEnv("CRUNCH_S3_BUCKET", ""),
		S3Prefix:       getEnv("CRUNCH_S3_PREFIX", "bundles/"),
		S3AccessKey:    getEnv("CRUNCH_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("CRUNCH_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("CRUNCH_S3_USE_PATH_STYLE", false),
		Timeout:        getEnvDuration("CRUNCH_PUBLISH_TIMEOUT", 30*time.Second),
	}
}

func loadWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:  getEnvBool("CRUNCH_WATCH_ENABLED", true),
		Debounce: getEnvDuration("CRUNCH_WATCH_DEBOUNCE", 250*time.Millisecond),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("CRUNCH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CRUNCH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CRUNCH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CRUNCH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CRUNCH_OTEL_SERVICE_NAME", "crunch"),
		OTelServiceVersion: getEnv("CRUNCH_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CRUNCH_OTEL_INSECURE", true),
	}
}

// loadAssetsFile merges the YAML assets file into the config. File values
// extend roots and tokens; environment-provided entries stay.
func (c *Config) loadAssetsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var f assetsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	c.Assets.CSSRoots = append(c.Assets.CSSRoots, f.CSSRoots...)
	c.Assets.JSRoots = append(c.Assets.JSRoots, f.JSRoots...)
	for token, url := range f.Tokens {
		c.Assets.Tokens[token] = url
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if len(c.Assets.CSSRoots) == 0 && len(c.Assets.JSRoots) == 0 {
		return fmt.Errorf("at least one CSS or JS asset root is required")
	}

	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}

	switch c.Publish.Backend {
	case "none":
	case "filesystem":
		if c.Publish.Directory == "" {
			return fmt.Errorf("publish directory is required for filesystem publishing")
		}
	case "s3":
		if c.Publish.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 publishing")
		}
	default:
		return fmt.Errorf("invalid publish backend: %s (must be none, filesystem, or s3)", c.Publish.Backend)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// parseLogLevel parses a log level string.
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma-separated list environment variable or a
// default.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

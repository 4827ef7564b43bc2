// Package config handles loading and validation of engine configuration from
// environment variables using Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/LinguaCrew/lingua-notify/logger"
	"github.com/spf13/viper"
)

// Environment represents the application's running environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// ServerConfig holds the endpoints of the notification backend.
type ServerConfig struct {
	Environment Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	// APIBaseURL is the base URL of the request-response notification API.
	APIBaseURL string `mapstructure:"API_BASE_URL" yaml:"api_base_url"`
	// ChannelURL is the websocket endpoint of the realtime channel.
	ChannelURL string `mapstructure:"CHANNEL_URL" yaml:"channel_url"`
	// RequestTimeoutSeconds is the HTTP client timeout for API calls.
	RequestTimeoutSeconds int `mapstructure:"REQUEST_TIMEOUT_SECONDS" yaml:"request_timeout_seconds"`
}

// SyncConfig holds intervals and bounds for the sync coordinator.
type SyncConfig struct {
	// ResyncIntervalMinutes is the period of the full-list resync. 0 disables
	// the periodic timer (the initial resync still runs).
	ResyncIntervalMinutes int `mapstructure:"RESYNC_INTERVAL_MINUTES" yaml:"resync_interval_minutes"`
	// HeartbeatIntervalMinutes is the period of the liveness heartbeat.
	HeartbeatIntervalMinutes int `mapstructure:"HEARTBEAT_INTERVAL_MINUTES" yaml:"heartbeat_interval_minutes"`
	// RetentionCap is the maximum number of notifications kept in the store.
	RetentionCap int `mapstructure:"RETENTION_CAP" yaml:"retention_cap"`
	// MergeBufferSize is the capacity of the coordinator's ordered merge queue.
	MergeBufferSize int `mapstructure:"MERGE_BUFFER_SIZE" yaml:"merge_buffer_size"`
}

// BackoffConfig holds retry/backoff parameters shared by the channel and the
// API client.
type BackoffConfig struct {
	InitialDelayMillis int     `mapstructure:"INITIAL_DELAY_MILLIS" yaml:"initial_delay_millis"`
	MaxDelaySeconds    int     `mapstructure:"MAX_DELAY_SECONDS" yaml:"max_delay_seconds"`
	Factor             float64 `mapstructure:"FACTOR" yaml:"factor"`
	MaxAttempts        int     `mapstructure:"MAX_ATTEMPTS" yaml:"max_attempts"`
	// OverallTimeoutSeconds bounds a whole retry sequence, including time
	// spent suspended while offline.
	OverallTimeoutSeconds int `mapstructure:"OVERALL_TIMEOUT_SECONDS" yaml:"overall_timeout_seconds"`
}

// WorkerPoolConfig holds configuration for the dispatch worker pool.
type WorkerPoolConfig struct {
	MaxWorkers             int `mapstructure:"MAX_WORKERS" yaml:"max_workers"`
	QueueSize              int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// RedisConfig holds connection details for the optional cross-process event
// broadcast. When Enabled is false the engine runs with the in-process bus
// only.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"ENABLED" yaml:"enabled"`
	Address  string `mapstructure:"ADDRESS" yaml:"address"`
	Password string `mapstructure:"PASSWORD" yaml:"password"`
	DB       int    `mapstructure:"DB" yaml:"db"`
}

// CacheConfig holds settings for the optional persistent notification cache.
type CacheConfig struct {
	// Path is the sqlite file backing the cache. Empty keeps the store
	// purely in memory.
	Path string `mapstructure:"PATH" yaml:"path"`
}

// Config aggregates all engine configuration sections.
type Config struct {
	Server     ServerConfig     `mapstructure:"SERVER" yaml:"server"`
	Sync       SyncConfig       `mapstructure:"SYNC" yaml:"sync"`
	Backoff    BackoffConfig    `mapstructure:"BACKOFF" yaml:"backoff"`
	WorkerPool WorkerPoolConfig `mapstructure:"WORKER_POOL" yaml:"worker_pool"`
	Redis      RedisConfig      `mapstructure:"REDIS" yaml:"redis"`
	Cache      CacheConfig      `mapstructure:"CACHE" yaml:"cache"`
}

// IsDevelopment returns true when running in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// RequestTimeout returns the API client timeout as a duration.
func (c *ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// ResyncInterval returns the periodic resync interval as a duration.
func (c *SyncConfig) ResyncInterval() time.Duration {
	return time.Duration(c.ResyncIntervalMinutes) * time.Minute
}

// HeartbeatInterval returns the heartbeat interval as a duration.
func (c *SyncConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMinutes) * time.Minute
}

// InitialDelay returns the first backoff delay as a duration.
func (c *BackoffConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMillis) * time.Millisecond
}

// MaxDelay returns the backoff ceiling as a duration.
func (c *BackoffConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds) * time.Second
}

// OverallTimeout returns the whole-sequence retry bound as a duration.
func (c *BackoffConfig) OverallTimeout() time.Duration {
	return time.Duration(c.OverallTimeoutSeconds) * time.Second
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

// LoadConfig loads configuration from environment variables using Viper,
// applies defaults, unmarshals and validates.
func LoadConfig() (*Config, error) {
	v := viper.New()
	log := logger.GetLogger()

	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.API_BASE_URL", "http://localhost:8080/api/v1")
	v.SetDefault("SERVER.CHANNEL_URL", "ws://localhost:8080/api/v1/notifications/stream")
	v.SetDefault("SERVER.REQUEST_TIMEOUT_SECONDS", 10)
	v.SetDefault("SYNC.RESYNC_INTERVAL_MINUTES", 15)
	v.SetDefault("SYNC.HEARTBEAT_INTERVAL_MINUTES", 5)
	v.SetDefault("SYNC.RETENTION_CAP", 200)
	v.SetDefault("SYNC.MERGE_BUFFER_SIZE", 256)
	v.SetDefault("BACKOFF.INITIAL_DELAY_MILLIS", 500)
	v.SetDefault("BACKOFF.MAX_DELAY_SECONDS", 30)
	v.SetDefault("BACKOFF.FACTOR", 2.0)
	v.SetDefault("BACKOFF.MAX_ATTEMPTS", 5)
	v.SetDefault("BACKOFF.OVERALL_TIMEOUT_SECONDS", 300)
	v.SetDefault("WORKER_POOL.MAX_WORKERS", 4)
	v.SetDefault("WORKER_POOL.QUEUE_SIZE", 256)
	v.SetDefault("WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", 30)
	v.SetDefault("REDIS.ENABLED", false)
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("CACHE.PATH", "")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envBindings := [][2]string{
		{"SERVER.ENVIRONMENT", "ENVIRONMENT"},
		{"SERVER.API_BASE_URL", "NOTIFY_API_BASE_URL"},
		{"SERVER.CHANNEL_URL", "NOTIFY_CHANNEL_URL"},
		{"SERVER.REQUEST_TIMEOUT_SECONDS", "NOTIFY_REQUEST_TIMEOUT_SECONDS"},
		{"SYNC.RESYNC_INTERVAL_MINUTES", "SYNC_RESYNC_INTERVAL_MINUTES"},
		{"SYNC.HEARTBEAT_INTERVAL_MINUTES", "SYNC_HEARTBEAT_INTERVAL_MINUTES"},
		{"SYNC.RETENTION_CAP", "SYNC_RETENTION_CAP"},
		{"SYNC.MERGE_BUFFER_SIZE", "SYNC_MERGE_BUFFER_SIZE"},
		{"BACKOFF.INITIAL_DELAY_MILLIS", "BACKOFF_INITIAL_DELAY_MILLIS"},
		{"BACKOFF.MAX_DELAY_SECONDS", "BACKOFF_MAX_DELAY_SECONDS"},
		{"BACKOFF.FACTOR", "BACKOFF_FACTOR"},
		{"BACKOFF.MAX_ATTEMPTS", "BACKOFF_MAX_ATTEMPTS"},
		{"BACKOFF.OVERALL_TIMEOUT_SECONDS", "BACKOFF_OVERALL_TIMEOUT_SECONDS"},
		{"WORKER_POOL.MAX_WORKERS", "WORKER_POOL_MAX_WORKERS"},
		{"WORKER_POOL.QUEUE_SIZE", "WORKER_POOL_QUEUE_SIZE"},
		{"WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", "WORKER_POOL_SHUTDOWN_TIMEOUT_SECONDS"},
		{"REDIS.ENABLED", "REDIS_ENABLED"},
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"CACHE.PATH", "CACHE_PATH"},
	}

	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Infow("Configuration loaded",
		"environment", cfg.Server.Environment,
		"api_base_url", cfg.Server.APIBaseURL,
		"channel_url", cfg.Server.ChannelURL,
		"resync_interval_minutes", cfg.Sync.ResyncIntervalMinutes,
		"heartbeat_interval_minutes", cfg.Sync.HeartbeatIntervalMinutes,
		"retention_cap", cfg.Sync.RetentionCap,
		"redis_enabled", cfg.Redis.Enabled,
	)

	return &cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Server.APIBaseURL); err != nil {
		return fmt.Errorf("invalid API base URL %q: %w", c.Server.APIBaseURL, err)
	}
	u, err := url.Parse(c.Server.ChannelURL)
	if err != nil {
		return fmt.Errorf("invalid channel URL %q: %w", c.Server.ChannelURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("channel URL must use ws, wss, http or https scheme, got %q", u.Scheme)
	}
	if c.Sync.RetentionCap <= 0 {
		return fmt.Errorf("retention cap must be positive, got %d", c.Sync.RetentionCap)
	}
	if c.Backoff.MaxAttempts <= 0 {
		// Infinite retry is disallowed engine-wide.
		return fmt.Errorf("backoff max attempts must be positive, got %d", c.Backoff.MaxAttempts)
	}
	if c.Backoff.Factor < 1 {
		return fmt.Errorf("backoff factor must be >= 1, got %f", c.Backoff.Factor)
	}
	if c.Sync.HeartbeatIntervalMinutes <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %d", c.Sync.HeartbeatIntervalMinutes)
	}
	return nil
}

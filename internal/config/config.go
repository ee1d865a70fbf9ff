package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the stormwatch service
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Feeds       FeedsConfig       `mapstructure:"feeds"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Geo         GeoConfig         `mapstructure:"geo"`
	Scoring     ScoringConfig     `mapstructure:"scoring"`
	Correlation CorrelationConfig `mapstructure:"correlation"`
	Store       StoreConfig       `mapstructure:"store"`
	Redis       RedisConfig       `mapstructure:"redis"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FeedsConfig holds intake configuration for feed adapters
type FeedsConfig struct {
	NATSURL        string        `mapstructure:"nats_url"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	QueueGroup     string        `mapstructure:"queue_group"`
	MockEnabled    bool          `mapstructure:"mock_enabled"`
	MockInterval   time.Duration `mapstructure:"mock_interval"`
	MockBatchSize  int           `mapstructure:"mock_batch_size"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// PipelineConfig controls the observation worker pool
type PipelineConfig struct {
	Workers       int           `mapstructure:"workers"`
	QueueSize     int           `mapstructure:"queue_size"`
	MaxFutureSkew time.Duration `mapstructure:"max_future_skew"`
	Retention     time.Duration `mapstructure:"retention"`
}

// GeoConfig controls the enricher and its resolver cache
type GeoConfig struct {
	TablePath      string        `mapstructure:"table_path"`
	CacheSize      int           `mapstructure:"cache_size"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	DegradeOnError bool          `mapstructure:"degrade_on_error"`
}

// ScoringConfig controls the threat scorer
type ScoringConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	FrequencyWindow time.Duration `mapstructure:"frequency_window"`
	FallbackScore   float64       `mapstructure:"fallback_score"`
}

// CorrelationConfig controls observation-to-event correlation
type CorrelationConfig struct {
	RadiusKm            float64       `mapstructure:"radius_km"`
	Window              time.Duration `mapstructure:"window"`
	ActivationThreshold uint64        `mapstructure:"activation_threshold"`
	DedupeObservations  bool          `mapstructure:"dedupe_observations"`
	DedupeCacheSize     int           `mapstructure:"dedupe_cache_size"`
}

// StoreConfig controls the in-memory event store
type StoreConfig struct {
	DecayHalfLife  time.Duration `mapstructure:"decay_half_life"`
	DecayShape     string        `mapstructure:"decay_shape"`
	IntensityFloor float64       `mapstructure:"intensity_floor"`
	DecayingBelow  float64       `mapstructure:"decaying_below"`
	MaxIdle        time.Duration `mapstructure:"max_idle"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	Capacity       int           `mapstructure:"capacity"`
	Shards         int           `mapstructure:"shards"`
}

// RedisConfig holds the optional shared geo-cache backend
type RedisConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8087)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("feeds.nats_url", "nats://localhost:4222")
	v.SetDefault("feeds.subject_prefix", "feeds.observations")
	v.SetDefault("feeds.queue_group", "pipeline-workers")
	v.SetDefault("feeds.mock_enabled", false)
	v.SetDefault("feeds.mock_interval", "2s")
	v.SetDefault("feeds.mock_batch_size", 10)
	v.SetDefault("feeds.connect_timeout", "5s")

	v.SetDefault("pipeline.workers", 8)
	v.SetDefault("pipeline.queue_size", 1024)
	v.SetDefault("pipeline.max_future_skew", "30s")
	v.SetDefault("pipeline.retention", "1h")

	v.SetDefault("geo.table_path", "")
	v.SetDefault("geo.cache_size", 4096)
	v.SetDefault("geo.cache_ttl", "10m")
	v.SetDefault("geo.resolve_timeout", "2s")
	v.SetDefault("geo.max_retries", 2)
	v.SetDefault("geo.retry_backoff", "200ms")
	v.SetDefault("geo.degrade_on_error", true)

	v.SetDefault("scoring.timeout", "500ms")
	v.SetDefault("scoring.frequency_window", "5m")
	v.SetDefault("scoring.fallback_score", 0.2)

	v.SetDefault("correlation.radius_km", 50.0)
	v.SetDefault("correlation.window", "5m")
	v.SetDefault("correlation.activation_threshold", 2)
	v.SetDefault("correlation.dedupe_observations", true)
	v.SetDefault("correlation.dedupe_cache_size", 16384)

	v.SetDefault("store.decay_half_life", "2m")
	v.SetDefault("store.decay_shape", "exponential")
	v.SetDefault("store.intensity_floor", 0.05)
	v.SetDefault("store.decaying_below", 0.3)
	v.SetDefault("store.max_idle", "5m")
	v.SetDefault("store.sweep_interval", "10s")
	v.SetDefault("store.capacity", 10000)
	v.SetDefault("store.shards", 16)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.enabled", false)

	// Read from config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Environment variables override file config
	v.SetEnvPrefix("STORMWATCH")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be positive, got %d", c.Pipeline.Workers)
	}
	if c.Correlation.RadiusKm <= 0 {
		return fmt.Errorf("correlation.radius_km must be positive, got %g", c.Correlation.RadiusKm)
	}
	if c.Correlation.Window <= 0 {
		return fmt.Errorf("correlation.window must be positive, got %s", c.Correlation.Window)
	}
	if c.Store.DecayHalfLife <= 0 {
		return fmt.Errorf("store.decay_half_life must be positive, got %s", c.Store.DecayHalfLife)
	}
	if c.Store.IntensityFloor < 0 || c.Store.IntensityFloor >= 1 {
		return fmt.Errorf("store.intensity_floor must be in [0, 1), got %g", c.Store.IntensityFloor)
	}
	if c.Store.Shards <= 0 {
		return fmt.Errorf("store.shards must be positive, got %d", c.Store.Shards)
	}
	if c.Store.SweepInterval <= 0 {
		return fmt.Errorf("store.sweep_interval must be positive, got %s", c.Store.SweepInterval)
	}
	// store.decay_shape is deliberately not validated: unknown shapes fall
	// back to exponential decay at the policy level.
	return nil
}

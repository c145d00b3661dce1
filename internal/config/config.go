package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	mu       sync.RWMutex
)

// Config represents the application configuration
type Config struct {
	Cache   CacheConfig   `mapstructure:"cache"`
	Log     LogConfig     `mapstructure:"log"`
	Lookup  LookupConfig  `mapstructure:"lookup"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// CacheConfig contains cache configuration
type CacheConfig struct {
	DefaultTTL    int `mapstructure:"default_ttl" validate:"min=1"`    // TTL in seconds
	SweepInterval int `mapstructure:"sweep_interval" validate:"min=1"` // seconds between sweep passes
}

// TTL returns the default entry TTL as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.DefaultTTL) * time.Second
}

// Sweep returns the sweep interval as a duration.
func (c CacheConfig) Sweep() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level" validate:"required"`
	Development bool   `mapstructure:"development"`
}

// LookupConfig contains document lookup settings
type LookupConfig struct {
	MaxConcurrent   int `mapstructure:"max_concurrent" validate:"min=1"`
	SourceLatencyMS int `mapstructure:"source_latency_ms" validate:"min=0"`
}

// SourceLatency returns the simulated source latency as a duration.
func (c LookupConfig) SourceLatency() time.Duration {
	return time.Duration(c.SourceLatencyMS) * time.Millisecond
}

// MetricsConfig contains metrics configuration
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace" validate:"required"`
}

// Get returns the singleton configuration instance
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		return &Config{}
	}
	return instance
}

// Load initializes and loads configuration from file and environment variables
func Load(configPath string) error {
	mu.Lock()
	defer mu.Unlock()
	return load(configPath)
}

func load(configPath string) error {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("APP")
	viper.AutomaticEnv()

	// Set default values
	setDefaults()

	// Load from file if provided
	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables
	bindEnvVars()

	// Unmarshal configuration
	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validate(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	instance = cfg
	return nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Cache defaults
	viper.SetDefault("cache.default_ttl", 300)
	viper.SetDefault("cache.sweep_interval", 30)

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)

	// Lookup defaults
	viper.SetDefault("lookup.max_concurrent", 8)
	// Задержка имитирует медленный внешний источник
	viper.SetDefault("lookup.source_latency_ms", 120)

	// Metrics defaults
	viper.SetDefault("metrics.namespace", "memcache_helper")
}

// bindEnvVars binds environment variables to viper keys
func bindEnvVars() {
	// Cache
	viper.BindEnv("cache.default_ttl", "APP_CACHE_DEFAULT_TTL")
	viper.BindEnv("cache.sweep_interval", "APP_CACHE_SWEEP_INTERVAL")

	// Log
	viper.BindEnv("log.level", "APP_LOG_LEVEL")
	viper.BindEnv("log.development", "APP_LOG_DEVELOPMENT")

	// Lookup
	viper.BindEnv("lookup.max_concurrent", "APP_LOOKUP_MAX_CONCURRENT")
	viper.BindEnv("lookup.source_latency_ms", "APP_LOOKUP_SOURCE_LATENCY_MS")

	// Metrics
	viper.BindEnv("metrics.namespace", "APP_METRICS_NAMESPACE")
}

// validate performs validation on the configuration
func validate(cfg *Config) error {
	// Validate Cache
	if cfg.Cache.DefaultTTL < 1 {
		return fmt.Errorf("cache.default_ttl must be at least 1 second")
	}
	if cfg.Cache.SweepInterval < 1 {
		return fmt.Errorf("cache.sweep_interval must be at least 1 second")
	}

	// Validate Log
	if cfg.Log.Level == "" {
		return fmt.Errorf("log.level is required")
	}

	// Validate Lookup
	if cfg.Lookup.MaxConcurrent < 1 {
		return fmt.Errorf("lookup.max_concurrent must be at least 1")
	}
	if cfg.Lookup.SourceLatencyMS < 0 {
		return fmt.Errorf("lookup.source_latency_ms must be non-negative")
	}

	// Validate Metrics
	if cfg.Metrics.Namespace == "" {
		return fmt.Errorf("metrics.namespace is required")
	}

	return nil
}

// Reload reloads the configuration (thread-safe)
func Reload(configPath string) error {
	mu.Lock()
	defer mu.Unlock()

	instance = nil
	return load(configPath)
}

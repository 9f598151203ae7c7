// Package config provides configuration management for the dataset service
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the configuration of the dataset service and its collaborators
type Config struct {
	// Pipeline execution
	ParallelThreshold int  `json:"parallel_threshold" yaml:"parallel_threshold" mapstructure:"parallel_threshold"` // Minimum cells to fan column work out to workers
	WorkerPoolSize    int  `json:"worker_pool_size" yaml:"worker_pool_size" mapstructure:"worker_pool_size"`       // Number of worker goroutines (0 = auto-detect)
	MetricsCollection bool `json:"metrics_collection" yaml:"metrics_collection" mapstructure:"metrics_collection"` // Record per-stage timings
	CacheLimitMB      int  `json:"cache_limit_mb" yaml:"cache_limit_mb" mapstructure:"cache_limit_mb"`             // Memory for cached measurement tables (0 = unbounded)

	// Validation and analysis
	MissingDataThreshold float64 `json:"missing_data_threshold" yaml:"missing_data_threshold" mapstructure:"missing_data_threshold"` // Missing share (0-1) above which a column is flagged
	DefaultMaxComponents int     `json:"default_max_components" yaml:"default_max_components" mapstructure:"default_max_components"` // PCA components when the caller gives none

	// Collaborators
	StoragePath      string `json:"storage_path" yaml:"storage_path" mapstructure:"storage_path"`                   // SQLite file ("" = in-memory store)
	OpenCPUURL       string `json:"opencpu_url" yaml:"opencpu_url" mapstructure:"opencpu_url"`                      // Base URL of the OpenCPU server ("" = local PCA)
	OpenCPUPackage   string `json:"opencpu_package" yaml:"opencpu_package" mapstructure:"opencpu_package"`          // R package exposing the analysis functions
	HTTPTimeoutSec   int    `json:"http_timeout_sec" yaml:"http_timeout_sec" mapstructure:"http_timeout_sec"`       // Per-request timeout
	RetryMaxAttempts int    `json:"retry_max_attempts" yaml:"retry_max_attempts" mapstructure:"retry_max_attempts"` // Attempts on connectivity failures and 5xx
	RetryBaseDelayMs int    `json:"retry_base_delay_ms" yaml:"retry_base_delay_ms" mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMs  int    `json:"retry_max_delay_ms" yaml:"retry_max_delay_ms" mapstructure:"retry_max_delay_ms"`

	// Logging
	LogLevel       string `json:"log_level" yaml:"log_level" mapstructure:"log_level"`                   // debug, info, warn, error
	VerboseLogging bool   `json:"verbose_logging" yaml:"verbose_logging" mapstructure:"verbose_logging"` // Shorthand for debug level
}

// Global configuration instance
var (
	globalConfig Config
	configMutex  sync.RWMutex
)

// Default configuration values
const (
	DefaultParallelThreshold    = 100000
	DefaultCacheLimitMB         = 512
	DefaultMissingDataThreshold = 0.5
	DefaultMaxComponents        = 5
	DefaultOpenCPUPackage       = "metabulo"
	DefaultHTTPTimeoutSec       = 60
	DefaultRetryMaxAttempts     = 3
	DefaultRetryBaseDelayMs     = 500
	DefaultRetryMaxDelayMs      = 4000
	DefaultLogLevel             = "info"

	envPrefix = "METABULO"
)

// Initialize global configuration with defaults
func init() {
	globalConfig = NewConfig()
}

// NewConfig creates a new configuration with default values
func NewConfig() Config {
	return Config{
		ParallelThreshold: DefaultParallelThreshold,
		WorkerPoolSize:    0, // Auto-detect
		MetricsCollection: false,
		CacheLimitMB:      DefaultCacheLimitMB,

		MissingDataThreshold: DefaultMissingDataThreshold,
		DefaultMaxComponents: DefaultMaxComponents,

		StoragePath:      "",
		OpenCPUURL:       "",
		OpenCPUPackage:   DefaultOpenCPUPackage,
		HTTPTimeoutSec:   DefaultHTTPTimeoutSec,
		RetryMaxAttempts: DefaultRetryMaxAttempts,
		RetryBaseDelayMs: DefaultRetryBaseDelayMs,
		RetryMaxDelayMs:  DefaultRetryMaxDelayMs,

		LogLevel:       DefaultLogLevel,
		VerboseLogging: false,
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.ParallelThreshold <= 0 {
		return fmt.Errorf("ParallelThreshold must be positive, got %d", c.ParallelThreshold)
	}

	if c.WorkerPoolSize < 0 {
		return fmt.Errorf("WorkerPoolSize must be non-negative, got %d", c.WorkerPoolSize)
	}

	if c.CacheLimitMB < 0 {
		return fmt.Errorf("CacheLimitMB must be non-negative, got %d", c.CacheLimitMB)
	}

	if c.MissingDataThreshold < 0.0 || c.MissingDataThreshold > 1.0 {
		return fmt.Errorf("MissingDataThreshold must be between 0 and 1, got %f", c.MissingDataThreshold)
	}

	if c.DefaultMaxComponents <= 0 {
		return fmt.Errorf("DefaultMaxComponents must be positive, got %d", c.DefaultMaxComponents)
	}

	if c.HTTPTimeoutSec <= 0 {
		return fmt.Errorf("HTTPTimeoutSec must be positive, got %d", c.HTTPTimeoutSec)
	}

	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RetryMaxAttempts must be positive, got %d", c.RetryMaxAttempts)
	}

	if c.RetryBaseDelayMs < 0 || c.RetryMaxDelayMs < 0 {
		return fmt.Errorf("retry delays must be non-negative, got %d/%d", c.RetryBaseDelayMs, c.RetryMaxDelayMs)
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// WithDefaults returns a new configuration with default values filled in for zero values
func (c Config) WithDefaults() Config {
	defaults := NewConfig()

	if c.ParallelThreshold == 0 {
		c.ParallelThreshold = defaults.ParallelThreshold
	}
	if c.DefaultMaxComponents == 0 {
		c.DefaultMaxComponents = defaults.DefaultMaxComponents
	}
	if c.OpenCPUPackage == "" {
		c.OpenCPUPackage = defaults.OpenCPUPackage
	}
	if c.HTTPTimeoutSec == 0 {
		c.HTTPTimeoutSec = defaults.HTTPTimeoutSec
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = defaults.RetryMaxAttempts
	}
	if c.RetryBaseDelayMs == 0 {
		c.RetryBaseDelayMs = defaults.RetryBaseDelayMs
	}
	if c.RetryMaxDelayMs == 0 {
		c.RetryMaxDelayMs = defaults.RetryMaxDelayMs
	}
	if c.LogLevel == "" {
		c.LogLevel = defaults.LogLevel
	}

	// Boolean fields and MissingDataThreshold are not defaulted: zero is a
	// valid setting for them. File loaders decode onto NewConfig instead.

	return c
}

// HTTPTimeout returns the per-request timeout as a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSec) * time.Second
}

// RetryBaseDelay returns the first retry backoff.
func (c Config) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelayMs) * time.Millisecond
}

// RetryMaxDelay returns the backoff cap.
func (c Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelayMs) * time.Millisecond
}

// CacheLimitBytes returns the cache limit in bytes.
func (c Config) CacheLimitBytes() int64 {
	return int64(c.CacheLimitMB) << 20
}

// Workers returns the worker count, resolving 0 to the CPU count.
func (c Config) Workers() int {
	if c.WorkerPoolSize > 0 {
		return c.WorkerPoolSize
	}
	return runtime.NumCPU()
}

// Level returns the slog level for this configuration.
func (c Config) Level() slog.Level {
	if c.VerboseLogging {
		return slog.LevelDebug
	}
	lvl, err := ParseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// SetGlobalConfig sets the global configuration
func SetGlobalConfig(config Config) {
	configMutex.Lock()
	defer configMutex.Unlock()
	globalConfig = config
}

// GetGlobalConfig returns the current global configuration
func GetGlobalConfig() Config {
	configMutex.RLock()
	defer configMutex.RUnlock()
	return globalConfig
}

// LoadFromJSON loads configuration from JSON data. Absent keys keep their
// default values.
func LoadFromJSON(data []byte) (Config, error) {
	config := NewConfig()
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing JSON configuration: %w", err)
	}
	return config.WithDefaults(), nil
}

// LoadFromFile loads configuration from a JSON or YAML file
func LoadFromFile(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", filename, err)
	}

	config := NewConfig()
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".json":
		if config, err = LoadFromJSON(data); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", filename, err)
		}
		return config, nil
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	default:
		return Config{}, fmt.Errorf("unsupported config file format: %s", ext)
	}

	if err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", filename, err)
	}

	return config.WithDefaults(), nil
}

// Load resolves configuration from defaults, an optional file and METABULO_*
// environment variables. Precedence: env > file > defaults.
func Load(cfgFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := NewConfig()
	v.SetDefault("parallel_threshold", defaults.ParallelThreshold)
	v.SetDefault("worker_pool_size", defaults.WorkerPoolSize)
	v.SetDefault("metrics_collection", defaults.MetricsCollection)
	v.SetDefault("cache_limit_mb", defaults.CacheLimitMB)
	v.SetDefault("missing_data_threshold", defaults.MissingDataThreshold)
	v.SetDefault("default_max_components", defaults.DefaultMaxComponents)
	v.SetDefault("storage_path", defaults.StoragePath)
	v.SetDefault("opencpu_url", defaults.OpenCPUURL)
	v.SetDefault("opencpu_package", defaults.OpenCPUPackage)
	v.SetDefault("http_timeout_sec", defaults.HTTPTimeoutSec)
	v.SetDefault("retry_max_attempts", defaults.RetryMaxAttempts)
	v.SetDefault("retry_base_delay_ms", defaults.RetryBaseDelayMs)
	v.SetDefault("retry_max_delay_ms", defaults.RetryMaxDelayMs)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("verbose_logging", defaults.VerboseLogging)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", cfgFile, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// WriteYAML encodes the configuration as YAML.
func WriteYAML(c Config, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	return enc.Close()
}

// Save writes the configuration as YAML, creating parent directories.
func Save(c Config, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("mkdir config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(filename, b, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

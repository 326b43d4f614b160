package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NoriginMedia/nannoq-tools-sub001/domain/versioning"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/utils"
)

// Config holds all application configuration
type Config struct {
	Environment string `yaml:"environment" validate:"required,oneof=development test staging production"`
	ServiceName string `yaml:"service_name" validate:"required"`

	// Logging
	LogLevel string `yaml:"log_level" validate:"required,oneof=debug info warn error"`

	Versioning VersioningConfig `yaml:"versioning"`

	// Feature flags
	EnableMetrics    bool   `yaml:"enable_metrics"`
	EnableTracing    bool   `yaml:"enable_tracing"`
	MetricsNamespace string `yaml:"metrics_namespace" validate:"required"`
}

// VersioningConfig tunes the diff and patch engine
type VersioningConfig struct {
	Parallel          bool   `yaml:"parallel"`
	MaxParallelism    int    `yaml:"max_parallelism" validate:"min=1,max=1024"`
	CorrelationPrefix string `yaml:"correlation_prefix" validate:"max=32"`

	// History retention
	HistoryMaxVersions int           `yaml:"history_max_versions" validate:"min=0"`
	HistoryRetention   time.Duration `yaml:"history_retention" validate:"min=0"`

	// History storage
	HistoryBackend string `yaml:"history_backend" validate:"required,oneof=memory dynamodb"`
	HistoryTable   string `yaml:"history_table" validate:"required_if=HistoryBackend dynamodb"`
	AWSRegion      string `yaml:"aws_region"`

	// EventBus names the EventBridge bus commits are announced on; empty
	// disables announcements
	EventBus string `yaml:"event_bus"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	policy := versioning.DefaultRetentionPolicy()
	return &Config{
		Environment: "development",
		ServiceName: "nannoq-versioning",
		LogLevel:    "info",
		Versioning: VersioningConfig{
			Parallel:           true,
			MaxParallelism:     runtime.GOMAXPROCS(0),
			HistoryMaxVersions: policy.MaxVersions,
			HistoryRetention:   policy.RetentionPeriod,
			HistoryBackend:     "memory",
			AWSRegion:          "us-west-2",
		},
		MetricsNamespace: "nannoq",
	}
}

// LoadConfig loads configuration from defaults, the optional YAML file named
// by VERSIONING_CONFIG_FILE and environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("VERSIONING_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	// Validate required configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile loads configuration from defaults, the YAML file at path and
// environment variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load is an alias for LoadConfig
func Load() (*Config, error) {
	return LoadConfig()
}

func (c *Config) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewConfigurationError("cannot open config file").WithPath(path).WithCause(err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(c); err != nil {
		return errors.NewConfigurationError("cannot parse config file").WithPath(path).WithCause(err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.ServiceName = getEnv("SERVICE_NAME", c.ServiceName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Versioning.Parallel = getEnvBool("VERSIONING_PARALLEL", c.Versioning.Parallel)
	c.Versioning.MaxParallelism = getEnvInt("VERSIONING_MAX_PARALLELISM", c.Versioning.MaxParallelism)
	c.Versioning.CorrelationPrefix = getEnv("VERSIONING_CORRELATION_PREFIX", c.Versioning.CorrelationPrefix)
	c.Versioning.HistoryMaxVersions = getEnvInt("VERSIONING_HISTORY_MAX_VERSIONS", c.Versioning.HistoryMaxVersions)
	c.Versioning.HistoryRetention = getEnvDuration("VERSIONING_HISTORY_RETENTION", c.Versioning.HistoryRetention)
	c.Versioning.HistoryBackend = getEnv("VERSIONING_HISTORY_BACKEND", c.Versioning.HistoryBackend)
	c.Versioning.HistoryTable = getEnv("VERSIONING_HISTORY_TABLE", getEnv("DYNAMODB_TABLE", c.Versioning.HistoryTable))
	c.Versioning.AWSRegion = getEnv("AWS_REGION", c.Versioning.AWSRegion)
	c.Versioning.EventBus = getEnv("VERSIONING_EVENT_BUS", getEnv("EVENT_BUS_NAME", c.Versioning.EventBus))

	c.EnableMetrics = getEnvBool("ENABLE_METRICS", c.EnableMetrics)
	c.EnableTracing = getEnvBool("ENABLE_TRACING", c.EnableTracing)
	c.MetricsNamespace = getEnv("METRICS_NAMESPACE", c.MetricsNamespace)
}

// Validate checks if the configuration is usable
func (c *Config) Validate() error {
	return utils.ValidateStruct(c)
}

// Parallelism returns the goroutine bound handed to the engine
func (c *Config) Parallelism() int {
	if !c.Versioning.Parallel {
		return 1
	}
	return c.Versioning.MaxParallelism
}

// RetentionPolicy returns the version history retention policy
func (c *Config) RetentionPolicy() versioning.RetentionPolicy {
	return versioning.RetentionPolicy{
		MaxVersions:     c.Versioning.HistoryMaxVersions,
		RetentionPeriod: c.Versioning.HistoryRetention,
	}
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

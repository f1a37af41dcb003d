// Package config loads and validates application configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Store         StoreConfig         `yaml:"store"`
	Policies      PoliciesConfig      `yaml:"policies"`
	Broker        BrokerConfig        `yaml:"broker"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Retry         RetryConfig         `yaml:"retry"`
	Runner        RunnerConfig        `yaml:"runner"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig describes workflow history persistence.
type StoreConfig struct {
	Driver          string        `yaml:"driver"` // memory | postgres
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// PoliciesConfig describes where tenant compliance policies come from.
type PoliciesConfig struct {
	File string `yaml:"file"`
}

// BrokerConfig describes the outbound message broker.
type BrokerConfig struct {
	Driver            string `yaml:"driver"` // memory | nats
	URLEnv            string `yaml:"url_env"`
	ProcessingSubject string `yaml:"processing_subject"`
	AlertSubject      string `yaml:"alert_subject"`
	OperationsSubject string `yaml:"operations_subject"`
}

// DedupConfig describes the publish deduplication table layered over
// brokers without native dedup support.
type DedupConfig struct {
	Enabled bool          `yaml:"enabled"`
	Driver  string        `yaml:"driver"` // memory | redis
	AddrEnv string        `yaml:"addr_env"`
	DB      int           `yaml:"db"`
	TTL     time.Duration `yaml:"ttl"`
}

// RetryConfig bounds activity retries.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// RunnerConfig sizes the workflow worker pool.
type RunnerConfig struct {
	Workers    int `yaml:"workers"`
	QueueDepth int `yaml:"queue_depth"`
}

// ObservabilityConfig describes logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	MetricsPath string `yaml:"metrics_path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "memory",
			DSNEnv:          "TXGATE_STORE_DSN",
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Policies: PoliciesConfig{
			File: "policies.yaml",
		},
		Broker: BrokerConfig{
			Driver:            "memory",
			URLEnv:            "TXGATE_BROKER_URL",
			ProcessingSubject: "txgate.processing",
			AlertSubject:      "txgate.alerts",
			OperationsSubject: "txgate.operations",
		},
		Dedup: DedupConfig{
			Driver:  "memory",
			AddrEnv: "TXGATE_REDIS_ADDR",
			TTL:     24 * time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts:       4,
			BackoffInitial:    100 * time.Millisecond,
			BackoffMultiplier: 2.0,
			BackoffMax:        5 * time.Second,
		},
		Runner: RunnerConfig{
			Workers:    4,
			QueueDepth: 256,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			MetricsPath: "/metrics",
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be memory or postgres", c.Store.Driver))
	}
	switch c.Broker.Driver {
	case "memory", "nats":
	default:
		errs = append(errs, fmt.Sprintf("broker.driver %q must be memory or nats", c.Broker.Driver))
	}
	if c.Dedup.Enabled {
		switch c.Dedup.Driver {
		case "memory", "redis":
		default:
			errs = append(errs, fmt.Sprintf("dedup.driver %q must be memory or redis", c.Dedup.Driver))
		}
	}
	if c.Policies.File == "" {
		errs = append(errs, "policies.file is required")
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads TXGATE_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TXGATE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TXGATE_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("TXGATE_BROKER_DRIVER"); v != "" {
		cfg.Broker.Driver = v
	}
	if v := os.Getenv("TXGATE_POLICIES_FILE"); v != "" {
		cfg.Policies.File = v
	}
	if v := os.Getenv("TXGATE_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}

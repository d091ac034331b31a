// Package config provides configuration for the billing server.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml), with ${VAR} expansion
//  2. Environment variables, after reading an optional .env file
//
// Example usage:
//
//	cfg := config.LoadOrEnv("config.yaml")
//	store, err := sqlite.New(cfg.Storage.DatabasePath)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// StorageConfig holds database configuration. An empty path selects the
// in-memory store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type SchedulerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type EngineConfig struct {
	AuthorisedFallback *bool `yaml:"authorised_fallback"`
}

// Fallback reports whether the reference-level authorised fallback is on.
// Unset means on.
func (e EngineConfig) Fallback() bool {
	return e.AuthorisedFallback == nil || *e.AuthorisedFallback
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{Name: "abstraction-billing", Environment: "development"},
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		Storage:   StorageConfig{DatabasePath: "./billing.db"},
		Logging:   LoggingConfig{Level: "info", Format: "json"},
		Scheduler: SchedulerConfig{Enabled: true, Interval: 30 * time.Second},
	}
}

// Load reads and parses the config file. Unset keys keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${BILLING_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	_ = godotenv.Load()

	def := Default()
	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", def.Service.Name),
			Environment: getEnv("ENVIRONMENT", def.Service.Environment),
		},
		Server: ServerConfig{
			Port:           getEnvInt("PORT", def.Server.Port),
			AllowedOrigins: getEnvList("ALLOWED_ORIGINS", def.Server.AllowedOrigins),
			ReadTimeout:    getEnvDuration("READ_TIMEOUT", def.Server.ReadTimeout),
			WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", def.Server.WriteTimeout),
		},
		Storage: StorageConfig{
			DatabasePath: getEnv("BILLING_DB_PATH", def.Storage.DatabasePath),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", def.Logging.Level),
			Format: getEnv("LOG_FORMAT", def.Logging.Format),
		},
		Scheduler: SchedulerConfig{
			Enabled:  getEnvBool("SCHEDULER_ENABLED", def.Scheduler.Enabled),
			Interval: getEnvDuration("SCHEDULER_INTERVAL", def.Scheduler.Interval),
		},
	}
	if v, ok := os.LookupEnv("AUTHORISED_FALLBACK"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Engine.AuthorisedFallback = &b
		}
	}
	return cfg
}

// LoadOrEnv tries to load from path, falls back to environment variables
func LoadOrEnv(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// Validate rejects values the server cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be positive when the scheduler is enabled")
	}
	return nil
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable.
func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

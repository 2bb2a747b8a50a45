// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Modules   ModulesConfig   `yaml:"modules"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	OpenAPI   OpenAPIConfig   `yaml:"openapi"`
	Responses ResponsesConfig `yaml:"responses"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StoreConfig configures the document store.
type StoreConfig struct {
	Driver   string `yaml:"driver"`   // "sqlite" or "mongo"
	DSN      string `yaml:"dsn"`      // file path for sqlite, URI for mongo
	Database string `yaml:"database"` // mongo only
}

// ModulesConfig locates the module definition files.
type ModulesConfig struct {
	// Dir holds the module files. Empty serves the bundled modules.
	Dir string `yaml:"dir"`

	// HashCost is the bcrypt cost for secret fields.
	HashCost int `yaml:"hash_cost"`
}

// AuthConfig names the auth strategies routes may refer to.
type AuthConfig struct {
	Strategies map[string]StrategyConfig `yaml:"strategies"`
}

// StrategyConfig configures one named strategy. A strategy without tokens
// accepts every request.
type StrategyConfig struct {
	Tokens []string `yaml:"tokens"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // Enable /metrics endpoint
	Path    string `yaml:"path"`    // Custom path (default: /metrics)
}

// OpenAPIConfig configures the generated API document and its UI.
type OpenAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // default: /openapi.json
	Title   string `yaml:"title"`
}

// ResponsesConfig configures reply validation.
type ResponsesConfig struct {
	Validate bool `yaml:"validate"`

	// Sample caps the per-route sample rate, 0..100.
	Sample int `yaml:"sample"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := preset()
	setDefaults(cfg)
	return cfg
}

// preset holds the defaults a zero value cannot express. Load and LoadFromEnv
// overlay onto it before setDefaults, so dependent defaults such as the store
// DSN follow the chosen driver.
func preset() *Config {
	return &Config{
		Metrics:   MetricsConfig{Enabled: true},
		OpenAPI:   OpenAPIConfig{Enabled: true},
		Responses: ResponsesConfig{Validate: true, Sample: 100},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := preset()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv creates configuration entirely from environment variables.
//
// Environment variables:
//
//	RESTMOD_SERVER_HOST         - Server host (default: 0.0.0.0)
//	RESTMOD_SERVER_PORT         - Server port (default: 8080)
//	RESTMOD_STORE_DRIVER        - sqlite or mongo (default: sqlite)
//	RESTMOD_STORE_DSN           - SQLite path or Mongo URI (default: per driver)
//	RESTMOD_STORE_DATABASE      - Mongo database (default: restmod)
//	RESTMOD_MODULES_DIR         - Module definitions (default: bundled modules)
//	RESTMOD_LOG_LEVEL           - Log level: debug, info, warn, error (default: info)
//	RESTMOD_LOG_FORMAT          - Log format: json or console (default: json)
//	RESTMOD_METRICS_ENABLED     - Enable /metrics endpoint (default: true)
//	RESTMOD_OPENAPI_ENABLED     - Enable /openapi.json and /docs (default: true)
//	RESTMOD_RESPONSES_VALIDATE  - Validate replies (default: true)
//	RESTMOD_RESPONSES_SAMPLE    - Percentage of replies validated (default: 100)
func LoadFromEnv() (*Config, error) {
	cfg := preset()

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// LoadWithFallback loads from path when the file exists, otherwise from the
// environment alone.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return LoadFromEnv()
}

// applyEnvOverrides applies RESTMOD_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("RESTMOD_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("RESTMOD_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RESTMOD_SERVER_READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.ReadTimeout = d
		}
	}
	if v := os.Getenv("RESTMOD_SERVER_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.WriteTimeout = d
		}
	}

	// Store configuration
	if v := os.Getenv("RESTMOD_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("RESTMOD_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("RESTMOD_STORE_DATABASE"); v != "" {
		cfg.Store.Database = v
	}

	// Modules configuration
	if v := os.Getenv("RESTMOD_MODULES_DIR"); v != "" {
		cfg.Modules.Dir = v
	}
	if v := os.Getenv("RESTMOD_MODULES_HASH_COST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Modules.HashCost = n
		}
	}

	// Logging configuration
	if v := os.Getenv("RESTMOD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RESTMOD_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	// Metrics configuration
	if v := os.Getenv("RESTMOD_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("RESTMOD_METRICS_PATH"); v != "" {
		cfg.Metrics.Path = v
	}

	// OpenAPI configuration
	if v := os.Getenv("RESTMOD_OPENAPI_ENABLED"); v != "" {
		cfg.OpenAPI.Enabled = parseBool(v)
	}
	if v := os.Getenv("RESTMOD_OPENAPI_TITLE"); v != "" {
		cfg.OpenAPI.Title = v
	}

	// Response validation
	if v := os.Getenv("RESTMOD_RESPONSES_VALIDATE"); v != "" {
		cfg.Responses.Validate = parseBool(v)
	}
	if v := os.Getenv("RESTMOD_RESPONSES_SAMPLE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Responses.Sample = n
		}
	}
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" {
		switch cfg.Store.Driver {
		case "mongo":
			cfg.Store.DSN = "mongodb://localhost:27017"
		default:
			cfg.Store.DSN = "restmod.db"
		}
	}
	if cfg.Store.Database == "" {
		cfg.Store.Database = "restmod"
	}

	if cfg.Modules.HashCost == 0 {
		cfg.Modules.HashCost = bcrypt.DefaultCost
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.OpenAPI.Path == "" {
		cfg.OpenAPI.Path = "/openapi.json"
	}
	if cfg.OpenAPI.Title == "" {
		cfg.OpenAPI.Title = "restmod API"
	}
}

func validate(cfg *Config) error {
	validDrivers := map[string]bool{"sqlite": true, "mongo": true}
	if !validDrivers[cfg.Store.Driver] {
		return fmt.Errorf("store.driver must be 'sqlite' or 'mongo', got %q", cfg.Store.Driver)
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", cfg.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	if cfg.Modules.HashCost < bcrypt.MinCost || cfg.Modules.HashCost > bcrypt.MaxCost {
		return fmt.Errorf("modules.hash_cost must be within %d..%d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	if cfg.Responses.Sample < 0 || cfg.Responses.Sample > 100 {
		return fmt.Errorf("responses.sample %d is outside 0..100", cfg.Responses.Sample)
	}

	for name, s := range cfg.Auth.Strategies {
		if name == "" {
			return fmt.Errorf("auth.strategies: empty strategy name")
		}
		for i, tok := range s.Tokens {
			if tok == "" {
				return fmt.Errorf("auth.strategies.%s.tokens[%d] is empty", name, i)
			}
		}
	}

	return nil
}

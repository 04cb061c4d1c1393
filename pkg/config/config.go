// Package config provides configuration structures and loading logic for the
// rule engine service, including hot reload of the rule set file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tollboothapp/tollbooth/pkg/capture"
)

// Config holds the global configuration for the service.
type Config struct {
	Server ServerConfig `yaml:"server"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Storage   StorageConfig   `yaml:"storage"`
	Rules     RulesConfig     `yaml:"rules"`
	Capture   CaptureConfig   `yaml:"capture"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP API server.
type ServerConfig struct {
	APIAddress string `yaml:"api_address"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// StorageConfig selects the artifact store backend.
type StorageConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	// Path is the sqlite database file, required for the sqlite backend.
	Path string `yaml:"path"`
}

// RulesConfig holds configuration for rule set loading.
type RulesConfig struct {
	File string `yaml:"file"`
}

// CaptureConfig holds configuration for traffic classification.
type CaptureConfig struct {
	InterceptMode string `yaml:"intercept_mode"`
	MaxBodySize   int    `yaml:"max_body_size"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			APIAddress: ":8090",
		},
		Storage: StorageConfig{
			Backend: "memory",
		},
		Capture: CaptureConfig{
			InterceptMode: string(capture.ModePassthrough),
			MaxBodySize:   capture.DefaultMaxBodySize,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("TOLLBOOTH_API_ADDR"); val != "" {
		cfg.Server.APIAddress = val
	}

	if val := os.Getenv("TOLLBOOTH_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("TOLLBOOTH_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("TOLLBOOTH_STORAGE_BACKEND"); val != "" {
		cfg.Storage.Backend = val
	}
	if val := os.Getenv("TOLLBOOTH_STORAGE_PATH"); val != "" {
		cfg.Storage.Path = val
	}

	if val := os.Getenv("TOLLBOOTH_RULES_FILE"); val != "" {
		cfg.Rules.File = val
	}

	if val := os.Getenv("TOLLBOOTH_INTERCEPT_MODE"); val != "" {
		cfg.Capture.InterceptMode = val
	}
	if val := os.Getenv("MAX_BODY_SIZE"); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil && parsed > 0 {
			cfg.Capture.MaxBodySize = parsed
		}
	}

	if val := os.Getenv("TOLLBOOTH_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("TOLLBOOTH_LOG_PRETTY"); val == "true" {
		cfg.Logging.Pretty = true
	}
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage configuration: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture configuration: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.APIAddress) == "" {
		c.APIAddress = ":8090"
	}
	return nil
}

// Validate performs validation of storage configuration
func (c *StorageConfig) Validate() error {
	backend := strings.TrimSpace(strings.ToLower(c.Backend))
	if backend == "" {
		backend = "memory"
	}
	switch backend {
	case "memory":
		c.Backend = backend
		return nil
	case "sqlite":
		c.Backend = backend
		if strings.TrimSpace(c.Path) == "" {
			return fmt.Errorf("sqlite backend requires storage.path")
		}
		return nil
	default:
		return fmt.Errorf("invalid storage backend %q, supported backends: memory, sqlite", c.Backend)
	}
}

// Validate performs validation of capture configuration
func (c *CaptureConfig) Validate() error {
	mode := strings.TrimSpace(strings.ToLower(c.InterceptMode))
	if mode == "" {
		mode = string(capture.ModePassthrough)
	}
	if !capture.InterceptMode(mode).Valid() {
		return fmt.Errorf("invalid intercept mode %q, supported modes: passthrough, intercept_llm, intercept_all", c.InterceptMode)
	}
	c.InterceptMode = mode

	if c.MaxBodySize <= 0 {
		c.MaxBodySize = capture.DefaultMaxBodySize
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
		return nil
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}
}

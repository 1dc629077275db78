// Package config loads broker-session's runtime configuration: the
// trading credentials, the REST/streaming endpoints, timeouts, and the
// key store directory, from environment variables with an optional
// YAML override file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	Environment string `yaml:"environment"`

	PhoneNumber string `yaml:"-"` // never persisted to disk
	PIN         string `yaml:"-"`

	ConfigDir string `yaml:"configDir"`

	REST   RESTConfig   `yaml:"rest"`
	Stream StreamConfig `yaml:"stream"`

	Port    int           `yaml:"port"`
	Logging LoggingConfig `yaml:"logging"`
}

// RESTConfig points at the handshake gateway.
type RESTConfig struct {
	BaseURL string        `yaml:"baseUrl"`
	Timeout time.Duration `yaml:"timeout"`
}

// StreamConfig points at the streaming gateway and its liveness tuning.
type StreamConfig struct {
	URL               string        `yaml:"url"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	StaleAfter        time.Duration `yaml:"staleAfter"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

const (
	defaultRESTBaseURL = "https://api.traderepublic.com"
	defaultStreamURL   = "wss://api.traderepublic.com"
	defaultRESTTimeout = 10 * time.Second
	defaultHeartbeat   = 20 * time.Second
	defaultStaleAfter  = 40 * time.Second
	defaultPort        = 8080
	defaultConfigDirName = ".trade-republic-mcp"
)

// Default returns a Config populated with the literal defaults used when
// no file or environment override is present.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Environment: "development",
		ConfigDir:   filepath.Join(home, defaultConfigDirName),
		REST: RESTConfig{
			BaseURL: defaultRESTBaseURL,
			Timeout: defaultRESTTimeout,
		},
		Stream: StreamConfig{
			URL:               defaultStreamURL,
			HeartbeatInterval: defaultHeartbeat,
			StaleAfter:        defaultStaleAfter,
		},
		Port:    defaultPort,
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadFromFile reads a YAML override on top of Default(), for anything
// the environment variables don't cover (endpoints, timeouts, config dir).
func LoadFromFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ValidationError describes one configuration problem. Level "error"
// blocks Load; "warning" is surfaced but does not.
type ValidationError struct {
	Field   string
	Message string
	Level   string
}

// Validate checks the fields the core cannot operate without.
func Validate(cfg Config) []ValidationError {
	var errs []ValidationError

	if cfg.PhoneNumber == "" {
		errs = append(errs, ValidationError{Field: "phoneNumber", Message: "TRADE_REPUBLIC_PHONE_NUMBER is not set", Level: "error"})
	}
	if cfg.PIN == "" {
		errs = append(errs, ValidationError{Field: "pin", Message: "TRADE_REPUBLIC_PIN is not set", Level: "error"})
	}
	if cfg.REST.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "rest.baseUrl", Message: "REST base URL is empty", Level: "error"})
	}
	if cfg.Stream.URL == "" {
		errs = append(errs, ValidationError{Field: "stream.url", Message: "stream URL is empty", Level: "error"})
	}
	if cfg.Stream.StaleAfter <= cfg.Stream.HeartbeatInterval {
		errs = append(errs, ValidationError{Field: "stream.staleAfter", Message: "staleAfter should exceed heartbeatInterval", Level: "warning"})
	}

	return errs
}

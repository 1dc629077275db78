package config

import (
	"os"
	"strings"
)

// GetEnvironment returns the current environment from BROKER_ENV,
// defaulting to development.
func GetEnvironment() string {
	env := os.Getenv("BROKER_ENV")
	if env == "" {
		env = "development"
	}
	return strings.ToLower(env)
}

// IsProduction reports whether GetEnvironment is "production".
func IsProduction() bool {
	return GetEnvironment() == "production"
}

// applyEnvironmentOverrides layers environment variables onto cfg, the
// highest-priority source.
func applyEnvironmentOverrides(cfg *Config) {
	cfg.Environment = GetEnvironment()

	if phone := os.Getenv("TRADE_REPUBLIC_PHONE_NUMBER"); phone != "" {
		cfg.PhoneNumber = phone
	}
	if pin := os.Getenv("TRADE_REPUBLIC_PIN"); pin != "" {
		cfg.PIN = pin
	}
	if port := os.Getenv("PORT"); port != "" {
		if n, ok := parsePositiveInt(port); ok {
			cfg.Port = n
		}
	}
	if dir := os.Getenv("BROKER_CONFIG_DIR"); dir != "" {
		cfg.ConfigDir = dir
	}
	if level := os.Getenv("BROKER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}

func parsePositiveInt(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}

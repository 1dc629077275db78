package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoaderOptions configures Load.
type LoaderOptions struct {
	// YAMLPath overrides the defaults in Default() when present.
	YAMLPath string
	// DotenvPath loads additional environment variables before the
	// process environment is read, if the file exists. Empty disables it.
	DotenvPath string
	// SkipValidation disables the error-level validation check.
	SkipValidation bool
}

// DefaultLoaderOptions mirrors the common case: an optional ".env" in
// the working directory, no YAML override.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{DotenvPath: ".env"}
}

// Load resolves a Config from defaults, an optional YAML file, an
// optional .env file, and the process environment, in that ascending
// priority order.
func Load(opts ...LoaderOptions) (Config, error) {
	options := DefaultLoaderOptions()
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.DotenvPath != "" {
		if _, err := os.Stat(options.DotenvPath); err == nil {
			if err := godotenv.Load(options.DotenvPath); err != nil {
				return Config{}, fmt.Errorf("config: loading %s: %w", options.DotenvPath, err)
			}
		}
	}

	cfg := Default()
	if options.YAMLPath != "" {
		loaded, err := LoadFromFile(options.YAMLPath)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}

	applyEnvironmentOverrides(&cfg)

	if !options.SkipValidation {
		for _, e := range Validate(cfg) {
			if e.Level == "error" {
				return Config{}, fmt.Errorf("config: %s: %s", e.Field, e.Message)
			}
		}
	}

	return cfg, nil
}

// MustLoad loads configuration or panics, for use in command
// entrypoints that cannot proceed without it.
func MustLoad(opts ...LoaderOptions) Config {
	cfg, err := Load(opts...)
	if err != nil {
		panic(err)
	}
	return cfg
}

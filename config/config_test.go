package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPopulatesLiteralDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, defaultRESTBaseURL, cfg.REST.BaseURL)
	assert.Equal(t, defaultStreamURL, cfg.Stream.URL)
	assert.Equal(t, 20*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 40*time.Second, cfg.Stream.StaleAfter)
	assert.Contains(t, cfg.ConfigDir, defaultConfigDirName)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	content := "stream:\n  url: \"wss://staging.example.com\"\n  heartbeatInterval: 5s\nport: 9090\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "wss://staging.example.com", cfg.Stream.URL)
	assert.Equal(t, 5*time.Second, cfg.Stream.HeartbeatInterval)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, defaultRESTBaseURL, cfg.REST.BaseURL) // untouched fields keep their default
}

func TestValidateFlagsMissingCredentials(t *testing.T) {
	cfg := Default()
	errs := Validate(cfg)

	var fields []string
	for _, e := range errs {
		fields = append(fields, e.Field)
	}
	assert.Contains(t, fields, "phoneNumber")
	assert.Contains(t, fields, "pin")
}

func TestValidatePassesWithCredentials(t *testing.T) {
	cfg := Default()
	cfg.PhoneNumber = "+4917012345678"
	cfg.PIN = "1234"

	for _, e := range Validate(cfg) {
		assert.NotEqual(t, "error", e.Level, e.Message)
	}
}

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFailsWithoutCredentials(t *testing.T) {
	t.Setenv("TRADE_REPUBLIC_PHONE_NUMBER", "")
	t.Setenv("TRADE_REPUBLIC_PIN", "")

	_, err := Load(LoaderOptions{DotenvPath: ""})
	require.Error(t, err)
}

func TestLoadReadsCredentialsFromEnvironment(t *testing.T) {
	t.Setenv("TRADE_REPUBLIC_PHONE_NUMBER", "+4917012345678")
	t.Setenv("TRADE_REPUBLIC_PIN", "1234")
	t.Setenv("PORT", "9999")

	cfg, err := Load(LoaderOptions{DotenvPath: ""})
	require.NoError(t, err)
	assert.Equal(t, "+4917012345678", cfg.PhoneNumber)
	assert.Equal(t, "1234", cfg.PIN)
	assert.Equal(t, 9999, cfg.Port)
}

func TestLoadSkipValidationAllowsMissingCredentials(t *testing.T) {
	t.Setenv("TRADE_REPUBLIC_PHONE_NUMBER", "")
	t.Setenv("TRADE_REPUBLIC_PIN", "")

	cfg, err := Load(LoaderOptions{DotenvPath: "", SkipValidation: true})
	require.NoError(t, err)
	assert.Empty(t, cfg.PhoneNumber)
}

func TestLoadReadsDotenvFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/.env"
	require.NoError(t, os.WriteFile(path, []byte("TRADE_REPUBLIC_PHONE_NUMBER=+4917099999999\nTRADE_REPUBLIC_PIN=5678\n"), 0o644))

	// godotenv does not override variables that already exist, even when
	// empty, so unset them (t.Setenv restores the original on cleanup).
	t.Setenv("TRADE_REPUBLIC_PHONE_NUMBER", "")
	t.Setenv("TRADE_REPUBLIC_PIN", "")
	require.NoError(t, os.Unsetenv("TRADE_REPUBLIC_PHONE_NUMBER"))
	require.NoError(t, os.Unsetenv("TRADE_REPUBLIC_PIN"))

	cfg, err := Load(LoaderOptions{DotenvPath: path})
	require.NoError(t, err)
	assert.Equal(t, "+4917099999999", cfg.PhoneNumber)
	assert.Equal(t, "5678", cfg.PIN)
}

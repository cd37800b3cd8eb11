package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

var configKeys = []string{
	"APP_ENV", "APP_HTTP_ADDR", "LOG_LEVEL", "FS_ENV_ID", "FS_API_KEY",
	"FS_DECISION_MODE", "FS_FLAGS_FILE", "FS_TIMEOUT", "FS_POLLING_INTERVAL",
	"FS_MONITORING_INTERVAL", "DEMO_VISITOR_ID", "RATE_LIMIT_PER_IP",
}

// clearEnv unsets every configuration variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func validConfig() *Config {
	return &Config{
		AppEnv:         "dev",
		HTTPAddr:       ":3000",
		LogLevel:       "info",
		EnvID:          "env",
		APIKey:         "key",
		DecisionMode:   "API",
		Timeout:        2 * time.Second,
		VisitorID:      "visitor-id",
		RateLimitPerIP: 100,
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, ":3000", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "API", cfg.DecisionMode)
	assert.Equal(t, "./flags.yaml", cfg.FlagsFile)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, 5*time.Second, cfg.PollingInterval)
	assert.Equal(t, 30*time.Second, cfg.MonitoringInterval)
	assert.Equal(t, "visitor-id", cfg.VisitorID)
	assert.Equal(t, 100, cfg.RateLimitPerIP)
	assert.Empty(t, cfg.EnvID)
	assert.Empty(t, cfg.APIKey)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("APP_HTTP_ADDR", ":9999")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("FS_ENV_ID", "env-123")
	t.Setenv("FS_API_KEY", "key-456")
	t.Setenv("FS_DECISION_MODE", "local")
	t.Setenv("FS_MONITORING_INTERVAL", "1m")
	t.Setenv("RATE_LIMIT_PER_IP", "5")

	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "env-123", cfg.EnvID)
	assert.Equal(t, "key-456", cfg.APIKey)
	assert.Equal(t, "LOCAL", cfg.DecisionMode)
	assert.Equal(t, time.Minute, cfg.MonitoringInterval)
	assert.Equal(t, 5, cfg.RateLimitPerIP)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FS_ENV_ID=from-file\nFS_API_KEY=file-key\nAPP_HTTP_ADDR=:4000\n"), 0o600))
	t.Setenv("APP_HTTP_ADDR", ":5000")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-file", cfg.EnvID)
	assert.Equal(t, "file-key", cfg.APIKey)
	assert.Equal(t, ":5000", cfg.HTTPAddr, "environment wins over the file")
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"valid API config", func(*Config) {}, ""},
		{"valid LOCAL config", func(c *Config) {
			c.DecisionMode, c.EnvID, c.APIKey, c.FlagsFile = "LOCAL", "", "", "./flags.yaml"
		}, ""},
		{"unknown mode", func(c *Config) { c.DecisionMode = "BUCKETING" }, "FS_DECISION_MODE"},
		{"API without env id", func(c *Config) { c.EnvID = "" }, "FS_ENV_ID"},
		{"API without key", func(c *Config) { c.APIKey = "" }, "FS_API_KEY"},
		{"LOCAL without file", func(c *Config) { c.DecisionMode, c.FlagsFile = "LOCAL", "" }, "FS_FLAGS_FILE"},
		{"empty address", func(c *Config) { c.HTTPAddr = "" }, "APP_HTTP_ADDR"},
		{"empty visitor", func(c *Config) { c.VisitorID = "" }, "DEMO_VISITOR_ID"},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }, "LOG_LEVEL"},
		{"zero rate limit", func(c *Config) { c.RateLimitPerIP = 0 }, "RATE_LIMIT_PER_IP"},
		{"zero timeout", func(c *Config) { c.Timeout = 0 }, "FS_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			var ve ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.Contains(t, err.Error(), "config validation failed ["+tt.field+"]")
		})
	}
}

func TestSlogLevel(t *testing.T) {
	for level, expected := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	} {
		cfg := &Config{LogLevel: level}
		assert.Equal(t, expected, cfg.SlogLevel(), level)
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := validConfig()
	cfg.PollingInterval = time.Second

	engine := cfg.EngineConfig()
	assert.Equal(t, flagship.DecisionModeAPI, engine.DecisionMode)
	assert.Equal(t, 2*time.Second, engine.Timeout)
	assert.Zero(t, engine.PollingInterval, "polling is a LOCAL mode feature")
	assert.Equal(t, flagship.LogLevelWarning, engine.LogLevel)

	cfg.DecisionMode = "LOCAL"
	cfg.FlagsFile = "./flags.yaml"
	cfg.LogLevel = "debug"
	engine = cfg.EngineConfig()
	assert.Equal(t, flagship.DecisionModeLocal, engine.DecisionMode)
	assert.Equal(t, "./flags.yaml", engine.FlagsFile)
	assert.Equal(t, time.Second, engine.PollingInterval)
	assert.Equal(t, flagship.LogLevelDebug, engine.LogLevel)
}

func TestCredentials(t *testing.T) {
	cfg := validConfig()
	envID, apiKey := cfg.Credentials()
	assert.Equal(t, "env", envID)
	assert.Equal(t, "key", apiKey)

	cfg.DecisionMode, cfg.EnvID, cfg.APIKey = "LOCAL", "", ""
	envID, apiKey = cfg.Credentials()
	assert.Equal(t, "local", envID)
	assert.Equal(t, "local", apiKey)
}

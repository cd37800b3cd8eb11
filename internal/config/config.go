// Package config loads the demo server configuration from environment
// variables and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// Config holds the demo server configuration.
// Priority: environment variables > .env file > defaults.
type Config struct {
	AppEnv   string // Application environment (dev, staging, prod)
	HTTPAddr string // HTTP server bind address
	LogLevel string // debug, info, warn or error

	EnvID        string // Flagship environment id
	APIKey       string // Flagship API key
	DecisionMode string // API or LOCAL
	FlagsFile    string // Flags file read in LOCAL mode
	Timeout      time.Duration

	PollingInterval    time.Duration // Flags file polling in LOCAL mode
	MonitoringInterval time.Duration // Provider flag change detection

	VisitorID      string // Visitor evaluated by /item when none is given
	RateLimitPerIP int    // Requests per minute per client IP
}

// Load reads the configuration from the environment and ./.env.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit env file. A missing file is ignored.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // optional
	v.AutomaticEnv()

	setConfigDefaults(v)

	return &Config{
		AppEnv:             v.GetString("APP_ENV"),
		HTTPAddr:           v.GetString("APP_HTTP_ADDR"),
		LogLevel:           strings.ToLower(v.GetString("LOG_LEVEL")),
		EnvID:              v.GetString("FS_ENV_ID"),
		APIKey:             v.GetString("FS_API_KEY"),
		DecisionMode:       strings.ToUpper(v.GetString("FS_DECISION_MODE")),
		FlagsFile:          v.GetString("FS_FLAGS_FILE"),
		Timeout:            v.GetDuration("FS_TIMEOUT"),
		PollingInterval:    v.GetDuration("FS_POLLING_INTERVAL"),
		MonitoringInterval: v.GetDuration("FS_MONITORING_INTERVAL"),
		VisitorID:          v.GetString("DEMO_VISITOR_ID"),
		RateLimitPerIP:     v.GetInt("RATE_LIMIT_PER_IP"),
	}, nil
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_HTTP_ADDR", ":3000")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("FS_DECISION_MODE", string(flagship.DecisionModeAPI))
	v.SetDefault("FS_FLAGS_FILE", "./flags.yaml")
	v.SetDefault("FS_TIMEOUT", "2s")
	v.SetDefault("FS_POLLING_INTERVAL", "5s")
	v.SetDefault("FS_MONITORING_INTERVAL", "30s")
	v.SetDefault("DEMO_VISITOR_ID", "visitor-id")
	v.SetDefault("RATE_LIMIT_PER_IP", 100)
}

// ValidationError describes the first configuration value that failed validation.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed [%s]: %s", e.Field, e.Message)
}

var logLevels = []string{"debug", "info", "warn", "error"}

// Validate checks the configuration before the server starts.
//
// Rules:
//  1. FS_DECISION_MODE is API or LOCAL
//  2. API mode requires FS_ENV_ID and FS_API_KEY
//  3. LOCAL mode requires FS_FLAGS_FILE
//  4. APP_HTTP_ADDR and DEMO_VISITOR_ID are not empty
//  5. LOG_LEVEL is one of debug, info, warn, error
//  6. RATE_LIMIT_PER_IP and FS_TIMEOUT are positive
func (c *Config) Validate() error {
	switch flagship.DecisionMode(c.DecisionMode) {
	case flagship.DecisionModeAPI:
		if c.EnvID == "" {
			return ValidationError{Field: "FS_ENV_ID", Message: "environment id is required when FS_DECISION_MODE=API"}
		}
		if c.APIKey == "" {
			return ValidationError{Field: "FS_API_KEY", Message: "API key is required when FS_DECISION_MODE=API"}
		}
	case flagship.DecisionModeLocal:
		if c.FlagsFile == "" {
			return ValidationError{Field: "FS_FLAGS_FILE", Message: "flags file is required when FS_DECISION_MODE=LOCAL"}
		}
	default:
		return ValidationError{
			Field:   "FS_DECISION_MODE",
			Message: fmt.Sprintf("must be 'API' or 'LOCAL', got '%s'", c.DecisionMode),
		}
	}

	if c.HTTPAddr == "" {
		return ValidationError{Field: "APP_HTTP_ADDR", Message: "HTTP server address cannot be empty"}
	}
	if c.VisitorID == "" {
		return ValidationError{Field: "DEMO_VISITOR_ID", Message: "demo visitor id cannot be empty"}
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		return ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("must be one of %s, got '%s'", strings.Join(logLevels, ", "), c.LogLevel),
		}
	}
	if c.RateLimitPerIP <= 0 {
		return ValidationError{Field: "RATE_LIMIT_PER_IP", Message: "rate limit must be positive"}
	}
	if c.Timeout <= 0 {
		return ValidationError{Field: "FS_TIMEOUT", Message: "timeout must be positive"}
	}
	return nil
}

// SlogLevel returns LogLevel as a slog level. Unknown values map to info.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// EngineConfig returns the flag engine configuration described by c.
// Polling only applies to LOCAL mode.
func (c *Config) EngineConfig() *flagship.Config {
	cfg := flagship.DefaultConfig()
	cfg.DecisionMode = flagship.DecisionMode(c.DecisionMode)
	cfg.Timeout = c.Timeout
	if cfg.DecisionMode == flagship.DecisionModeLocal {
		cfg.FlagsFile = c.FlagsFile
		cfg.PollingInterval = c.PollingInterval
	}
	if c.LogLevel == "debug" {
		cfg.LogLevel = flagship.LogLevelDebug
	}
	return cfg
}

// Credentials returns the environment id and API key passed to the provider.
// LOCAL mode needs no account, so placeholders are used when they are unset.
func (c *Config) Credentials() (envID, apiKey string) {
	envID, apiKey = c.EnvID, c.APIKey
	if flagship.DecisionMode(c.DecisionMode) == flagship.DecisionModeLocal {
		if envID == "" {
			envID = "local"
		}
		if apiKey == "" {
			apiKey = "local"
		}
	}
	return envID, apiKey
}

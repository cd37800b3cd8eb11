package flagship

import (
	"net/http"
	"time"
)

// DecisionMode selects how a client obtains flag decisions.
type DecisionMode string

const (
	// DecisionModeAPI fetches decisions from the remote Decision API.
	DecisionModeAPI DecisionMode = "API"

	// DecisionModeLocal evaluates decisions from Config.FlagsFile.
	DecisionModeLocal DecisionMode = "LOCAL"
)

const (
	// DefaultDecisionAPIURL is the base URL of the Flagship Decision API.
	DefaultDecisionAPIURL = "https://decision.flagship.io/v2"

	defaultTimeout       = 2 * time.Second
	defaultMaxRetries    = 2
	defaultRetryInterval = 200 * time.Millisecond
)

// Config holds the options of a flag engine client.
//
// EnvID and APIKey are filled in by Start; any value set by the caller is
// overwritten. The zero value is usable. DecisionMode, DecisionAPIURL, Timeout,
// RetryInterval and HTTPClient fall back to DefaultConfig when unset; the zero
// LogLevel is LogLevelNone and a zero MaxRetries disables retries, so start
// from DefaultConfig to get its logging and retry settings.
type Config struct {
	EnvID  string
	APIKey string

	// DecisionMode defaults to DecisionModeAPI.
	DecisionMode DecisionMode

	// DecisionAPIURL overrides DefaultDecisionAPIURL.
	DecisionAPIURL string

	// Timeout bounds a single fetch, retries included.
	Timeout time.Duration

	// MaxRetries is the number of retries after a transient Decision API
	// failure (network error, 429 or 5xx). Zero means no retries.
	MaxRetries uint

	// RetryInterval is the initial backoff between retries.
	RetryInterval time.Duration

	// PollingInterval re-reads the local flags file. Zero disables polling.
	PollingInterval time.Duration

	// FlagsFile is the flags file used by DecisionModeLocal.
	FlagsFile string

	// LogLevel filters messages sent to LogManager and OnLog. The zero value
	// is LogLevelNone, which silences the client.
	LogLevel LogLevel

	// LogManager receives the client's log stream.
	LogManager LogManager

	// OnLog is called for every message that passes LogLevel.
	OnLog func(level LogLevel, tag, message string)

	// OnBucketingUpdated is called when a poll detects a new flags file.
	OnBucketingUpdated func(lastUpdate time.Time)

	// FetchNow is accepted for parity with other Flagship SDKs. Visitors are
	// never fetched implicitly by this client.
	FetchNow bool

	// Decider replaces the built-in transport selected by DecisionMode.
	Decider Decider

	// HTTPClient is used by DecisionModeAPI. Defaults to a client with Timeout.
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration for the remote Decision API.
func DefaultConfig() *Config {
	return &Config{
		DecisionMode:   DecisionModeAPI,
		DecisionAPIURL: DefaultDecisionAPIURL,
		Timeout:        defaultTimeout,
		MaxRetries:     defaultMaxRetries,
		RetryInterval:  defaultRetryInterval,
		LogLevel:       LogLevelWarning,
	}
}

// withDefaults returns a copy of c with unset fields defaulted.
func (c *Config) withDefaults() Config {
	var out Config
	if c != nil {
		out = *c
	}
	def := DefaultConfig()
	if out.DecisionMode == "" {
		out.DecisionMode = def.DecisionMode
	}
	if out.DecisionAPIURL == "" {
		out.DecisionAPIURL = def.DecisionAPIURL
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.RetryInterval <= 0 {
		out.RetryInterval = def.RetryInterval
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{Timeout: out.Timeout}
	}
	return out
}

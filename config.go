package abtasty

import (
	"time"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// TestConfig returns a flag engine configuration tuned for tests and examples:
// short timeouts, no retries and debug logging.
//
// Usage:
//
//	cfg := abtasty.TestConfig()
//	cfg.DecisionMode = flagship.DecisionModeLocal
//	cfg.FlagsFile = "./flags.yaml"
//	provider, err := abtasty.New("local", "local", abtasty.WithConfig(cfg))
func TestConfig() *flagship.Config {
	cfg := flagship.DefaultConfig()

	// Faster network failure detection
	cfg.Timeout = time.Second

	// Fail fast instead of retrying
	cfg.MaxRetries = 0
	cfg.RetryInterval = 10 * time.Millisecond

	// Pick up flags file edits quickly in local mode
	cfg.PollingInterval = time.Second

	cfg.LogLevel = flagship.LogLevelDebug
	return cfg
}

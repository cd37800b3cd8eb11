package flagship

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWithoutCredentials(t *testing.T) {
	tests := []struct {
		name   string
		envID  string
		apiKey string
	}{
		{"both empty", "", ""},
		{"missing api key", "env", ""},
		{"missing env id", "", "key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Start(context.Background(), tt.envID, tt.apiKey, nil)
			require.NoError(t, err)
			assert.Equal(t, SDKNotInitialized, c.Status())

			_, err = c.NewVisitor(VisitorOptions{ID: "alice"}).Fetch(context.Background(), nil)
			assert.ErrorIs(t, err, ErrNotStarted)
		})
	}
}

func TestStartAppliesDefaults(t *testing.T) {
	c, err := Start(context.Background(), "env", "key", nil)
	require.NoError(t, err)
	assert.Equal(t, SDKInitialized, c.Status())

	cfg := c.Config()
	assert.Equal(t, "env", cfg.EnvID)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, DecisionModeAPI, cfg.DecisionMode)
	assert.Equal(t, DefaultDecisionAPIURL, cfg.DecisionAPIURL)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.NotNil(t, cfg.HTTPClient)
}

func TestStartKeepsZeroLoggingAndRetries(t *testing.T) {
	c, err := Start(context.Background(), "env", "key", &Config{})
	require.NoError(t, err)

	cfg := c.Config()
	assert.Equal(t, LogLevelNone, cfg.LogLevel)
	assert.Zero(t, cfg.MaxRetries)
	assert.Equal(t, defaultTimeout, cfg.Timeout)
	assert.Equal(t, defaultRetryInterval, cfg.RetryInterval)

	def := DefaultConfig()
	c, err = Start(context.Background(), "env", "key", def)
	require.NoError(t, err)
	assert.Equal(t, LogLevelWarning, c.Config().LogLevel)
	assert.Equal(t, uint(defaultMaxRetries), c.Config().MaxRetries)
}

func TestStartUnknownMode(t *testing.T) {
	c, err := Start(context.Background(), "env", "key", &Config{DecisionMode: "BUCKETING"})
	require.Error(t, err)
	assert.Equal(t, SDKNotInitialized, c.Status())
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := Start(context.Background(), "env", "key", &Config{
		Decider: DeciderFunc(func(context.Context, DecisionRequest) (map[string]Flag, error) { return nil, nil }),
	})
	require.NoError(t, err)

	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))
	assert.Equal(t, SDKClosed, c.Status())

	_, err = c.NewVisitor(VisitorOptions{ID: "alice"}).Fetch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClientClosed)
}

func TestDecideHonorsTimeout(t *testing.T) {
	c, err := Start(context.Background(), "env", "key", &Config{
		Timeout: 1,
		Decider: DeciderFunc(func(ctx context.Context, _ DecisionRequest) (map[string]Flag, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	})
	require.NoError(t, err)

	_, err = c.NewVisitor(VisitorOptions{ID: "alice"}).Fetch(context.Background(), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "SDK_INITIALIZED", SDKInitialized.String())
	assert.Equal(t, "SDK_CLOSED", SDKClosed.String())
	assert.Equal(t, "Status(9)", Status(9).String())
}

package flagship

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Status is the lifecycle state of a Client.
type Status int32

const (
	SDKNotInitialized Status = iota
	SDKStarting
	SDKInitialized
	SDKClosed
)

func (s Status) String() string {
	switch s {
	case SDKNotInitialized:
		return "SDK_NOT_INITIALIZED"
	case SDKStarting:
		return "SDK_STARTING"
	case SDKInitialized:
		return "SDK_INITIALIZED"
	case SDKClosed:
		return "SDK_CLOSED"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

const (
	tagStart   = "start"
	tagFetch   = "fetchFlags"
	tagContext = "updateContext"
	tagPolling = "polling"
	tagClose   = "close"
)

// Client is a started flag engine client. It is safe for concurrent use.
type Client struct {
	cfg     Config
	decider Decider
	status  atomic.Int32

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Start creates a client for the given environment.
//
// In DecisionModeAPI both envID and apiKey are required; when either is
// missing the client is returned with status SDKNotInitialized and a nil
// error, matching the other Flagship SDKs. An error is returned only when the
// transport itself cannot be built, for example an unreadable flags file.
func Start(ctx context.Context, envID, apiKey string, cfg *Config) (*Client, error) {
	c := &Client{
		cfg:  cfg.withDefaults(),
		stop: make(chan struct{}),
	}
	c.cfg.EnvID = envID
	c.cfg.APIKey = apiKey
	c.status.Store(int32(SDKStarting))
	c.logf(LogLevelDebug, tagStart, "starting client, decision mode %s", c.cfg.DecisionMode)

	decider, err := c.buildDecider(ctx)
	if err != nil {
		c.status.Store(int32(SDKNotInitialized))
		c.logf(LogLevelError, tagStart, "client failed to start: %v", err)
		return c, err
	}
	if decider == nil {
		c.status.Store(int32(SDKNotInitialized))
		c.logf(LogLevelError, tagStart, "envID and apiKey are required in %s mode", c.cfg.DecisionMode)
		return c, nil
	}
	c.decider = decider

	if r, ok := decider.(Refresher); ok && c.cfg.PollingInterval > 0 {
		c.wg.Add(1)
		go c.poll(r)
	}

	c.status.Store(int32(SDKInitialized))
	c.logf(LogLevelInfo, tagStart, "client started")
	return c, nil
}

func (c *Client) buildDecider(ctx context.Context) (Decider, error) {
	if c.cfg.Decider != nil {
		return c.cfg.Decider, nil
	}
	switch c.cfg.DecisionMode {
	case DecisionModeLocal:
		return newFileDecider(ctx, c.cfg.FlagsFile)
	case DecisionModeAPI:
		if c.cfg.EnvID == "" || c.cfg.APIKey == "" {
			return nil, nil
		}
		return newAPIDecider(c.cfg), nil
	}
	return nil, fmt.Errorf("unknown decision mode %q", c.cfg.DecisionMode)
}

// Status returns the client's lifecycle state.
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

// Config returns a copy of the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// NewVisitor creates a visitor bound to this client. The visitor starts in
// FetchRequired state; call Fetch before reading flags.
func (c *Client) NewVisitor(opts VisitorOptions) *Visitor {
	return newVisitor(c, opts)
}

// Close stops background polling. Fetches issued afterwards fail with
// ErrClientClosed. Close is idempotent.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.status.Store(int32(SDKClosed))
		close(c.stop)
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logf(LogLevelInfo, tagClose, "client closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing flagship client: %w", ctx.Err())
	}
}

func (c *Client) decide(ctx context.Context, req DecisionRequest) (map[string]Flag, error) {
	switch c.Status() {
	case SDKClosed:
		return nil, ErrClientClosed
	case SDKInitialized:
	default:
		return nil, ErrNotStarted
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req.EnvID = c.cfg.EnvID
	if req.Log == nil {
		req.Log = c
	}
	return c.decider.Decide(ctx, req)
}

// poll refreshes the decider until Close is called.
func (c *Client) poll(r Refresher) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
			changed, err := r.Refresh(ctx)
			cancel()
			if err != nil {
				c.logf(LogLevelWarning, tagPolling, "refresh failed: %v", err)
				continue
			}
			if changed {
				c.logf(LogLevelInfo, tagPolling, "flags updated")
				if c.cfg.OnBucketingUpdated != nil {
					c.cfg.OnBucketingUpdated(time.Now())
				}
			}
		}
	}
}

func (c *Client) logf(level LogLevel, tag, format string, args ...any) {
	c.log(c.cfg.LogManager, level, tag, fmt.Sprintf(format, args...))
}

// log filters on the configured level and fans out to lm and OnLog.
func (c *Client) log(lm LogManager, level LogLevel, tag, message string) {
	if level == LogLevelNone || level > c.cfg.LogLevel {
		return
	}
	Dispatch(lm, level, message, tag)
	if c.cfg.OnLog != nil {
		c.cfg.OnLog(level, tag, message)
	}
}

// The Client is itself a LogManager that applies its level filter and
// forwards to Config.LogManager. Deciders receive it as DecisionRequest.Log.

func (c *Client) Emergency(message, tag string) { c.log(c.cfg.LogManager, LogLevelEmergency, tag, message) }
func (c *Client) Alert(message, tag string)     { c.log(c.cfg.LogManager, LogLevelAlert, tag, message) }
func (c *Client) Critical(message, tag string)  { c.log(c.cfg.LogManager, LogLevelCritical, tag, message) }
func (c *Client) Error(message, tag string)     { c.log(c.cfg.LogManager, LogLevelError, tag, message) }
func (c *Client) Warning(message, tag string)   { c.log(c.cfg.LogManager, LogLevelWarning, tag, message) }
func (c *Client) Notice(message, tag string)    { c.log(c.cfg.LogManager, LogLevelNotice, tag, message) }
func (c *Client) Info(message, tag string)      { c.log(c.cfg.LogManager, LogLevelInfo, tag, message) }
func (c *Client) Debug(message, tag string)     { c.log(c.cfg.LogManager, LogLevelDebug, tag, message) }
func (c *Client) Log(level LogLevel, message, tag string) {
	c.log(c.cfg.LogManager, level, tag, message)
}

// filtered applies the client's level filter to a per-call LogManager.
type filtered struct {
	c  *Client
	lm LogManager
}

func (f filtered) Emergency(message, tag string) { f.c.log(f.lm, LogLevelEmergency, tag, message) }
func (f filtered) Alert(message, tag string)     { f.c.log(f.lm, LogLevelAlert, tag, message) }
func (f filtered) Critical(message, tag string)  { f.c.log(f.lm, LogLevelCritical, tag, message) }
func (f filtered) Error(message, tag string)     { f.c.log(f.lm, LogLevelError, tag, message) }
func (f filtered) Warning(message, tag string)   { f.c.log(f.lm, LogLevelWarning, tag, message) }
func (f filtered) Notice(message, tag string)    { f.c.log(f.lm, LogLevelNotice, tag, message) }
func (f filtered) Info(message, tag string)      { f.c.log(f.lm, LogLevelInfo, tag, message) }
func (f filtered) Debug(message, tag string)     { f.c.log(f.lm, LogLevelDebug, tag, message) }
func (f filtered) Log(level LogLevel, message, tag string) {
	f.c.log(f.lm, level, tag, message)
}

// logManager returns the LogManager for one call: lm filtered by level, or
// the client itself when lm is nil.
func (c *Client) logManager(lm LogManager) LogManager {
	if lm == nil {
		return c
	}
	return filtered{c: c, lm: lm}
}

package abtasty

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	of "github.com/open-feature/go-sdk/openfeature"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// ErrMissingCredentials is returned by New when both the environment id and
// the API key are empty.
var ErrMissingCredentials = errors.New("ABTasty Client can not be created without envID or apiKey")

var errShutdownDuringInit = errors.New("provider was shut down during initialization")

// Provider is an OpenFeature provider backed by the Flagship flag engine.
//
// It implements openfeature.FeatureProvider, openfeature.StateHandler,
// openfeature.ContextAwareStateHandler and openfeature.EventHandler.
// A Provider cannot be re-initialized after Shutdown.
type Provider struct {
	envID  string
	apiKey string

	engineConfig       *flagship.Config
	logger             *slog.Logger
	evalLogger         Logger
	registerer         prometheus.Registerer
	metrics            *providerMetrics
	monitoringInterval time.Duration

	client   *flagship.Client
	visitor  *flagship.Visitor
	resolver *Resolver
	state    of.State

	eventStream    chan of.Event
	stopMonitor    chan struct{}
	monitorDone    chan struct{}
	monitorStarted bool
	stale          atomic.Bool

	initGroup singleflight.Group
	mtx       sync.RWMutex
	shutdown  uint32
}

var (
	_ of.FeatureProvider          = (*Provider)(nil)
	_ of.StateHandler             = (*Provider)(nil)
	_ of.ContextAwareStateHandler = (*Provider)(nil)
	_ of.EventHandler             = (*Provider)(nil)
)

// Option configures a Provider.
type Option func(*Provider)

// WithConfig sets the flag engine configuration. The provider copies cfg
// at Init, injects its log adapter when cfg.LogManager is nil, and disables
// FetchNow. Defaults to flagship.DefaultConfig().
func WithConfig(cfg *flagship.Config) Option {
	return func(p *Provider) {
		p.engineConfig = cfg
	}
}

// WithLogger sets the logger for provider diagnostics. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEvaluationLogger sets the logger receiving the flag engine's log
// stream through AdapterLogger. Defaults to the provider logger.
func WithEvaluationLogger(logger Logger) Option {
	return func(p *Provider) {
		p.evalLogger = logger
	}
}

// WithMetricsRegisterer registers the provider's Prometheus collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(p *Provider) {
		p.registerer = reg
	}
}

// WithMonitoringInterval sets how often the base visitor is re-fetched to
// detect flag changes. Values below 5 seconds are raised to 5 seconds.
// Defaults to 30 seconds.
func WithMonitoringInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.monitoringInterval = d
	}
}

// New creates a provider for the given Flagship environment.
//
// Construction fails only when both envID and apiKey are empty. Missing one
// of them surfaces at Init, where the flag engine refuses to start. In
// flagship.DecisionModeLocal no credential is contacted and any non-empty
// value may be given.
func New(envID, apiKey string, opts ...Option) (*Provider, error) {
	if envID == "" && apiKey == "" {
		return nil, ErrMissingCredentials
	}

	p := &Provider{
		envID:              envID,
		apiKey:             apiKey,
		logger:             slog.Default(),
		monitoringInterval: defaultMonitoringInterval,
		state:              of.NotReadyState,
		eventStream:        make(chan of.Event, eventChannelBuffer),
		stopMonitor:        make(chan struct{}),
		monitorDone:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.monitoringInterval < minMonitoringInterval {
		p.logger.Warn("monitoring interval below minimum, using minimum",
			"requested", p.monitoringInterval,
			"minimum", minMonitoringInterval)
		p.monitoringInterval = minMonitoringInterval
	}
	if p.evalLogger == nil {
		p.evalLogger = p.logger
	}
	p.metrics = newProviderMetrics(p.registerer)
	return p, nil
}

// Metadata returns the provider name.
func (p *Provider) Metadata() of.Metadata {
	return of.Metadata{Name: providerName}
}

// Client returns the flag engine client, or nil before Init and after Shutdown.
//
// The provider owns the client lifecycle: do not Close it directly.
func (p *Provider) Client() *flagship.Client {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.client
}

// Visitor returns the base visitor created at Init, or nil before Init.
func (p *Provider) Visitor() *flagship.Visitor {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.visitor
}

// Resolver returns the resolver created by the last successful Init.
func (p *Provider) Resolver() *Resolver {
	p.mtx.RLock()
	defer p.mtx.RUnlock()
	return p.resolver
}

// Config returns a copy of the flag engine's effective configuration, or nil
// before Init.
func (p *Provider) Config() *flagship.Config {
	p.mtx.RLock()
	client := p.client
	p.mtx.RUnlock()
	if client == nil {
		return nil
	}
	cfg := client.Config()
	return &cfg
}

package abtasty

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	of "github.com/open-feature/go-sdk/openfeature"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// Init implements StateHandler for backward compatibility.
// Delegates to InitWithContext with a 15 second timeout.
func (p *Provider) Init(evaluationContext of.EvaluationContext) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultInitTimeout)
	defer cancel()

	return p.InitWithContext(ctx, evaluationContext)
}

// InitWithContext initializes the provider with context support.
//
// Initialization sequence:
//  1. Start the flag engine client with the provider's log adapter and
//     FetchNow disabled. A client left over from a failed Init is reused
//     when it is started.
//  2. Create the base visitor from the targeting key and the primitive
//     attributes of evaluationContext. Consent and authentication default to
//     true and may be overridden with the fsVisitorInfo attribute.
//  3. Fetch the base visitor's flags.
//  4. Create a new Resolver, start background monitoring and emit
//     PROVIDER_READY.
//
// If the client does not reach SDK_INITIALIZED or the first fetch fails,
// PROVIDER_ERROR is emitted and an error is returned. Concurrent calls share
// a single initialization. ctx bounds client start and the first fetch.
func (p *Provider) InitWithContext(ctx context.Context, evaluationContext of.EvaluationContext) error {
	if atomic.LoadUint32(&p.shutdown) == shutdownStateActive {
		return fmt.Errorf("cannot initialize provider after shutdown: provider has been permanently shut down, create a new provider instance")
	}

	// Fast path: already initialized
	p.mtx.RLock()
	if p.resolver != nil {
		p.mtx.RUnlock()
		p.logger.Debug("provider already initialized")
		return nil
	}
	p.mtx.RUnlock()

	_, err, _ := p.initGroup.Do("init", func() (any, error) {
		p.mtx.RLock()
		if p.resolver != nil {
			p.mtx.RUnlock()
			p.logger.Debug("provider already initialized (concurrent init detected)")
			return nil, nil
		}
		p.mtx.RUnlock()

		client, err := p.startClient(ctx)
		if err != nil {
			return nil, p.initFailed(err)
		}

		attrs := evaluationContext.Attributes()
		flat := of.FlattenedContext(attrs)
		info, _ := visitorInfoFrom(flat, defaultVisitorInfo)

		visitor := client.NewVisitor(flagship.VisitorOptions{
			ID:                        evaluationContext.TargetingKey(),
			Context:                   toPrimitiveContext(flat),
			HasConsented:              info.HasConsented,
			IsAuthenticated:           info.IsAuthenticated,
			OnFetchFlagsStatusChanged: p.onFetchFlagsStatusChanged,
		})

		p.logger.Debug("fetching flags for base visitor", "visitor_id", visitor.ID())
		start := time.Now()
		fetched, err := visitor.Fetch(ctx, nil)
		p.metrics.observeFetch(time.Since(start).Seconds(), err)
		if err != nil {
			return nil, p.initFailed(fmt.Errorf("initial flag fetch: %w", err))
		}

		resolver := NewResolver(fetched, p.logger)
		resolver.metrics = p.metrics

		// Check shutdown and start monitoring under the write lock so that
		// Shutdown either sees monitorStarted or we see the shutdown flag.
		p.mtx.Lock()
		if atomic.LoadUint32(&p.shutdown) == shutdownStateActive {
			p.client = nil
			p.mtx.Unlock()
			_ = client.Close(context.Background())
			return nil, errShutdownDuringInit
		}
		p.visitor = fetched
		p.resolver = resolver
		p.state = of.ReadyState
		p.monitorStarted = true
		go p.monitorVisitorFlags()
		p.mtx.Unlock()

		p.emitEvent(&of.Event{
			ProviderName: p.Metadata().Name,
			EventType:    of.ProviderReady,
			ProviderEventDetails: of.ProviderEventDetails{
				Message: "ABTasty provider initialized successfully",
			},
		})

		p.logger.Info("ABTasty provider ready",
			"visitor_id", fetched.ID(),
			"flags_loaded", len(fetched.Flags()),
			"decision_mode", client.Config().DecisionMode)
		return nil, nil
	})

	return err
}

// startClient returns a started flag engine client, reusing the one left by
// a previous failed Init when possible.
func (p *Provider) startClient(ctx context.Context) (*flagship.Client, error) {
	p.mtx.RLock()
	existing := p.client
	p.mtx.RUnlock()
	if existing != nil && existing.Status() == flagship.SDKInitialized {
		p.logger.Debug("reusing started flag engine client")
		return existing, nil
	}
	if existing != nil {
		_ = existing.Close(ctx)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("initialization canceled: %w", err)
	}

	var cfg flagship.Config
	if p.engineConfig != nil {
		cfg = *p.engineConfig
	} else {
		cfg = *flagship.DefaultConfig()
	}
	if cfg.LogManager == nil {
		cfg.LogManager = NewAdapterLogger(p.evalLogger)
	}
	cfg.FetchNow = false

	client, err := flagship.Start(ctx, p.envID, p.apiKey, &cfg)

	// Shutdown may have run while the client was starting; it could not see
	// this client, so close it here.
	p.mtx.Lock()
	if atomic.LoadUint32(&p.shutdown) == shutdownStateActive {
		p.mtx.Unlock()
		if client != nil {
			_ = client.Close(context.Background())
		}
		return nil, errShutdownDuringInit
	}
	p.client = client
	p.mtx.Unlock()

	if err != nil {
		return nil, err
	}
	if status := client.Status(); status != flagship.SDKInitialized {
		return nil, fmt.Errorf("client status is %s", status)
	}
	return client, nil
}

// initFailed emits PROVIDER_ERROR and wraps err.
func (p *Provider) initFailed(err error) error {
	wrapped := fmt.Errorf("flagship client failed to initialize: %w", err)

	p.mtx.Lock()
	p.state = of.ErrorState
	p.mtx.Unlock()

	p.emitEvent(&of.Event{
		ProviderName: p.Metadata().Name,
		EventType:    of.ProviderError,
		ProviderEventDetails: of.ProviderEventDetails{
			Message: wrapped.Error(),
		},
	})
	p.logger.Error("ABTasty provider initialization failed", "error", err)
	return wrapped
}

func (p *Provider) onFetchFlagsStatusChanged(visitorID string, status flagship.FetchFlagsStatus) {
	p.logger.Debug("visitor fetch status changed",
		"visitor_id", visitorID,
		"status", status.Status,
		"reason", status.Reason)
}

// Shutdown implements StateHandler for backward compatibility.
// Delegates to ShutdownWithContext with a 30 second timeout.
func (p *Provider) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	_ = p.ShutdownWithContext(ctx) //nolint:errcheck // Shutdown() has no return value per OpenFeature interface
}

// ShutdownWithContext shuts down the provider.
//
// The provider is marked as shut down immediately, so new evaluations return
// PROVIDER_NOT_READY. Monitoring is stopped, the flag engine client is closed
// and the event channel is closed. Calling it before Init, or more than once,
// is safe.
//
// Returns ctx.Err() if the context expires before cleanup completes; the
// provider is shut down regardless.
func (p *Provider) ShutdownWithContext(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&p.shutdown, shutdownStateInactive, shutdownStateActive) {
		p.logger.Debug("provider already shut down")
		return nil
	}

	p.logger.Debug("shutting down ABTasty provider")

	var shutdownErr error

	p.mtx.Lock()
	close(p.stopMonitor)
	monitoring := p.monitorStarted
	client := p.client
	p.client = nil
	p.resolver = nil
	p.state = of.NotReadyState
	p.mtx.Unlock()
	p.metrics.setSessions(0)

	if monitoring {
		p.logger.Debug("waiting for background monitoring to stop")
		select {
		case <-p.monitorDone:
			p.logger.Debug("background monitoring stopped")
		case <-ctx.Done():
			shutdownErr = ctx.Err()
			p.logger.Warn("context deadline exceeded while waiting for monitoring goroutine, forcing shutdown",
				"error", shutdownErr)
		}
	} else {
		p.logger.Debug("provider was never initialized, skipping monitoring cleanup")
	}

	if client != nil {
		if err := client.Close(ctx); err != nil {
			p.logger.Warn("flag engine client did not close cleanly", "error", err)
			if shutdownErr == nil {
				shutdownErr = err
			}
		}
	}

	p.mtx.Lock()
	close(p.eventStream)
	p.mtx.Unlock()

	if shutdownErr != nil {
		p.logger.Warn("ABTasty provider shutdown completed with errors",
			"error", shutdownErr,
			"note", "provider is logically shut down but cleanup may be incomplete")
		return shutdownErr
	}

	p.logger.Debug("ABTasty provider shut down successfully")
	return nil
}

// Status returns the current state of the provider:
//   - NotReadyState: not initialized, or shut down
//   - ReadyState: initialized and ready for evaluations
//   - StaleState: monitoring could not refresh flags; cached flags are served
//   - ErrorState: the last Init failed
func (p *Provider) Status() of.State {
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	if atomic.LoadUint32(&p.shutdown) == shutdownStateActive {
		return of.NotReadyState
	}
	return p.state
}

// Metrics returns the current metrics and status of the provider:
//   - provider: Provider name ("ABTasty")
//   - initialized, ready: whether evaluations are served
//   - status: Current state
//   - client_status: flag engine client status (when started)
//   - visitor_id: base visitor id (when initialized)
//   - sessions, fetches: resolver counters (when initialized)
//
// Prometheus collectors are registered separately through
// WithMetricsRegisterer.
func (p *Provider) Metrics() map[string]any {
	status := p.Status()

	p.mtx.RLock()
	client := p.client
	visitor := p.visitor
	resolver := p.resolver
	p.mtx.RUnlock()

	ready := status == of.ReadyState || status == of.StaleState
	health := map[string]any{
		"provider":    providerName,
		"initialized": ready,
		"status":      string(status),
		"ready":       ready,
	}
	if client != nil {
		health["client_status"] = client.Status().String()
	}
	if ready && visitor != nil && resolver != nil {
		health["visitor_id"] = visitor.ID()
		health["sessions"] = resolver.Sessions()
		health["fetches"] = resolver.Fetches()
	}
	return health
}

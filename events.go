package abtasty

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"
	"time"

	of "github.com/open-feature/go-sdk/openfeature"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// EventChannel returns a channel for receiving provider lifecycle events.
//
// This method implements the EventHandler interface. Events emitted:
//   - PROVIDER_READY: Init succeeded, or monitoring recovered after PROVIDER_STALE
//   - PROVIDER_ERROR: Init failed
//   - PROVIDER_CONFIGURATION_CHANGED: the base visitor's flags changed
//     (detected by polling, see WithMonitoringInterval); FlagChanges lists
//     the changed keys
//   - PROVIDER_STALE: monitoring could not refresh the base visitor; cached
//     flags keep being served
//
// The channel is buffered (128 events) and closed by Shutdown.
//
// Example:
//
//	openfeature.AddHandler(openfeature.ProviderConfigChange, func(details openfeature.EventDetails) {
//	    log.Println("flags updated:", details.FlagChanges)
//	})
func (p *Provider) EventChannel() <-chan of.Event {
	return p.eventStream
}

// emitEvent sends an event to the event channel without blocking.
//
// If the channel buffer is full, the event is dropped and a warning is logged.
// Once the provider is shut down events are silently discarded.
func (p *Provider) emitEvent(event *of.Event) {
	if atomic.LoadUint32(&p.shutdown) == shutdownStateActive {
		return
	}

	// Read lock prevents a race with close() in ShutdownWithContext
	p.mtx.RLock()
	defer p.mtx.RUnlock()

	if atomic.LoadUint32(&p.shutdown) == shutdownStateActive {
		return
	}

	select {
	case p.eventStream <- *event:
	default:
		p.logger.Warn("event channel full, dropping event", "eventType", event.EventType)
	}
}

// monitorVisitorFlags runs in a background goroutine, re-fetching the base
// visitor every monitoring interval until stopMonitor is closed.
//
// Panic Recovery:
// A panic is recovered and logged and the goroutine terminates, so that
// monitorDone is always closed and Shutdown cannot hang.
func (p *Provider) monitorVisitorFlags() {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("monitoring goroutine panicked, terminating gracefully", "panic", r)
		}
		close(p.monitorDone)
		p.logger.Debug("monitoring goroutine stopped")
	}()

	p.logger.Debug("starting background flag monitoring", "interval", p.monitoringInterval)

	ticker := time.NewTicker(p.monitoringInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopMonitor:
			p.logger.Debug("received shutdown signal, stopping monitoring")
			return
		case <-ticker.C:
			p.refreshBaseVisitor()
		}
	}
}

// refreshBaseVisitor fetches the base visitor once and emits the events
// resulting from the outcome.
func (p *Provider) refreshBaseVisitor() {
	p.mtx.RLock()
	base := p.visitor
	resolver := p.resolver
	p.mtx.RUnlock()
	if base == nil || resolver == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.monitoringInterval)
	defer cancel()

	start := time.Now()
	fetched, err := base.Fetch(ctx, nil)
	p.metrics.observeFetch(time.Since(start).Seconds(), err)
	if err != nil {
		p.logger.Warn("failed to refresh flags", "visitor_id", base.ID(), "error", err)
		if p.setStale(true) {
			p.emitEvent(&of.Event{
				ProviderName: p.Metadata().Name,
				EventType:    of.ProviderStale,
				ProviderEventDetails: of.ProviderEventDetails{
					Message: fmt.Sprintf("flag refresh failed, serving cached flags: %v", err),
				},
			})
		}
		return
	}

	if p.setStale(false) {
		p.emitEvent(&of.Event{
			ProviderName: p.Metadata().Name,
			EventType:    of.ProviderReady,
			ProviderEventDetails: of.ProviderEventDetails{
				Message: "flag refresh recovered",
			},
		})
	}

	changed := changedFlags(base.Flags(), fetched.Flags())

	p.mtx.Lock()
	if atomic.LoadUint32(&p.shutdown) == shutdownStateActive {
		p.mtx.Unlock()
		return
	}
	p.visitor = fetched
	p.mtx.Unlock()

	if len(changed) == 0 {
		return
	}

	resolver.replaceBase(fetched)
	p.logger.Debug("flags changed", "changed", changed, "count", len(fetched.Flags()))
	p.emitEvent(&of.Event{
		ProviderName: p.Metadata().Name,
		EventType:    of.ProviderConfigChange,
		ProviderEventDetails: of.ProviderEventDetails{
			Message:     fmt.Sprintf("flags updated (count: %d)", len(fetched.Flags())),
			FlagChanges: changed,
		},
	})
}

// setStale records the stale flag and reports whether it changed. The
// provider state follows: StaleState while stale, ReadyState otherwise.
func (p *Provider) setStale(stale bool) bool {
	if p.stale.Swap(stale) == stale {
		return false
	}
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if p.state == of.ReadyState || p.state == of.StaleState {
		p.state = of.ReadyState
		if stale {
			p.state = of.StaleState
		}
	}
	return true
}

// changedFlags returns the sorted keys added, removed or modified between
// two flag sets.
func changedFlags(old, current map[string]flagship.Flag) []string {
	var changed []string
	for key, flag := range current {
		prev, ok := old[key]
		if !ok || prev.Metadata() != flag.Metadata() || !reflect.DeepEqual(prev.RawValue(), flag.RawValue()) {
			changed = append(changed, key)
		}
	}
	for key := range old {
		if _, ok := current[key]; !ok {
			changed = append(changed, key)
		}
	}
	slices.Sort(changed)
	return changed
}

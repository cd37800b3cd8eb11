// engine.go contains tests for direct flag engine access, concurrency,
// health and events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/open-feature/go-sdk/openfeature"

	abtasty "github.com/flagship-io/abtasty-openfeature-provider-go"
	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// testDirectEngineAccess uses the flag engine client and base visitor
// exposed by the provider.
func testDirectEngineAccess(ctx context.Context, provider *abtasty.Provider) {
	client := provider.Client()
	if client == nil {
		results.Fail("Engine(Client)", "provider has no flag engine client")
		return
	}
	results.Check("Engine(Status)", client.Status() == flagship.SDKInitialized,
		"expected SDK_INITIALIZED, got %s", client.Status())

	base := provider.Visitor()
	if base == nil {
		results.Fail("Engine(Visitor)", "provider has no base visitor")
		return
	}
	results.Check("Engine(Visitor)", base.ID() == "integration-visitor" && base.HasConsented(),
		"unexpected base visitor %q (consented %v)", base.ID(), base.HasConsented())
	results.Check("Engine(FetchStatus)", base.FetchStatus().Status == flagship.FetchStatusFetched,
		"expected FETCHED, got %v", base.FetchStatus().Status)

	// Visitors are immutable: deriving one leaves the base untouched.
	derived := base.WithContext(map[string]any{"plan": "premium"})
	results.Check("Engine(WithContext)", derived != base && len(base.Context()) == 0,
		"deriving a visitor modified the base visitor")

	fetched, err := derived.Fetch(ctx, nil)
	if err != nil {
		results.Fail("Engine(Fetch)", err.Error())
		return
	}
	results.Check("Engine(Fetch)", len(fetched.Flags()) > 0, "fetched visitor has no flags")
}

// testConcurrentEvaluations runs evaluations for many visitors at once.
func testConcurrentEvaluations(ctx context.Context, client *openfeature.Client) {
	const numGoroutines = 100
	const evaluationsPerGoroutine = 10

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*evaluationsPerGoroutine)

	for i := range numGoroutines {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			// Ten visitors shared across goroutines exercise fetch
			// deduplication as well as the session map.
			evalCtx := openfeature.NewEvaluationContext(fmt.Sprintf("visitor-%d", id%10), nil)
			for j := range evaluationsPerGoroutine {
				if _, err := client.BooleanValue(ctx, "feature_boolean_on", false, evalCtx); err != nil {
					errs <- fmt.Errorf("goroutine %d iteration %d: %w", id, j, err)
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	errorCount := 0
	for err := range errs {
		slog.Error("concurrent evaluation error", "error", err)
		errorCount++
	}

	results.Check(fmt.Sprintf("Concurrent(%d goroutines x %d evals)", numGoroutines, evaluationsPerGoroutine),
		errorCount == 0, "%d errors in %d evaluations", errorCount, numGoroutines*evaluationsPerGoroutine)
}

// testProviderHealth checks provider status and metrics.
func testProviderHealth(provider *abtasty.Provider) {
	results.Check("Health(Status)", provider.Status() == openfeature.ReadyState,
		"expected READY, got %s", provider.Status())

	metrics := provider.Metrics()
	results.Check("Health(provider)", metrics["provider"] == "ABTasty",
		"expected ABTasty, got %v", metrics["provider"])
	results.Check("Health(status)", metrics["status"] == string(openfeature.ReadyState),
		"expected READY, got %v", metrics["status"])
	results.Check("Health(visitor_id)", metrics["visitor_id"] == "integration-visitor",
		"expected integration-visitor, got %v", metrics["visitor_id"])

	sessions, ok := metrics["sessions"].(int)
	results.Check("Health(sessions)", ok && sessions > 0, "expected visitor sessions, got %v", metrics["sessions"])
}

// testEventTracking checks that PROVIDER_READY reached the handlers.
func testEventTracking(eventsReceived *sync.Map) {
	val, ok := eventsReceived.Load(openfeature.ProviderReady)
	if !ok {
		results.Fail("Events(PROVIDER_READY)", "no PROVIDER_READY event received")
		return
	}
	count := val.(*atomic.Int64).Load()
	results.Check(fmt.Sprintf("Events(PROVIDER_READY) - %d events", count), count > 0,
		"no PROVIDER_READY event received")
}

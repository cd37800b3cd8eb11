// lifecycle.go contains provider lifecycle tests.
// Tests cover named providers, concurrent init, evaluations before init,
// init after shutdown, init failures and idempotent shutdown.
package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-feature/go-sdk/openfeature"

	abtasty "github.com/flagship-io/abtasty-openfeature-provider-go"
)

// testNamedProvider registers a second provider under its own domain.
func testNamedProvider(ctx context.Context, s *suite) {
	namedProvider, err := s.newProvider()
	if err != nil {
		results.Fail("NamedProvider(create)", fmt.Sprintf("failed to create: %v", err))
		return
	}
	defer namedProvider.Shutdown()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if err := openfeature.SetNamedProviderWithContextAndWait(initCtx, "abtasty-named", namedProvider); err != nil {
		results.Fail("NamedProvider(init)", fmt.Sprintf("failed to initialize: %v", err))
		return
	}
	results.Pass("NamedProvider(init)")

	namedClient := openfeature.NewClient("abtasty-named")
	evalCtx := openfeature.NewEvaluationContext("named-visitor", nil)

	value, err := namedClient.BooleanValue(ctx, "feature_boolean_on", false, evalCtx)
	if err != nil {
		results.Fail("NamedProvider(evaluation)", fmt.Sprintf("evaluation failed: %v", err))
		return
	}
	results.Check("NamedProvider(evaluation)", !s.local || value, "expected true, got %v", value)
}

// testConcurrentInit checks that concurrent Init calls share one
// initialization.
func testConcurrentInit(ctx context.Context, s *suite) {
	provider, err := s.newProvider()
	if err != nil {
		results.Fail("ConcurrentInit(create)", fmt.Sprintf("failed to create: %v", err))
		return
	}
	defer provider.Shutdown()

	const numGoroutines = 10
	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines)
	evalCtx := openfeature.NewEvaluationContext("concurrent-init-visitor", nil)

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			defer cancel()
			errs <- provider.InitWithContext(initCtx, evalCtx)
		}()
	}
	wg.Wait()
	close(errs)

	failures := 0
	for err := range errs {
		if err != nil {
			failures++
		}
	}
	results.Check("ConcurrentInit(all succeed)", failures == 0, "%d of %d Init calls failed", failures, numGoroutines)
	results.Check("ConcurrentInit(ready)", provider.Status() == openfeature.ReadyState,
		"expected READY, got %s", provider.Status())

	metrics := provider.Metrics()
	results.Check("ConcurrentInit(single fetch)", metrics["fetches"] == int64(0),
		"expected no resolver fetch after Init, got %v", metrics["fetches"])
}

// testProviderNotReadyError evaluates on a provider that was never
// initialized.
func testProviderNotReadyError(ctx context.Context, s *suite) {
	provider, err := s.newProvider()
	if err != nil {
		results.Fail("NotReady(create)", fmt.Sprintf("failed to create: %v", err))
		return
	}
	defer provider.Shutdown()

	flat := openfeature.FlattenedContext{openfeature.TargetingKey: "not-ready-visitor"}
	detail := provider.BooleanEvaluation(ctx, "feature_boolean_on", false, flat)

	results.Check("NotReady(default)", !detail.Value, "expected default false, got %v", detail.Value)
	results.Check("NotReady(code)",
		detail.ResolutionDetail().ErrorCode == openfeature.ProviderNotReadyCode,
		"expected PROVIDER_NOT_READY, got %s", detail.ResolutionDetail().ErrorCode)
}

// testInitAfterShutdown checks that a shut down provider cannot be reused.
func testInitAfterShutdown(s *suite) {
	provider, err := s.newProvider()
	if err != nil {
		results.Fail("InitAfterShutdown(create)", fmt.Sprintf("failed to create: %v", err))
		return
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	evalCtx := openfeature.NewEvaluationContext("shutdown-visitor", nil)

	if err := provider.InitWithContext(initCtx, evalCtx); err != nil {
		results.Fail("InitAfterShutdown(init)", fmt.Sprintf("init failed: %v", err))
		provider.Shutdown()
		return
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()
	if err := provider.ShutdownWithContext(shutdownCtx); err != nil {
		results.Fail("InitAfterShutdown(shutdown)", fmt.Sprintf("shutdown failed: %v", err))
		return
	}

	metrics := provider.Metrics()
	results.Check("InitAfterShutdown(metrics)",
		metrics["status"] == string(openfeature.NotReadyState) && metrics["ready"] == false,
		"unexpected metrics after shutdown: %v", metrics)

	err = provider.InitWithContext(initCtx, evalCtx)
	results.Check("InitAfterShutdown",
		err != nil && strings.Contains(err.Error(), "cannot initialize provider after shutdown"),
		"expected shutdown error, got %v", err)
}

// testInitWithoutCredentials starts a provider against the Decision API with
// a missing API key. The flag engine refuses to start and Init reports it.
func testInitWithoutCredentials(s *suite) {
	provider, err := abtasty.New("env-id", "",
		abtasty.WithConfig(abtasty.TestConfig()),
		abtasty.WithLogger(s.logger))
	if err != nil {
		results.Fail("InitWithoutCredentials(create)", fmt.Sprintf("failed to create: %v", err))
		return
	}
	defer provider.Shutdown()

	initCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = provider.InitWithContext(initCtx, openfeature.NewEvaluationContext("visitor", nil))
	results.Check("InitWithoutCredentials(error)", err != nil, "expected Init to fail")
	results.Check("InitWithoutCredentials(state)", provider.Status() == openfeature.ErrorState,
		"expected ERROR, got %s", provider.Status())

	metrics := provider.Metrics()
	results.Check("InitWithoutCredentials(client status)", metrics["client_status"] == "SDK_NOT_INITIALIZED",
		"expected SDK_NOT_INITIALIZED, got %v", metrics["client_status"])
}

// testDoubleShutdown checks that Shutdown is idempotent.
func testDoubleShutdown(s *suite) {
	provider, err := s.newProvider()
	if err != nil {
		results.Fail("DoubleShutdown(create)", fmt.Sprintf("failed to create: %v", err))
		return
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := provider.InitWithContext(initCtx, openfeature.NewEvaluationContext("double-shutdown", nil)); err != nil {
		results.Fail("DoubleShutdown(init)", fmt.Sprintf("init failed: %v", err))
		return
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel2()

	first := provider.ShutdownWithContext(shutdownCtx)
	second := provider.ShutdownWithContext(shutdownCtx)
	results.Check("DoubleShutdown", first == nil && second == nil,
		"expected both shutdowns to succeed, got %v and %v", first, second)
}

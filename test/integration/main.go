// Package main is an end-to-end test suite for the AB Tasty OpenFeature
// provider.
//
// It drives the provider through the OpenFeature SDK exactly as an
// application would:
//
//   - Flag engine configuration and structured logging with slog
//   - Event handling (PROVIDER_READY, PROVIDER_ERROR, PROVIDER_CONFIGURATION_CHANGED)
//   - All evaluation types (boolean, string, int, float, object)
//   - Evaluation details and campaign metadata
//   - Targeting with context attributes and visitor info
//   - Direct flag engine access and concurrent evaluations
//   - Lifecycle: named providers, concurrent init, timeouts, shutdown
//
// Without credentials the suite runs in LOCAL decision mode over ./flags.yaml
// and checks exact values. With credentials it runs against the Decision API
// and only checks that evaluations succeed.
//
//	Run in local mode: go run .
//	Run against the API: FS_ENV_ID=env FS_API_KEY=key go run .
//
// Exit codes:
//   - 0: All tests passed
//   - 1: One or more tests failed
//   - 2: Timeout or fatal error
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/open-feature/go-sdk/openfeature"
	"github.com/open-feature/go-sdk/openfeature/hooks"

	abtasty "github.com/flagship-io/abtasty-openfeature-provider-go"
	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// suite holds what the lifecycle tests need to build extra providers.
type suite struct {
	envID  string
	apiKey string
	local  bool
	logger *slog.Logger
}

// config returns a fresh engine configuration for the suite's mode.
func (s *suite) config() *flagship.Config {
	cfg := abtasty.TestConfig()
	if s.local {
		cfg.DecisionMode = flagship.DecisionModeLocal
		cfg.FlagsFile = "./flags.yaml"
	}
	return cfg
}

// newProvider creates an uninitialized provider with the suite's settings.
func (s *suite) newProvider(opts ...abtasty.Option) (*abtasty.Provider, error) {
	opts = append([]abtasty.Option{
		abtasty.WithConfig(s.config()),
		abtasty.WithLogger(s.logger),
	}, opts...)
	return abtasty.New(s.envID, s.apiKey, opts...)
}

func main() {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("   AB Tasty OpenFeature Provider - Integration Test Suite")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var (
		cleanupSuccess = true
		exitCode       = 0
	)

	logLevel := slog.LevelInfo
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		switch level {
		case "debug", "DEBUG":
			logLevel = slog.LevelDebug
		case "warn", "WARN", "warning", "WARNING":
			logLevel = slog.LevelWarn
		case "error", "ERROR":
			logLevel = slog.LevelError
		}
	}

	baseLogger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.TimeOnly,
	}))
	appLogger := baseLogger.With("source", "app")
	slog.SetDefault(baseLogger)

	section("OPENFEATURE LOGGING HOOK")
	openfeature.AddHooks(hooks.NewLoggingHook(false, baseLogger.With("source", "openfeature-sdk")))
	appLogger.Info("logging hook added (captures all flag evaluations)")

	section("EVENT HANDLERS")
	var eventsReceived sync.Map
	handleEvent := func(eventType openfeature.EventType) openfeature.EventCallback {
		callback := func(details openfeature.EventDetails) {
			val, _ := eventsReceived.LoadOrStore(eventType, new(atomic.Int64))
			count := val.(*atomic.Int64).Add(1)
			slog.Info("event received",
				"type", eventType,
				"provider", details.ProviderName,
				"message", details.Message,
				"count", count)
		}
		return &callback
	}
	openfeature.AddHandler(openfeature.ProviderReady, handleEvent(openfeature.ProviderReady))
	openfeature.AddHandler(openfeature.ProviderError, handleEvent(openfeature.ProviderError))
	openfeature.AddHandler(openfeature.ProviderConfigChange, handleEvent(openfeature.ProviderConfigChange))

	section("FLAG ENGINE CONFIGURATION")
	s := &suite{
		envID:  os.Getenv("FS_ENV_ID"),
		apiKey: os.Getenv("FS_API_KEY"),
		logger: baseLogger,
	}
	if s.envID == "" || s.apiKey == "" {
		s.envID, s.apiKey, s.local = "local", "local", true
		appLogger.Info("no FS_ENV_ID/FS_API_KEY provided, using local decision mode", "file", "./flags.yaml")
	} else {
		appLogger.Info("using Decision API credentials from environment")
	}

	provider, err := s.newProvider(abtasty.WithEvaluationLogger(baseLogger.With("source", "flagship")))
	if err != nil {
		slog.Error("failed to create provider", "error", err)
		os.Exit(2)
	}

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("panic during shutdown", "panic", r)
					cleanupSuccess = false
				}
			}()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := openfeature.ShutdownWithContext(shutdownCtx); err != nil {
				slog.Error("shutdown error", "error", err)
				cleanupSuccess = false
			}
			slog.Info("graceful shutdown complete")
		})
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	section("PROVIDER INITIALIZATION")
	openfeature.SetEvaluationContext(openfeature.NewEvaluationContext("integration-visitor", map[string]any{
		abtasty.VisitorInfoKey: abtasty.VisitorInfo{HasConsented: true},
	}))

	initCtx, initCancel := context.WithTimeout(ctx, 15*time.Second)
	defer initCancel()
	if err := openfeature.SetProviderWithContextAndWait(initCtx, provider); err != nil {
		slog.Error("failed to initialize provider", "error", err)
		cleanup()
		os.Exit(2)
	}
	appLogger.Info("provider initialized and ready")

	client := openfeature.NewDefaultClient()

	section("RUNNING TESTS")
	runTests(ctx, client, provider, &eventsReceived, s)

	results.Summary()

	fmt.Println()
	fmt.Println("Event Statistics:")
	eventsReceived.Range(func(key, value any) bool {
		fmt.Printf("  %s: %d events\n", key.(openfeature.EventType), value.(*atomic.Int64).Load())
		return true
	})

	cleanup()

	switch {
	case !cleanupSuccess, results.total.Load() == 0:
		exitCode = 2
	case results.failed.Load() > 0:
		exitCode = 1
	}
	os.Exit(exitCode)
}

// runTests executes all integration tests with the provided context.
func runTests(ctx context.Context, client *openfeature.Client, provider *abtasty.Provider, eventsReceived *sync.Map, s *suite) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during test execution", "panic", r)
			results.Fail("panic", fmt.Sprintf("test execution panicked: %v", r))
		}
	}()

	section("FLAG EVALUATIONS")
	testTypedEvaluations(ctx, client, s.local)

	section("EVALUATION DETAILS")
	testEvaluationDetails(ctx, client, s.local)

	section("TARGETING WITH ATTRIBUTES")
	testAttributeTargeting(ctx, client, s.local)

	section("CONTEXT CANCELLATION")
	testContextCancellation(client)

	section("TYPE MISMATCH")
	testTypeMismatch(ctx, client, s.local)

	section("DIRECT FLAG ENGINE ACCESS")
	testDirectEngineAccess(ctx, provider)

	section("CONCURRENT EVALUATIONS")
	testConcurrentEvaluations(ctx, client)

	section("PROVIDER STATUS & HEALTH")
	testProviderHealth(provider)

	section("EVENT TRACKING")
	testEventTracking(eventsReceived)

	section("NAMED PROVIDER")
	testNamedProvider(ctx, s)

	section("CONCURRENT INIT CALLS")
	testConcurrentInit(ctx, s)

	section("PROVIDER_NOT_READY ERROR")
	testProviderNotReadyError(ctx, s)

	section("INIT AFTER SHUTDOWN")
	testInitAfterShutdown(s)

	section("INIT WITH INVALID CREDENTIALS")
	testInitWithoutCredentials(s)

	section("DOUBLE SHUTDOWN")
	testDoubleShutdown(s)
}

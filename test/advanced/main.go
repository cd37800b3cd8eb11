// Package main tests PROVIDER_CONFIGURATION_CHANGED detection.
//
// The provider runs in LOCAL mode over a temporary flags file with a short
// polling interval. The test flips fs_enable_discount in that file and waits
// for the monitor to report the change, then checks that evaluations see the
// new value.
//
// Run: go run ./test/advanced
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/open-feature/go-sdk/openfeature"
	"github.com/open-feature/go-sdk/openfeature/hooks"

	abtasty "github.com/flagship-io/abtasty-openfeature-provider-go"
	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// Event counters for validation
var (
	readyCount         atomic.Int32
	configChangedCount atomic.Int32
	staleCount         atomic.Int32
	errorCount         atomic.Int32
	configChangedChan  = make(chan []string, 10)
)

const (
	initialFlags = `flags:
  fs_enable_discount:
    value: false
  fs_add_to_cart_btn_color:
    value: blue
`
	updatedFlags = `flags:
  fs_enable_discount:
    value: true
  fs_add_to_cart_btn_color:
    value: blue
`
)

func main() {
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("   ABTasty OpenFeature Provider - Configuration Change Test")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, timeout := context.WithTimeout(ctx, 2*time.Minute)
	defer timeout()

	baseLogger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	}))
	appLogger := baseLogger.With("source", "app")
	slog.SetDefault(baseLogger)

	openfeature.AddHooks(hooks.NewLoggingHook(false, baseLogger.With("source", "openfeature-sdk")))
	registerHandlers(appLogger)

	dir, err := os.MkdirTemp("", "abtasty-advanced")
	if err != nil {
		appLogger.Error("failed to create temp dir", "error", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	flagsFile := filepath.Join(dir, "flags.yaml")
	if err := os.WriteFile(flagsFile, []byte(initialFlags), 0o600); err != nil {
		appLogger.Error("failed to write flags file", "error", err)
		os.Exit(1)
	}

	cfg := abtasty.TestConfig()
	cfg.DecisionMode = flagship.DecisionModeLocal
	cfg.FlagsFile = flagsFile
	cfg.PollingInterval = time.Second
	cfg.LogLevel = flagship.LogLevelWarning

	// Minimum monitoring interval for faster detection
	provider, err := abtasty.New("local", "local",
		abtasty.WithConfig(cfg),
		abtasty.WithLogger(baseLogger),
		abtasty.WithMonitoringInterval(5*time.Second),
	)
	if err != nil {
		appLogger.Error("failed to create provider", "error", err)
		os.Exit(1)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := openfeature.ShutdownWithContext(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	defer initCancel()
	if err := openfeature.SetProviderWithContextAndWait(initCtx, provider); err != nil {
		appLogger.Error("failed to initialize provider", "error", err)
		return
	}
	appLogger.Info("provider initialized", "monitoring_interval", "5s")

	client := openfeature.NewDefaultClient()
	evalCtx := openfeature.NewEvaluationContext("visitor-id", nil)

	before, _ := client.BooleanValue(ctx, "fs_enable_discount", true, evalCtx)
	appLogger.Info("initial value", "flag", "fs_enable_discount", "value", before)

	fmt.Println()
	fmt.Println(">> CONFIGURATION CHANGE EVENT DETECTION")
	if err := os.WriteFile(flagsFile, []byte(updatedFlags), 0o600); err != nil {
		appLogger.Error("failed to update flags file", "error", err)
		return
	}
	passed := testConfigurationChange(ctx, appLogger)

	after, _ := client.BooleanValue(ctx, "fs_enable_discount", false, evalCtx)
	appLogger.Info("value after change", "flag", "fs_enable_discount", "value", after)
	if after == before {
		appLogger.Error("FAIL: evaluation still returns the old value")
		passed = false
	}

	fmt.Println()
	fmt.Println(">> EVENT SUMMARY")
	appLogger.Info("provider event summary",
		"PROVIDER_READY", readyCount.Load(),
		"PROVIDER_CONFIGURATION_CHANGED", configChangedCount.Load(),
		"PROVIDER_STALE", staleCount.Load(),
		"PROVIDER_ERROR", errorCount.Load())

	if readyCount.Load() < 1 {
		appLogger.Error("FAIL: did not receive PROVIDER_READY event")
		passed = false
	}
	if !passed {
		os.Exit(1)
	}
	appLogger.Info("configuration change test completed")
}

func registerHandlers(logger *slog.Logger) {
	readyHandler := func(details openfeature.EventDetails) {
		readyCount.Add(1)
		logger.Info("EVENT: PROVIDER_READY", "provider", details.ProviderName, "message", details.Message)
	}
	openfeature.AddHandler(openfeature.ProviderReady, &readyHandler)

	configChangeHandler := func(details openfeature.EventDetails) {
		configChangedCount.Add(1)
		logger.Info("EVENT: PROVIDER_CONFIGURATION_CHANGED",
			"provider", details.ProviderName,
			"flags", details.FlagChanges)
		select {
		case configChangedChan <- details.FlagChanges:
		default:
		}
	}
	openfeature.AddHandler(openfeature.ProviderConfigChange, &configChangeHandler)

	staleHandler := func(details openfeature.EventDetails) {
		staleCount.Add(1)
		logger.Warn("EVENT: PROVIDER_STALE", "message", details.Message)
	}
	openfeature.AddHandler(openfeature.ProviderStale, &staleHandler)

	errorHandler := func(details openfeature.EventDetails) {
		errorCount.Add(1)
		logger.Error("EVENT: PROVIDER_ERROR", "message", details.Message)
	}
	openfeature.AddHandler(openfeature.ProviderError, &errorHandler)
}

func testConfigurationChange(ctx context.Context, logger *slog.Logger) bool {
	logger.Info("waiting for PROVIDER_CONFIGURATION_CHANGED event...", "timeout", "30s")

	select {
	case <-ctx.Done():
		logger.Info("context canceled")
		return false
	case changed := <-configChangedChan:
		if len(changed) != 1 || changed[0] != "fs_enable_discount" {
			logger.Error("FAIL: unexpected flag changes", "flags", changed)
			return false
		}
		logger.Info("PASS: PROVIDER_CONFIGURATION_CHANGED event detected", "flags", changed)
		return true
	case <-time.After(30 * time.Second):
		logger.Error("FAIL: no configuration change detected within timeout", "timeout", "30s")
		return false
	}
}

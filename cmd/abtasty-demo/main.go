// Command abtasty-demo serves a small shop API whose responses are driven by
// AB Tasty feature flags evaluated through OpenFeature.
//
// Configuration is read from the environment or ./.env:
//
//	FS_ENV_ID, FS_API_KEY   Flagship credentials (API mode)
//	FS_DECISION_MODE        API (default) or LOCAL
//	FS_FLAGS_FILE           flags file for LOCAL mode
//	APP_HTTP_ADDR           listen address, default :3000
//	LOG_LEVEL               debug, info, warn or error
//
// Run: FS_DECISION_MODE=LOCAL FS_FLAGS_FILE=./testdata/flags.yaml go run ./cmd/abtasty-demo
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/open-feature/go-sdk/openfeature"
	"github.com/open-feature/go-sdk/openfeature/hooks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	abtasty "github.com/flagship-io/abtasty-openfeature-provider-go"
	"github.com/flagship-io/abtasty-openfeature-provider-go/internal/config"
	"github.com/flagship-io/abtasty-openfeature-provider-go/internal/httpapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	baseLogger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      cfg.SlogLevel(),
		TimeFormat: time.TimeOnly,
	}))
	appLogger := baseLogger.With("source", "app")
	ofLogger := baseLogger.With("source", "openfeature-sdk")
	slog.SetDefault(baseLogger)

	if err := cfg.Validate(); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, baseLogger, appLogger, ofLogger); err != nil {
		appLogger.Error("demo server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, baseLogger, appLogger, ofLogger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	envID, apiKey := cfg.Credentials()
	provider, err := abtasty.New(envID, apiKey,
		abtasty.WithConfig(cfg.EngineConfig()),
		abtasty.WithLogger(baseLogger.With("source", "abtasty-provider")),
		abtasty.WithEvaluationLogger(baseLogger.With("source", "flagship")),
		abtasty.WithMetricsRegisterer(registry),
		abtasty.WithMonitoringInterval(cfg.MonitoringInterval))
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := openfeature.ShutdownWithContext(shutdownCtx); err != nil {
			appLogger.Error("provider shutdown error", "error", err)
		}
	}()

	openfeature.AddHooks(hooks.NewLoggingHook(false, ofLogger))
	configChangeHandler := func(details openfeature.EventDetails) {
		appLogger.Info("flags changed", "flags", details.FlagChanges)
	}
	openfeature.AddHandler(openfeature.ProviderConfigChange, &configChangeHandler)
	staleHandler := func(details openfeature.EventDetails) {
		appLogger.Warn("provider is stale, serving cached flags", "message", details.Message)
	}
	openfeature.AddHandler(openfeature.ProviderStale, &staleHandler)

	initCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := openfeature.SetProviderWithContextAndWait(initCtx, provider); err != nil {
		return err
	}
	appLogger.Info("provider initialized", "decision_mode", cfg.DecisionMode)

	api := httpapi.NewServer(openfeature.NewDefaultClient(), provider,
		httpapi.WithVisitorID(cfg.VisitorID),
		httpapi.WithRateLimit(cfg.RateLimitPerIP),
		httpapi.WithLogger(appLogger),
		httpapi.WithRegistry(registry))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 3 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("server running", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		appLogger.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		return err
	}

	ctxShut, cancelShut := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShut()
	return srv.Shutdown(ctxShut)
}

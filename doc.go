// Package abtasty provides an OpenFeature provider backed by the AB Tasty
// Flagship flag engine.
//
// # Basic Usage
//
//	provider, err := abtasty.New("ENV_ID", "API_KEY")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
//	defer cancel()
//	if err := openfeature.SetProviderWithContextAndWait(ctx, provider); err != nil {
//	    log.Fatal(err)
//	}
//
//	client := openfeature.NewClient("my-app")
//	evalCtx := openfeature.NewEvaluationContext("visitor-123", map[string]any{
//	    "plan": "premium",
//	})
//	enabled, _ := client.BooleanValue(context.Background(), "fs_enable_discount", false, evalCtx)
//
// Evaluations never fail: errors are reported through the resolution details
// with the GENERAL error code and the default value. The variant of a
// successful evaluation is the id of the visitor the flag was fetched for.
//
// # Visitors
//
// Each targeting key gets its own visitor session derived from the visitor
// created at Init. Sessions are immutable; a session is fetched again only
// when the primitive attributes of the evaluation context change by value.
// Consent and authentication are read from the fsVisitorInfo attribute:
//
//	evalCtx := openfeature.NewEvaluationContext("visitor-123", map[string]any{
//	    abtasty.VisitorInfoKey: abtasty.VisitorInfo{HasConsented: true},
//	})
//
// # Configuration
//
//	cfg := flagship.DefaultConfig()
//	cfg.Timeout = 5 * time.Second
//
//	provider, _ := abtasty.New("ENV_ID", "API_KEY",
//	    abtasty.WithConfig(cfg),
//	    abtasty.WithLogger(logger),
//	)
//
// For local development set cfg.DecisionMode to flagship.DecisionModeLocal and
// cfg.FlagsFile to a YAML flags file; no credentials are contacted.
//
// # Logging
//
// Provider diagnostics go to the *slog.Logger given to WithLogger. The flag
// engine's own log stream goes to the Logger given to WithEvaluationLogger,
// or to a logger attached to a single evaluation with ContextWithLogger.
//
// # Concurrency
//
// The provider is safe for concurrent use. Evaluations for different
// targeting keys never share mutable state.
package abtasty

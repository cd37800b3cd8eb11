// evaluations.go contains flag evaluation tests for all types, evaluation
// details, targeting, cancellation and type mismatches.
//
// Exact values are only checked in local mode, where ./flags.yaml is known.
package main

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/open-feature/go-sdk/openfeature"

	abtasty "github.com/flagship-io/abtasty-openfeature-provider-go"
)

// testTypedEvaluations evaluates one flag of every type for the same visitor.
func testTypedEvaluations(ctx context.Context, client *openfeature.Client, local bool) {
	evalCtx := openfeature.NewEvaluationContext("test-visitor", nil)

	tests := []struct {
		name     string
		expected any
		eval     func() (any, error)
	}{
		{"Boolean(feature_boolean_on)", true, func() (any, error) {
			return client.BooleanValue(ctx, "feature_boolean_on", false, evalCtx)
		}},
		{"Boolean(feature_boolean_off)", false, func() (any, error) {
			return client.BooleanValue(ctx, "feature_boolean_off", true, evalCtx)
		}},
		{"String(ui_theme)", "dark", func() (any, error) {
			return client.StringValue(ctx, "ui_theme", "light", evalCtx)
		}},
		{"Int(max_retries)", int64(5), func() (any, error) {
			return client.IntValue(ctx, "max_retries", 3, evalCtx)
		}},
		{"Float(discount_rate)", 0.15, func() (any, error) {
			return client.FloatValue(ctx, "discount_rate", 0, evalCtx)
		}},
		{"Object(premium_features)", map[string]any{"max_items": 100, "support": "priority"}, func() (any, error) {
			return client.ObjectValue(ctx, "premium_features", map[string]any{}, evalCtx)
		}},
		{"Object(sizes)", []any{"small", "medium", "large"}, func() (any, error) {
			return client.ObjectValue(ctx, "sizes", []any{}, evalCtx)
		}},
	}

	for _, tt := range tests {
		value, err := tt.eval()
		if err != nil {
			results.Fail(tt.name, err.Error())
			continue
		}
		if !local {
			results.Pass(tt.name)
			continue
		}
		results.Check(tt.name, reflect.DeepEqual(value, tt.expected),
			"expected %v (%T), got %v (%T)", tt.expected, tt.expected, value, value)
	}
}

// testEvaluationDetails checks variant, reason and campaign metadata.
func testEvaluationDetails(ctx context.Context, client *openfeature.Client, local bool) {
	evalCtx := openfeature.NewEvaluationContext("details-visitor", nil)

	details, err := client.BooleanValueDetails(ctx, "feature_boolean_on", false, evalCtx)
	if err != nil {
		results.Fail("Details(evaluation)", err.Error())
		return
	}

	results.Check("Details(variant)", details.Variant == "details-visitor",
		"expected variant details-visitor, got %q", details.Variant)
	results.Check("Details(reason)", details.Reason == openfeature.StaticReason,
		"expected STATIC reason, got %s", details.Reason)

	if !local {
		return
	}

	campaignID, err := details.FlagMetadata.GetString("campaignId")
	results.Check("Details(campaignId)", err == nil && campaignID == "integration",
		"expected campaignId integration, got %q (%v)", campaignID, err)

	// Variations are bucketed on the visitor id, so the same visitor always
	// gets the same one.
	first, err := client.StringValueDetails(ctx, "checkout_flow", "v0", evalCtx)
	if err != nil {
		results.Fail("Details(variation)", err.Error())
		return
	}
	second, _ := client.StringValueDetails(ctx, "checkout_flow", "v0", evalCtx)
	variationID, _ := first.FlagMetadata.GetString("variationId")
	results.Check("Details(variation)",
		first.Value == second.Value && (variationID == "checkout-v1" || variationID == "checkout-v2"),
		"unstable or unknown variation: %q then %q (variation %q)", first.Value, second.Value, variationID)
}

// testAttributeTargeting evaluates the same flag for visitors with different
// context attributes.
func testAttributeTargeting(ctx context.Context, client *openfeature.Client, local bool) {
	tests := []struct {
		name     string
		attrs    map[string]any
		expected string
	}{
		{"Targeting(no attributes)", nil, "blue"},
		{"Targeting(plan=premium)", map[string]any{"plan": "premium"}, "gold"},
		{"Targeting(fs_is_vip)", map[string]any{"fs_is_vip": true}, "silver"},
		{"Targeting(visitor info)", map[string]any{
			"plan":                 "premium",
			abtasty.VisitorInfoKey: map[string]any{"hasConsented": true, "isAuthenticated": true},
		}, "gold"},
	}

	for i, tt := range tests {
		evalCtx := openfeature.NewEvaluationContext(fmt.Sprintf("targeted-visitor-%d", i), tt.attrs)
		value, err := client.StringValue(ctx, "button_color", "none", evalCtx)
		if err != nil {
			results.Fail(tt.name, err.Error())
			continue
		}
		if !local {
			results.Pass(tt.name)
			continue
		}
		results.Check(tt.name, value == tt.expected, "expected %s, got %s", tt.expected, value)
	}

	// A context change on a known visitor triggers a refetch.
	evalCtx := openfeature.NewEvaluationContext("returning-visitor", nil)
	before, _ := client.StringValue(ctx, "button_color", "none", evalCtx)
	evalCtx = openfeature.NewEvaluationContext("returning-visitor", map[string]any{"plan": "premium"})
	after, _ := client.StringValue(ctx, "button_color", "none", evalCtx)
	if local {
		results.Check("Targeting(context update)", before == "blue" && after == "gold",
			"expected blue then gold, got %s then %s", before, after)
	}
}

// testContextCancellation checks that a canceled fetch falls back to the default.
func testContextCancellation(client *openfeature.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	// A new visitor forces a fetch that sees the expired context.
	evalCtx := openfeature.NewEvaluationContext("canceled-visitor", nil)
	value, err := client.BooleanValue(ctx, "feature_boolean_on", false, evalCtx)

	results.Check("Cancellation(default)", !value, "expected default false, got %v", value)
	results.Check("Cancellation(error)", err != nil, "expected an evaluation error")
}

// testTypeMismatch checks that incompatible flag values resolve to the default
// without an error.
func testTypeMismatch(ctx context.Context, client *openfeature.Client, local bool) {
	if !local {
		return
	}
	evalCtx := openfeature.NewEvaluationContext("test-visitor", nil)

	value, err := client.IntValue(ctx, "ui_theme", 42, evalCtx)
	results.Check("TypeMismatch(string as int)", err == nil && value == 42,
		"expected default 42 without error, got %d (%v)", value, err)

	missing, err := client.StringValueDetails(ctx, "does_not_exist", "fallback", evalCtx)
	results.Check("TypeMismatch(missing flag)",
		err == nil && missing.Value == "fallback" && len(missing.FlagMetadata) == 0,
		"expected fallback without metadata, got %q %v (%v)", missing.Value, missing.FlagMetadata, err)
}

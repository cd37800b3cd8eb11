package abtasty

import (
	"context"

	of "github.com/open-feature/go-sdk/openfeature"
)

// BooleanEvaluation evaluates a feature flag and returns a boolean value.
//
// The flag value must be a boolean; any other value yields def without an
// error. Attributes of ec other than the targeting key are sent to the flag
// engine as visitor context when they are primitives.
//
// Returns def with a resolution error if:
//   - The provider is not initialized (PROVIDER_NOT_READY)
//   - ctx is canceled or its deadline exceeded (GENERAL)
//   - Fetching the visitor's flags failed (GENERAL)
func (p *Provider) BooleanEvaluation(ctx context.Context, flag string, def bool, ec of.FlattenedContext) of.BoolResolutionDetail {
	value, detail := p.evaluate(ctx, "boolean", flag, def, ec)
	v, ok := value.(bool)
	if !ok {
		v = def
	}
	return of.BoolResolutionDetail{
		Value:                    v,
		ProviderResolutionDetail: detail,
	}
}

// StringEvaluation evaluates a feature flag and returns a string value.
// See BooleanEvaluation for error behavior.
func (p *Provider) StringEvaluation(ctx context.Context, flag, def string, ec of.FlattenedContext) of.StringResolutionDetail {
	value, detail := p.evaluate(ctx, "string", flag, def, ec)
	v, ok := value.(string)
	if !ok {
		v = def
	}
	return of.StringResolutionDetail{
		Value:                    v,
		ProviderResolutionDetail: detail,
	}
}

// FloatEvaluation evaluates a feature flag and returns a float64 value.
// Any numeric flag value is accepted. See BooleanEvaluation for error behavior.
func (p *Provider) FloatEvaluation(ctx context.Context, flag string, def float64, ec of.FlattenedContext) of.FloatResolutionDetail {
	value, detail := p.evaluate(ctx, "float", flag, def, ec)
	v, ok := value.(float64)
	if !ok {
		v = def
	}
	return of.FloatResolutionDetail{
		Value:                    v,
		ProviderResolutionDetail: detail,
	}
}

// IntEvaluation evaluates a feature flag and returns an int64 value.
//
// Numeric flag values are accepted when they are integral; the Decision API
// encodes every number as a JSON number, so 3.0 is read as 3 and 3.5 yields
// def. See BooleanEvaluation for error behavior.
func (p *Provider) IntEvaluation(ctx context.Context, flag string, def int64, ec of.FlattenedContext) of.IntResolutionDetail {
	value, detail := p.evaluate(ctx, "int", flag, def, ec)
	v, ok := value.(int64)
	if !ok {
		v = def
	}
	return of.IntResolutionDetail{
		Value:                    v,
		ProviderResolutionDetail: detail,
	}
}

// ObjectEvaluation evaluates a feature flag holding a JSON object or array.
//
// A nil def accepts any flag value. A map or slice def accepts objects and
// arrays. See BooleanEvaluation for error behavior.
//
// Example:
//
//	evalCtx := of.NewEvaluationContext("visitor-123", nil)
//	banner, _ := client.ObjectValue(context.Background(), "flag_object", map[string]any{}, evalCtx)
func (p *Provider) ObjectEvaluation(ctx context.Context, flag string, def any, ec of.FlattenedContext) of.InterfaceResolutionDetail {
	value, detail := p.evaluate(ctx, "object", flag, def, ec)
	return of.InterfaceResolutionDetail{
		Value:                    value,
		ProviderResolutionDetail: detail,
	}
}

// Hooks returns the provider's hooks for OpenFeature lifecycle events.
// This provider does not implement any hooks.
func (p *Provider) Hooks() []of.Hook {
	return nil
}

// evaluate checks the provider state and delegates to the current Resolver.
func (p *Provider) evaluate(ctx context.Context, kind, flag string, def any, ec of.FlattenedContext) (any, of.ProviderResolutionDetail) {
	targetingKey, _ := ec[of.TargetingKey].(string)
	p.logger.Debug("evaluating flag", "flag", flag, "type", kind, "targeting_key", targetingKey, "default", describe(def))

	if validationDetail := p.validateEvaluation(ctx); validationDetail.Error() != nil {
		p.logger.Debug("validation failed", "flag", flag, "error", validationDetail.ResolutionError.Error())
		p.metrics.observeEvaluation(kind, true)
		return def, validationDetail
	}

	p.mtx.RLock()
	resolver := p.resolver
	p.mtx.RUnlock()
	if resolver == nil {
		p.metrics.observeEvaluation(kind, true)
		return def, resolutionDetailProviderNotReady()
	}

	value, detail := resolver.Resolve(ctx, flag, def, ec)
	p.metrics.observeEvaluation(kind, detail.Error() != nil)
	return value, detail
}

// validateEvaluation returns a resolution detail with an error when the
// evaluation cannot proceed, or an empty detail otherwise.
func (p *Provider) validateEvaluation(ctx context.Context) of.ProviderResolutionDetail {
	if state := p.Status(); state != of.ReadyState && state != of.StaleState {
		return resolutionDetailProviderNotReady()
	}
	if err := ctx.Err(); err != nil {
		return resolutionDetailGeneralError(err.Error())
	}
	return of.ProviderResolutionDetail{}
}

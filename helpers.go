package abtasty

import (
	"fmt"
	"unicode/utf8"

	of "github.com/open-feature/go-sdk/openfeature"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// VisitorInfo carries the consent and authentication state of a visitor.
// It is read from the VisitorInfoKey attribute of the evaluation context as a
// VisitorInfo, a *VisitorInfo, or a map with "hasConsented" and
// "isAuthenticated" booleans.
type VisitorInfo struct {
	HasConsented    bool
	IsAuthenticated bool
}

// defaultVisitorInfo is applied to the visitor created at Init.
var defaultVisitorInfo = VisitorInfo{HasConsented: true, IsAuthenticated: true}

// visitorInfoFrom reads VisitorInfoKey from ec. Fields missing from a map
// keep their value in current. The second result is false when ec has no
// usable visitor info.
func visitorInfoFrom(ec of.FlattenedContext, current VisitorInfo) (VisitorInfo, bool) {
	switch info := ec[VisitorInfoKey].(type) {
	case VisitorInfo:
		return info, true
	case *VisitorInfo:
		if info == nil {
			return current, false
		}
		return *info, true
	case map[string]any:
		out, found := current, false
		if v, ok := info["hasConsented"].(bool); ok {
			out.HasConsented, found = v, true
		}
		if v, ok := info["isAuthenticated"].(bool); ok {
			out.IsAuthenticated, found = v, true
		}
		return out, found
	}
	return current, false
}

// toPrimitiveContext returns the attributes of ec that can be sent to the
// flag engine: strings, booleans, numbers and nil. The targeting key, the
// visitor info and every non-primitive value are dropped.
func toPrimitiveContext(ec of.FlattenedContext) map[string]any {
	out := make(map[string]any, len(ec))
	for k, v := range ec {
		if k == of.TargetingKey || k == VisitorInfoKey {
			continue
		}
		if flagship.IsPrimitive(v) {
			out[k] = v
		}
	}
	return out
}

// ========================================
// Resolution details
// ========================================
//
// Every result carries the STATIC reason. Errors use the GENERAL code, except
// evaluations made before Init, which use PROVIDER_NOT_READY. A missing or
// type-incompatible flag is not an error: the default value is returned with
// the visitor id as variant.

// resolutionDetailSuccess creates the resolution detail of a successful lookup.
func resolutionDetailSuccess(visitorID string, flag flagship.Flag) of.ProviderResolutionDetail {
	return of.ProviderResolutionDetail{
		Reason:       of.StaticReason,
		Variant:      visitorID,
		FlagMetadata: flagMetadata(flag),
	}
}

// resolutionDetailGeneralError creates a resolution detail for a failed resolution.
func resolutionDetailGeneralError(msg string) of.ProviderResolutionDetail {
	return of.ProviderResolutionDetail{
		ResolutionError: of.NewGeneralResolutionError(msg),
		Reason:          of.StaticReason,
	}
}

// resolutionDetailProviderNotReady creates a resolution detail for provider not ready.
func resolutionDetailProviderNotReady() of.ProviderResolutionDetail {
	return of.ProviderResolutionDetail{
		ResolutionError: of.NewProviderNotReadyResolutionError("provider not initialized"),
		Reason:          of.StaticReason,
	}
}

// flagMetadata exposes the campaign a flag came from. It is nil for flags
// that were not part of the visitor's last fetch.
func flagMetadata(flag flagship.Flag) of.FlagMetadata {
	if !flag.Exists() {
		return nil
	}
	m := flag.Metadata()
	return of.FlagMetadata{
		"campaignId":       m.CampaignID,
		"campaignName":     m.CampaignName,
		"campaignType":     m.CampaignType,
		"slug":             m.Slug,
		"variationGroupId": m.VariationGroupID,
		"variationId":      m.VariationID,
		"isReference":      m.IsReference,
	}
}

// errorMessage returns err's message, or the generic message when it is empty.
func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return unexpectedErrorMessage
	}
	return err.Error()
}

// recoveredPanic is a panic recovered while fetching flags.
type recoveredPanic struct {
	value any
}

func (p *recoveredPanic) Error() string {
	return panicMessage(p.value)
}

// panicMessage returns the message of a recovered panic value. Only errors
// carry a usable message; anything else gets the generic message.
func panicMessage(rec any) string {
	if err, ok := rec.(error); ok {
		return errorMessage(err)
	}
	return unexpectedErrorMessage
}

// describe formats a value for debug logs without dumping large objects.
func describe(v any) string {
	s := fmt.Sprintf("%v", v)
	return truncateString(s, 100)
}

// truncateString cuts s to at most maxLen bytes, adding "..." if truncated.
// The cut never splits a multi-byte rune.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

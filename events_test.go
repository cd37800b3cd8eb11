package abtasty

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/open-feature/go-sdk/openfeature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

func TestRefreshEmitsConfigurationChanged(t *testing.T) {
	engine := newFakeEngine()
	provider := newEngineProvider(t, engine)
	require.NoError(t, provider.InitWithContext(context.Background(), openfeature.NewEvaluationContext("visitor-id", nil)))
	drainEvents(provider)

	provider.BooleanEvaluation(context.Background(), "fs_enable_discount", false, openfeature.FlattenedContext{openfeature.TargetingKey: "alice"})
	require.Equal(t, 1, provider.Resolver().Sessions())

	engine.set(staticFlags(map[string]any{"fs_enable_discount": false, "flag_number": 1}))
	provider.refreshBaseVisitor()

	events := drainEvents(provider)
	require.Len(t, events, 1)
	assert.Equal(t, openfeature.ProviderConfigChange, events[0].EventType)
	assert.Equal(t, []string{"flag_number", "fs_enable_discount"}, events[0].FlagChanges)

	assert.Equal(t, false, provider.Visitor().Flag("fs_enable_discount").Value(true))
	assert.Zero(t, provider.Resolver().Sessions(), "sessions are dropped on change")

	b := provider.BooleanEvaluation(context.Background(), "fs_enable_discount", true, openfeature.FlattenedContext{openfeature.TargetingKey: "alice"})
	assert.False(t, b.Value, "alice is fetched again")
}

func TestRefreshWithoutChangesIsSilent(t *testing.T) {
	engine := newFakeEngine()
	provider := newEngineProvider(t, engine)
	require.NoError(t, provider.InitWithContext(context.Background(), openfeature.NewEvaluationContext("visitor-id", nil)))
	drainEvents(provider)

	provider.refreshBaseVisitor()
	assert.Empty(t, drainEvents(provider))
	assert.Equal(t, int32(2), engine.calls.Load())
}

func TestRefreshFailureMarksStale(t *testing.T) {
	engine := newFakeEngine()
	provider := newEngineProvider(t, engine)
	require.NoError(t, provider.InitWithContext(context.Background(), openfeature.NewEvaluationContext("visitor-id", nil)))
	drainEvents(provider)

	engine.set(func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		return nil, errors.New("network down")
	})
	provider.refreshBaseVisitor()
	provider.refreshBaseVisitor()

	events := drainEvents(provider)
	require.Len(t, events, 1, "STALE is emitted once per outage")
	assert.Equal(t, openfeature.ProviderStale, events[0].EventType)
	assert.Contains(t, events[0].Message, "network down")
	assert.Equal(t, openfeature.StaleState, provider.Status())

	b := provider.BooleanEvaluation(context.Background(), "fs_enable_discount", false, evaluationContext())
	assert.True(t, b.Value, "cached flags are served while stale")
	assert.NoError(t, b.Error())

	engine.set(staticFlags(map[string]any{"fs_enable_discount": true}))
	provider.refreshBaseVisitor()

	events = drainEvents(provider)
	require.Len(t, events, 1)
	assert.Equal(t, openfeature.ProviderReady, events[0].EventType)
	assert.Equal(t, openfeature.ReadyState, provider.Status())
}

func TestMonitoringDetectsChanges(t *testing.T) {
	engine := newFakeEngine()
	provider := newEngineProvider(t, engine)
	provider.monitoringInterval = 20 * time.Millisecond
	require.NoError(t, provider.InitWithContext(context.Background(), openfeature.NewEvaluationContext("visitor-id", nil)))

	ready := <-provider.EventChannel()
	require.Equal(t, openfeature.ProviderReady, ready.EventType)

	engine.set(staticFlags(map[string]any{"fs_enable_discount": false}))

	select {
	case event := <-provider.EventChannel():
		assert.Equal(t, openfeature.ProviderConfigChange, event.EventType)
		assert.Equal(t, []string{"fs_enable_discount"}, event.FlagChanges)
	case <-time.After(2 * time.Second):
		t.Fatal("configuration change was not detected")
	}

	require.NoError(t, provider.ShutdownWithContext(context.Background()))
}

func TestEmitEventDropsWhenFull(t *testing.T) {
	provider := newLocalProvider(t)

	for range eventChannelBuffer + 10 {
		provider.emitEvent(&openfeature.Event{EventType: openfeature.ProviderConfigChange})
	}
	assert.Len(t, provider.EventChannel(), eventChannelBuffer)

	require.NoError(t, provider.ShutdownWithContext(context.Background()))
	assert.NotPanics(t, func() {
		provider.emitEvent(&openfeature.Event{EventType: openfeature.ProviderReady})
	}, "emitting after shutdown is a no-op")
}

func TestChangedFlags(t *testing.T) {
	meta := flagship.FlagMetadata{CampaignID: "c1", VariationID: "v1"}
	old := map[string]flagship.Flag{
		"same":     flagship.NewFlag("same", "a", meta),
		"value":    flagship.NewFlag("value", 1, meta),
		"removed":  flagship.NewFlag("removed", true, meta),
		"metadata": flagship.NewFlag("metadata", "x", meta),
		"object":   flagship.NewFlag("object", map[string]any{"k": []any{1, 2}}, meta),
	}
	current := map[string]flagship.Flag{
		"same":     flagship.NewFlag("same", "a", meta),
		"value":    flagship.NewFlag("value", 2, meta),
		"added":    flagship.NewFlag("added", false, meta),
		"metadata": flagship.NewFlag("metadata", "x", flagship.FlagMetadata{CampaignID: "c1", VariationID: "v2"}),
		"object":   flagship.NewFlag("object", map[string]any{"k": []any{1, 2}}, meta),
	}

	assert.Equal(t, []string{"added", "metadata", "removed", "value"}, changedFlags(old, current))
	assert.Empty(t, changedFlags(old, old))
	assert.Empty(t, changedFlags(nil, nil))
}

func TestVisitorInfoFrom(t *testing.T) {
	current := VisitorInfo{HasConsented: true, IsAuthenticated: false}

	tests := []struct {
		name     string
		value    any
		expected VisitorInfo
		found    bool
	}{
		{"missing", nil, current, false},
		{"struct", VisitorInfo{IsAuthenticated: true}, VisitorInfo{IsAuthenticated: true}, true},
		{"pointer", &VisitorInfo{HasConsented: true, IsAuthenticated: true}, VisitorInfo{HasConsented: true, IsAuthenticated: true}, true},
		{"nil pointer", (*VisitorInfo)(nil), current, false},
		{"full map", map[string]any{"hasConsented": false, "isAuthenticated": true}, VisitorInfo{IsAuthenticated: true}, true},
		{"partial map", map[string]any{"isAuthenticated": true}, VisitorInfo{HasConsented: true, IsAuthenticated: true}, true},
		{"map with wrong types", map[string]any{"hasConsented": "yes"}, current, false},
		{"unsupported type", "consented", current, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := openfeature.FlattenedContext{}
			if tt.value != nil {
				ec[VisitorInfoKey] = tt.value
			}
			info, found := visitorInfoFrom(ec, current)
			assert.Equal(t, tt.expected, info)
			assert.Equal(t, tt.found, found)
		})
	}
}

func TestToPrimitiveContext(t *testing.T) {
	ec := openfeature.FlattenedContext{
		openfeature.TargetingKey: "visitor-id",
		VisitorInfoKey:           VisitorInfo{},
		"plan":                   "premium",
		"age":                    int64(30),
		"score":                  0.5,
		"vip":                    true,
		"nothing":                nil,
		"nested":                 map[string]any{"a": 1},
		"list":                   []string{"a"},
		"when":                   time.Now(),
	}

	assert.Equal(t, map[string]any{
		"plan":    "premium",
		"age":     int64(30),
		"score":   0.5,
		"vip":     true,
		"nothing": nil,
	}, toPrimitiveContext(ec))
	assert.Empty(t, toPrimitiveContext(nil))
}

func TestPanicMessage(t *testing.T) {
	assert.Equal(t, "boom", panicMessage(errors.New("boom")))
	assert.Equal(t, unexpectedErrorMessage, panicMessage(errors.New("")))
	assert.Equal(t, unexpectedErrorMessage, panicMessage("boom"))
	assert.Equal(t, unexpectedErrorMessage, panicMessage(42))
	assert.Equal(t, unexpectedErrorMessage, panicMessage(nil))

	var err error = &recoveredPanic{value: errors.New("inner")}
	assert.Equal(t, "inner", errorMessage(err))
	assert.Equal(t, unexpectedErrorMessage, errorMessage(nil))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abc...", truncateString("abcdef", 3))

	// "é" and "€" are two and three bytes long.
	assert.Equal(t, "caf...", truncateString("café au lait", 4))
	assert.Equal(t, "10...", truncateString("10€ off", 3))
	assert.Equal(t, "10€...", truncateString("10€ off", 5))
	for n := range 8 {
		assert.True(t, utf8.ValidString(truncateString("10€ café", n)), "cut at %d", n)
	}
	assert.Equal(t, "map[a:1]", describe(map[string]any{"a": 1}))
}

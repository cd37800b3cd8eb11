package abtasty

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	of "github.com/open-feature/go-sdk/openfeature"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// fakeEngine is a flag engine backend whose behavior tests can swap.
type fakeEngine struct {
	calls atomic.Int32

	mu       sync.Mutex
	decide   func(req flagship.DecisionRequest) (map[string]flagship.Flag, error)
	requests []flagship.DecisionRequest
}

func (e *fakeEngine) Decide(_ context.Context, req flagship.DecisionRequest) (map[string]flagship.Flag, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.requests = append(e.requests, req)
	decide := e.decide
	e.mu.Unlock()
	return decide(req)
}

func (e *fakeEngine) set(decide func(req flagship.DecisionRequest) (map[string]flagship.Flag, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.decide = decide
}

func (e *fakeEngine) lastRequest() flagship.DecisionRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

// staticFlags answers every visitor with the same flags.
func staticFlags(values map[string]any) func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
	return func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		out := make(map[string]flagship.Flag, len(values))
		for k, v := range values {
			out[k] = flagship.NewFlag(k, v, flagship.FlagMetadata{CampaignID: "campaign-1", VariationID: "variation-1"})
		}
		return out, nil
	}
}

// newTestResolver returns a Resolver over a fetched base visitor "base-visitor".
// The engine call made for the base visitor is not counted.
func newTestResolver(t *testing.T, cfg *flagship.Config) (*Resolver, *fakeEngine) {
	t.Helper()
	engine := &fakeEngine{}
	engine.set(staticFlags(map[string]any{
		"fs_enable_discount":       true,
		"fs_add_to_cart_btn_color": "red",
		"flag_number":              float64(12),
		"flag_object":              map[string]any{"title": "tee"},
	}))

	if cfg == nil {
		cfg = &flagship.Config{}
	}
	cfg.Decider = engine
	client, err := flagship.Start(context.Background(), "env", "key", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	base, err := client.NewVisitor(flagship.VisitorOptions{ID: "base-visitor"}).Fetch(context.Background(), nil)
	require.NoError(t, err)
	engine.calls.Store(0)

	return NewResolver(base, nil), engine
}

func TestResolveReturnsFlagValue(t *testing.T) {
	r, _ := newTestResolver(t, nil)

	value, detail := r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{
		of.TargetingKey: "visitor-id",
	})

	assert.Equal(t, true, value)
	rd := detail.ResolutionDetail()
	assert.Equal(t, "visitor-id", rd.Variant)
	assert.Equal(t, of.StaticReason, rd.Reason)
	assert.Empty(t, rd.ErrorCode)
	assert.Empty(t, rd.ErrorMessage)
	assert.NoError(t, detail.Error())
	assert.Equal(t, "campaign-1", rd.FlagMetadata["campaignId"])
}

func TestResolveFetchError(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	engine.set(func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		return nil, errors.New("Fetch failed")
	})

	value, detail := r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{
		of.TargetingKey: "visitor-id",
	})

	assert.Equal(t, false, value)
	rd := detail.ResolutionDetail()
	assert.Empty(t, rd.Variant)
	assert.Equal(t, of.StaticReason, rd.Reason)
	assert.Equal(t, of.GeneralCode, rd.ErrorCode)
	assert.Equal(t, "Fetch failed", rd.ErrorMessage)
}

func TestResolvePanicMessages(t *testing.T) {
	tests := []struct {
		name     string
		panicked any
		expected string
	}{
		{"non-error value", 42, unexpectedErrorMessage},
		{"string value", "boom", unexpectedErrorMessage},
		{"error value", errors.New("engine exploded"), "engine exploded"},
		{"error without message", errors.New(""), unexpectedErrorMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, engine := newTestResolver(t, nil)
			engine.set(func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
				panic(tt.panicked)
			})

			var (
				value  any
				detail of.ProviderResolutionDetail
			)
			require.NotPanics(t, func() {
				value, detail = r.Resolve(context.Background(), "flag_number", float64(3), of.FlattenedContext{
					of.TargetingKey: "visitor-id",
				})
			})

			assert.Equal(t, float64(3), value)
			rd := detail.ResolutionDetail()
			assert.Equal(t, of.GeneralCode, rd.ErrorCode)
			assert.Equal(t, tt.expected, rd.ErrorMessage)
			assert.Equal(t, of.StaticReason, rd.Reason)
		})
	}
}

func TestResolveEmptyErrorMessageUsesFallback(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	engine.set(func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		return nil, errors.New("")
	})

	_, detail := r.Resolve(context.Background(), "flag_number", float64(0), of.FlattenedContext{of.TargetingKey: "v"})
	assert.Equal(t, unexpectedErrorMessage, detail.ResolutionDetail().ErrorMessage)
}

func TestResolveIsIdempotentForUnchangedContext(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	ec := of.FlattenedContext{of.TargetingKey: "visitor-id", "plan": "premium"}

	_, first := r.Resolve(context.Background(), "fs_enable_discount", false, ec)
	require.NoError(t, first.Error())
	assert.Equal(t, int32(1), engine.calls.Load())

	_, second := r.Resolve(context.Background(), "fs_add_to_cart_btn_color", "blue", ec)
	require.NoError(t, second.Error())
	assert.Equal(t, int32(1), engine.calls.Load(), "unchanged context must not refetch")
	assert.Equal(t, int64(1), r.Fetches())
}

func TestResolveRefetchesOnContextChange(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	ec := of.FlattenedContext{of.TargetingKey: "visitor-id", "plan": "premium"}

	r.Resolve(context.Background(), "fs_enable_discount", false, ec)
	require.Equal(t, int32(1), engine.calls.Load())

	ec["plan"] = "free"
	r.Resolve(context.Background(), "fs_enable_discount", false, ec)
	assert.Equal(t, int32(2), engine.calls.Load())
	assert.Equal(t, map[string]any{"plan": "free"}, engine.lastRequest().Context)
}

func TestResolveIgnoresNonPrimitiveChanges(t *testing.T) {
	r, engine := newTestResolver(t, nil)

	r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{
		of.TargetingKey: "visitor-id",
		"plan":          "premium",
	})
	require.Equal(t, int32(1), engine.calls.Load())

	r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{
		of.TargetingKey: "visitor-id",
		"plan":          "premium",
		"cart":          map[string]any{"items": 3},
		"tags":          []string{"a"},
		"callback":      func() {},
	})
	assert.Equal(t, int32(1), engine.calls.Load(), "only non-primitive fields changed")
	assert.Equal(t, map[string]any{"plan": "premium"}, engine.lastRequest().Context)
}

func TestResolveEmptyContextUsesCachedBase(t *testing.T) {
	r, engine := newTestResolver(t, nil)

	for _, ec := range []of.FlattenedContext{nil, {}} {
		value, detail := r.Resolve(context.Background(), "fs_add_to_cart_btn_color", "blue", ec)
		assert.Equal(t, "red", value)
		assert.Equal(t, "base-visitor", detail.Variant)
	}
	assert.Zero(t, engine.calls.Load())
}

func TestResolveUpdatesVisitorIDOnFailure(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	engine.set(func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		return nil, errors.New("Fetch failed")
	})

	_, detail := r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{of.TargetingKey: "alice"})
	require.Error(t, detail.Error())

	session, ok := r.Session("alice")
	require.True(t, ok, "session is stored before the fetch")
	assert.Equal(t, "alice", session.ID())
	assert.Equal(t, flagship.FetchStatusFetchRequired, session.FetchStatus().Status)
	assert.Equal(t, "alice", engine.lastRequest().VisitorID)

	engine.set(staticFlags(map[string]any{"fs_enable_discount": true}))
	value, detail := r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{of.TargetingKey: "alice"})
	require.NoError(t, detail.Error())
	assert.Equal(t, true, value)
	assert.Equal(t, int32(2), engine.calls.Load(), "the failed fetch is retried")

	session, _ = r.Session("alice")
	assert.Equal(t, flagship.FetchStatusFetched, session.FetchStatus().Status)
}

func TestResolveVariantIsVisitorID(t *testing.T) {
	r, _ := newTestResolver(t, nil)

	for _, id := range []string{"alice", "bob", "carol"} {
		_, detail := r.Resolve(context.Background(), "flag_number", float64(0), of.FlattenedContext{of.TargetingKey: id})
		assert.Equal(t, id, detail.Variant)
	}
	assert.Equal(t, "base-visitor", r.Base().ID(), "the base visitor is never mutated")
}

func TestResolveTypeMismatchReturnsDefault(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	ec := of.FlattenedContext{of.TargetingKey: "visitor-id"}

	value, detail := r.Resolve(context.Background(), "fs_add_to_cart_btn_color", false, ec)
	assert.Equal(t, false, value)
	assert.NoError(t, detail.Error())
	assert.Equal(t, "visitor-id", detail.Variant)

	value, detail = r.Resolve(context.Background(), "missing_flag", "fallback", ec)
	assert.Equal(t, "fallback", value)
	assert.NoError(t, detail.Error())
	assert.Nil(t, detail.FlagMetadata)

	value, _ = r.Resolve(context.Background(), "flag_number", int64(0), ec)
	assert.Equal(t, int64(12), value)
}

func TestResolveAppliesVisitorInfo(t *testing.T) {
	r, engine := newTestResolver(t, nil)

	r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{
		of.TargetingKey: "visitor-id",
		VisitorInfoKey:  map[string]any{"hasConsented": true, "isAuthenticated": true},
	})
	req := engine.lastRequest()
	assert.True(t, req.HasConsented)
	assert.True(t, req.IsAuthenticated)
	assert.NotContains(t, req.Context, VisitorInfoKey)

	r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{
		of.TargetingKey: "visitor-id",
		VisitorInfoKey:  VisitorInfo{HasConsented: false, IsAuthenticated: true},
	})
	assert.Equal(t, int32(2), engine.calls.Load(), "consent change requires a fetch")
	assert.False(t, engine.lastRequest().HasConsented)
}

func TestResolveUsesLoggerFromContext(t *testing.T) {
	r, _ := newTestResolver(t, &flagship.Config{LogLevel: flagship.LogLevelDebug})

	rec := &recordingLogger{}
	ctx := ContextWithLogger(context.Background(), rec)
	_, detail := r.Resolve(ctx, "fs_enable_discount", false, of.FlattenedContext{of.TargetingKey: "visitor-id"})
	require.NoError(t, detail.Error())

	joined := strings.Join(rec.lines, "\n")
	assert.Contains(t, joined, "DEBUG [fetchFlags] : fetching flags for visitor visitor-id")
}

func TestResolveConcurrentVisitors(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	engine.set(func(req flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		return map[string]flagship.Flag{
			"whoami": flagship.NewFlag("whoami", req.VisitorID, flagship.FlagMetadata{}),
		}, nil
	})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("visitor-%d", i%10)
			value, detail := r.Resolve(context.Background(), "whoami", "", of.FlattenedContext{
				of.TargetingKey: id,
				"round":         i % 2,
			})
			assert.NoError(t, detail.Error())
			assert.Equal(t, id, value, "a call never sees another visitor's flags")
			assert.Equal(t, id, detail.Variant)
		}()
	}
	wg.Wait()
}

func TestResolveCollapsesConcurrentFetches(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	release := make(chan struct{})
	engine.set(func(flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		<-release
		return staticFlags(map[string]any{"fs_enable_discount": true})(flagship.DecisionRequest{})
	})

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			value, _ := r.Resolve(context.Background(), "fs_enable_discount", false, of.FlattenedContext{of.TargetingKey: "same"})
			assert.Equal(t, true, value)
		}()
	}

	require.Eventually(t, func() bool { return engine.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestResolverSessionBound(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	r.maxSessions = 2

	for _, id := range []string{"a", "b", "c"} {
		r.Resolve(context.Background(), "flag_number", float64(0), of.FlattenedContext{of.TargetingKey: id})
	}
	assert.Equal(t, 2, r.Sessions())
	_, ok := r.Session("c")
	assert.True(t, ok, "the newest session is kept")
}

func TestResolverReplaceBase(t *testing.T) {
	r, engine := newTestResolver(t, nil)
	ec := of.FlattenedContext{of.TargetingKey: "visitor-id"}

	r.Resolve(context.Background(), "fs_enable_discount", false, ec)
	require.Equal(t, 1, r.Sessions())

	r.replaceBase(r.Base())
	assert.Zero(t, r.Sessions())

	r.Resolve(context.Background(), "fs_enable_discount", false, ec)
	assert.Equal(t, int32(2), engine.calls.Load(), "sessions are fetched again after a base change")
}

func TestFetchKey(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	base := r.Base()

	a := base.WithContext(map[string]any{"x": 1, "y": "z"})
	b := base.WithContext(map[string]any{"y": "z", "x": 1})
	c := base.WithContext(map[string]any{"x": "1", "y": "z"})

	assert.Equal(t, fetchKey(a), fetchKey(b))
	assert.NotEqual(t, fetchKey(a), fetchKey(c), "types are part of the key")
	assert.NotEqual(t, fetchKey(a), fetchKey(a.WithID("other")))
	assert.NotEqual(t, fetchKey(a), fetchKey(a.WithInfo(!a.HasConsented(), a.IsAuthenticated())))
}

func TestResolveSharedFetchSurvivesCanceledCaller(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	decider := flagship.DeciderFunc(func(ctx context.Context, req flagship.DecisionRequest) (map[string]flagship.Flag, error) {
		calls.Add(1)
		select {
		case <-release:
			return staticFlags(map[string]any{"fs_enable_discount": true})(req)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	client, err := flagship.Start(context.Background(), "env", "key", &flagship.Config{Decider: decider, Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close(context.Background()) })

	base := client.NewVisitor(flagship.VisitorOptions{ID: "base-visitor"})
	r := NewResolver(base, nil)
	ec := of.FlattenedContext{of.TargetingKey: "same"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()

	type result struct {
		value  any
		detail of.ProviderResolutionDetail
	}
	first := make(chan result, 1)
	second := make(chan result, 1)

	go func() {
		value, detail := r.Resolve(firstCtx, "fs_enable_discount", false, ec)
		first <- result{value, detail}
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	go func() {
		value, detail := r.Resolve(context.Background(), "fs_enable_discount", false, ec)
		second <- result{value, detail}
	}()
	time.Sleep(50 * time.Millisecond)
	cancelFirst()

	res := <-first
	assert.Equal(t, false, res.value)
	assert.Equal(t, of.GeneralCode, res.detail.ResolutionDetail().ErrorCode)
	assert.Equal(t, context.Canceled.Error(), res.detail.ResolutionDetail().ErrorMessage)

	close(release)
	res = <-second
	assert.Equal(t, true, res.value)
	assert.NoError(t, res.detail.Error())
	assert.Equal(t, "same", res.detail.Variant)
	assert.Equal(t, int32(1), calls.Load(), "the second caller joins the running fetch")
}

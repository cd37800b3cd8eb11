package abtasty

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	of "github.com/open-feature/go-sdk/openfeature"
	"golang.org/x/sync/singleflight"

	"github.com/flagship-io/abtasty-openfeature-provider-go/flagship"
)

// Resolver answers flag evaluations against visitor sessions.
//
// A session is the visitor a targeting key evaluates as. Sessions derive
// from the base visitor created at Init and are immutable: a change of
// context produces a new session, which is fetched before its flags are
// read. Calls for different targeting keys never share mutable state.
type Resolver struct {
	logger  *slog.Logger
	metrics *providerMetrics

	mu          sync.Mutex
	base        *flagship.Visitor
	sessions    map[string]*flagship.Visitor
	maxSessions int

	fetchGroup singleflight.Group
	fetches    atomic.Int64
}

// NewResolver creates a Resolver whose sessions derive from visitor.
// If logger is nil, slog.Default() is used.
func NewResolver(visitor *flagship.Visitor, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		logger:      logger,
		base:        visitor,
		sessions:    make(map[string]*flagship.Visitor),
		maxSessions: defaultMaxSessions,
	}
}

// Resolve evaluates flagKey for the visitor described by ec.
//
// It never panics and never returns an error: on failure the default value is
// returned together with a GENERAL resolution error. On success the variant
// is the id of the visitor the flag was read from.
//
// A logger attached to ctx with ContextWithLogger receives the flag engine's
// log output for any fetch this call starts. A call that joins a fetch already
// in flight for the same visitor state does not get that output.
func (r *Resolver) Resolve(ctx context.Context, flagKey string, defaultValue any, ec of.FlattenedContext) (value any, detail of.ProviderResolutionDetail) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("flag resolution panicked, returning default",
				"flag", flagKey,
				"panic", rec)
			value, detail = defaultValue, resolutionDetailGeneralError(panicMessage(rec))
		}
	}()

	session, err := r.session(ctx, ec)
	if err != nil {
		r.logger.Debug("flag resolution failed, returning default",
			"flag", flagKey,
			"error", err)
		return defaultValue, resolutionDetailGeneralError(errorMessage(err))
	}

	flag := session.Flag(flagKey)
	value = flag.Value(defaultValue)
	r.logger.Debug("flag resolved",
		"flag", flagKey,
		"visitor_id", session.ID(),
		"exists", flag.Exists(),
		"value", describe(value))
	return value, resolutionDetailSuccess(session.ID(), flag)
}

// session returns the fetched session ec evaluates as.
//
// The derived session is stored before it is fetched, so a failed fetch still
// moves the targeting key to its new state and the next call retries.
func (r *Resolver) session(ctx context.Context, ec of.FlattenedContext) (*flagship.Visitor, error) {
	targetingKey, _ := ec[of.TargetingKey].(string)
	attrs := toPrimitiveContext(ec)

	r.mu.Lock()
	id := targetingKey
	if id == "" {
		id = r.base.ID()
	}
	current, ok := r.sessions[id]
	if !ok {
		current = r.base.WithID(id)
	}

	next := current
	if len(attrs) > 0 {
		next = next.WithContext(attrs)
	}
	known := VisitorInfo{HasConsented: next.HasConsented(), IsAuthenticated: next.IsAuthenticated()}
	if info, found := visitorInfoFrom(ec, known); found {
		next = next.WithInfo(info.HasConsented, info.IsAuthenticated)
	}
	if !ok || next != current {
		r.storeLocked(id, next)
	}
	r.mu.Unlock()

	if next.FetchStatus().Status == flagship.FetchStatusFetched {
		return next, nil
	}

	fetched, err := r.fetch(ctx, next)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cur, ok := r.sessions[id]; ok && sameState(cur, fetched) {
		r.sessions[id] = fetched
	}
	r.mu.Unlock()
	return fetched, nil
}

// storeLocked saves a session, evicting an arbitrary one when full.
// r.mu must be held.
func (r *Resolver) storeLocked(id string, v *flagship.Visitor) {
	if _, exists := r.sessions[id]; !exists && len(r.sessions) >= r.maxSessions {
		for evict := range r.sessions {
			delete(r.sessions, evict)
			break
		}
	}
	r.sessions[id] = v
	r.metrics.setSessions(len(r.sessions))
}

// fetch fetches v. Concurrent fetches of the same visitor state share one
// request, which runs detached from the caller that started it so that a
// canceled caller does not fail the others; the engine timeout bounds it.
// Each caller still stops waiting when its own ctx is done. A panic in the
// flag engine is returned as an error.
func (r *Resolver) fetch(ctx context.Context, v *flagship.Visitor) (*flagship.Visitor, error) {
	var lm flagship.LogManager
	if logger, ok := LoggerFromContext(ctx); ok {
		lm = NewAdapterLogger(logger)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fetchCtx := context.WithoutCancel(ctx)

	ch := r.fetchGroup.DoChan(fetchKey(v), func() (out any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				out, err = nil, &recoveredPanic{value: rec}
			}
		}()

		start := time.Now()
		fetched, err := v.Fetch(fetchCtx, lm)
		r.fetches.Add(1)
		r.metrics.observeFetch(time.Since(start).Seconds(), err)
		if err != nil {
			return nil, err
		}
		return fetched, nil
	})

	select {
	case <-ctx.Done():
		r.logger.Debug("stopped waiting for visitor fetch", "visitor_id", v.ID(), "error", ctx.Err())
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			r.logger.Warn("visitor fetch failed", "visitor_id", v.ID(), "error", res.Err)
			return nil, res.Err
		}
		if res.Shared {
			r.logger.Debug("visitor fetch shared with a concurrent call", "visitor_id", v.ID())
		}
		return res.Val.(*flagship.Visitor), nil
	}
}

// replaceBase swaps the base visitor and drops every session, so that the
// next evaluation of each targeting key fetches again.
func (r *Resolver) replaceBase(v *flagship.Visitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = v
	clear(r.sessions)
	r.metrics.setSessions(0)
}

// Base returns the visitor sessions derive from.
func (r *Resolver) Base() *flagship.Visitor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.base
}

// Session returns the session held for visitorID, if any.
func (r *Resolver) Session(visitorID string) (*flagship.Visitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.sessions[visitorID]
	return v, ok
}

// Sessions returns the number of sessions held.
func (r *Resolver) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Fetches returns the number of remote fetches performed.
func (r *Resolver) Fetches() int64 {
	return r.fetches.Load()
}

// sameState reports whether two sessions describe the same visitor state.
func sameState(a, b *flagship.Visitor) bool {
	return a.ID() == b.ID() &&
		a.HasConsented() == b.HasConsented() &&
		a.IsAuthenticated() == b.IsAuthenticated() &&
		flagship.EqualContext(a.Context(), b.Context())
}

// fetchKey fingerprints the state a fetch depends on.
func fetchKey(v *flagship.Visitor) string {
	h := xxhash.New()
	ctx := v.Context()
	for _, k := range slices.Sorted(maps.Keys(ctx)) {
		_, _ = fmt.Fprintf(h, "%s=%T:%v;", k, ctx[k], ctx[k])
	}
	_, _ = fmt.Fprintf(h, "consent=%t;auth=%t", v.HasConsented(), v.IsAuthenticated())
	return fmt.Sprintf("%s/%016x", v.ID(), h.Sum64())
}

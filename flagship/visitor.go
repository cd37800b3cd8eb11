package flagship

import (
	"context"
	"fmt"
	"maps"
	"reflect"

	"github.com/google/uuid"
)

// FetchStatus tells whether a visitor's flags reflect its current state.
type FetchStatus string

const (
	FetchStatusFetched       FetchStatus = "FETCHED"
	FetchStatusFetching      FetchStatus = "FETCHING"
	FetchStatusFetchRequired FetchStatus = "FETCH_REQUIRED"
	FetchStatusPanic         FetchStatus = "PANIC"
)

// FetchReason explains the last FetchStatus transition.
type FetchReason string

const (
	FetchReasonNone             FetchReason = "NONE"
	FetchReasonVisitorCreated   FetchReason = "VISITOR_CREATED"
	FetchReasonVisitorIDChanged FetchReason = "VISITOR_ID_CHANGED"
	FetchReasonUpdateContext    FetchReason = "UPDATE_CONTEXT"
	FetchReasonAuthenticate     FetchReason = "AUTHENTICATE"
	FetchReasonUnauthenticate   FetchReason = "UNAUTHENTICATE"
	FetchReasonConsentChanged   FetchReason = "CONSENT_CHANGED"
	FetchReasonFetchError       FetchReason = "FLAGS_FETCHING_ERROR"
)

// FetchFlagsStatus is a FetchStatus together with its reason.
type FetchFlagsStatus struct {
	Status FetchStatus
	Reason FetchReason
}

// VisitorOptions configures Client.NewVisitor.
type VisitorOptions struct {
	// ID identifies the visitor. A random UUID is used when empty.
	ID string

	// Context holds targeting attributes. Non-primitive values are dropped.
	Context map[string]any

	HasConsented    bool
	IsAuthenticated bool

	// OnFetchFlagsStatusChanged is called whenever this visitor, or a visitor
	// derived from it, changes fetch status.
	OnFetchFlagsStatusChanged func(visitorID string, status FetchFlagsStatus)
}

// Visitor is one evaluation subject. Visitors are immutable: every method
// that changes state returns a new Visitor.
type Visitor struct {
	client          *Client
	id              string
	context         map[string]any
	hasConsented    bool
	isAuthenticated bool
	flags           map[string]Flag
	status          FetchFlagsStatus
	onStatusChanged func(string, FetchFlagsStatus)
}

func newVisitor(c *Client, opts VisitorOptions) *Visitor {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	v := &Visitor{
		client:          c,
		id:              id,
		context:         map[string]any{},
		hasConsented:    opts.HasConsented,
		isAuthenticated: opts.IsAuthenticated,
		flags:           map[string]Flag{},
		onStatusChanged: opts.OnFetchFlagsStatusChanged,
	}
	v.context = v.sanitize(opts.Context, v.context)
	v.setStatus(FetchStatusFetchRequired, FetchReasonVisitorCreated)
	return v
}

// ID returns the visitor identifier.
func (v *Visitor) ID() string { return v.id }

// Context returns a copy of the visitor context.
func (v *Visitor) Context() map[string]any { return maps.Clone(v.context) }

// HasConsented reports the visitor's tracking consent.
func (v *Visitor) HasConsented() bool { return v.hasConsented }

// IsAuthenticated reports whether the visitor is authenticated.
func (v *Visitor) IsAuthenticated() bool { return v.isAuthenticated }

// FetchStatus returns the visitor's fetch status.
func (v *Visitor) FetchStatus() FetchFlagsStatus { return v.status }

// Flags returns a copy of the flags from the last fetch.
func (v *Visitor) Flags() map[string]Flag { return maps.Clone(v.flags) }

// Flag returns the flag named key. The flag does not exist when it was not
// part of the last fetch.
func (v *Visitor) Flag(key string) Flag {
	if f, ok := v.flags[key]; ok {
		return f
	}
	return Flag{key: key}
}

// WithID returns a visitor evaluated on behalf of id. The new visitor keeps
// the context but drops fetched flags. WithID returns v itself when id is
// empty or unchanged.
func (v *Visitor) WithID(id string) *Visitor {
	if id == "" || id == v.id {
		return v
	}
	out := v.clone()
	out.id = id
	out.flags = map[string]Flag{}
	out.setStatus(FetchStatusFetchRequired, FetchReasonVisitorIDChanged)
	return out
}

// WithContext returns a visitor whose context is v's context merged with
// attrs. When the merged context equals the current one by value, v itself
// is returned and no fetch becomes required.
func (v *Visitor) WithContext(attrs map[string]any) *Visitor {
	merged := v.sanitize(attrs, maps.Clone(v.context))
	if EqualContext(merged, v.context) {
		return v
	}
	out := v.clone()
	out.context = merged
	out.setStatus(FetchStatusFetchRequired, FetchReasonUpdateContext)
	return out
}

// WithInfo returns a visitor with the given consent and authentication
// flags, or v itself when both are unchanged.
func (v *Visitor) WithInfo(hasConsented, isAuthenticated bool) *Visitor {
	if hasConsented == v.hasConsented && isAuthenticated == v.isAuthenticated {
		return v
	}
	out := v.clone()
	out.hasConsented = hasConsented
	out.isAuthenticated = isAuthenticated

	reason := FetchReasonConsentChanged
	if isAuthenticated != v.isAuthenticated {
		reason = FetchReasonUnauthenticate
		if isAuthenticated {
			reason = FetchReasonAuthenticate
		}
	}
	out.setStatus(FetchStatusFetchRequired, reason)
	return out
}

// Fetch requests fresh flags and returns the fetched visitor. On failure v is
// left untouched and the decision backend's error is returned as is. lm
// receives messages about this fetch in place of the client's LogManager;
// pass nil to use the client's.
func (v *Visitor) Fetch(ctx context.Context, lm LogManager) (*Visitor, error) {
	if v.client == nil {
		return nil, ErrNoDecider
	}
	log := v.client.logManager(lm)

	v.notify(FetchFlagsStatus{Status: FetchStatusFetching, Reason: v.status.Reason})
	log.Debug(fmt.Sprintf("fetching flags for visitor %s", v.id), tagFetch)

	flags, err := v.client.decide(ctx, DecisionRequest{
		VisitorID:       v.id,
		Context:         maps.Clone(v.context),
		HasConsented:    v.hasConsented,
		IsAuthenticated: v.isAuthenticated,
		Log:             log,
	})
	if err != nil {
		log.Error(fmt.Sprintf("fetching flags for visitor %s failed: %v", v.id, err), tagFetch)
		v.notify(FetchFlagsStatus{Status: FetchStatusFetchRequired, Reason: FetchReasonFetchError})
		return nil, err
	}

	out := v.clone()
	out.flags = flags
	if out.flags == nil {
		out.flags = map[string]Flag{}
	}
	out.setStatus(FetchStatusFetched, FetchReasonNone)
	log.Debug(fmt.Sprintf("fetched %d flags for visitor %s", len(out.flags), v.id), tagFetch)
	return out, nil
}

func (v *Visitor) clone() *Visitor {
	out := *v
	out.context = maps.Clone(v.context)
	return &out
}

func (v *Visitor) setStatus(status FetchStatus, reason FetchReason) {
	v.status = FetchFlagsStatus{Status: status, Reason: reason}
	v.notify(v.status)
}

func (v *Visitor) notify(status FetchFlagsStatus) {
	if v.onStatusChanged != nil {
		v.onStatusChanged(v.id, status)
	}
}

// sanitize copies the primitive entries of attrs into dst and logs dropped keys.
func (v *Visitor) sanitize(attrs, dst map[string]any) map[string]any {
	for k, val := range attrs {
		if !IsPrimitive(val) {
			if v.client != nil {
				v.client.logf(LogLevelWarning, tagContext, "context key %q dropped: value of type %T is not a primitive", k, val)
			}
			continue
		}
		dst[k] = val
	}
	return dst
}

// EqualContext compares two visitor contexts by value. Values of different
// kinds are never equal, and NaN is not equal to itself.
func EqualContext(a, b map[string]any) bool {
	return maps.EqualFunc(a, b, func(x, y any) bool {
		return reflect.DeepEqual(x, y)
	})
}

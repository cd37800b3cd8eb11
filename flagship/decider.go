package flagship

import "context"

// DecisionRequest describes the visitor a decision is requested for.
type DecisionRequest struct {
	EnvID           string
	VisitorID       string
	Context         map[string]any
	HasConsented    bool
	IsAuthenticated bool

	// Log receives messages about this request. Never nil when called by a Client.
	Log LogManager
}

// Decider resolves the flags of a visitor. Implementations must be safe for
// concurrent use.
type Decider interface {
	Decide(ctx context.Context, req DecisionRequest) (map[string]Flag, error)
}

// Refresher is implemented by deciders holding state that can be reloaded.
// The client calls Refresh on every Config.PollingInterval tick.
type Refresher interface {
	Refresh(ctx context.Context) (changed bool, err error)
}

// DeciderFunc adapts a function to the Decider interface.
type DeciderFunc func(ctx context.Context, req DecisionRequest) (map[string]Flag, error)

// Decide calls f(ctx, req).
func (f DeciderFunc) Decide(ctx context.Context, req DecisionRequest) (map[string]Flag, error) {
	return f(ctx, req)
}

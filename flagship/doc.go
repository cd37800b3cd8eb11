// Package flagship is a small client for the AB Tasty Flagship decision engine.
//
// It covers the surface the OpenFeature provider needs: starting a client,
// creating visitors, updating their context, fetching flags and reading flag
// values. Two transports are available, selected by Config.DecisionMode:
//
//   - DecisionModeAPI calls the remote Decision API for every fetch.
//   - DecisionModeLocal evaluates flags from a YAML or JSON file, which makes
//     it suitable for development, tests and CI.
//
// # Visitors
//
// A Visitor is an immutable value. WithID, WithContext, WithInfo and Fetch all
// return a new Visitor and leave the receiver untouched, so a Visitor can be
// shared between goroutines without locking:
//
//	client, err := flagship.Start(ctx, envID, apiKey, flagship.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	v := client.NewVisitor(flagship.VisitorOptions{ID: "visitor-1", HasConsented: true})
//	v, err = v.WithContext(map[string]any{"plan": "pro"}).Fetch(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	enabled := v.Flag("new_checkout").Value(false).(bool)
package flagship

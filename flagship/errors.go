package flagship

import (
	"errors"
	"fmt"
)

var (
	// ErrClientClosed is returned by fetches issued after Client.Close.
	ErrClientClosed = errors.New("flagship: client is closed")

	// ErrNotStarted is returned by fetches issued on a client that failed to start.
	ErrNotStarted = errors.New("flagship: client is not initialized")

	// ErrNoDecider is returned when a visitor is not bound to a started client.
	ErrNoDecider = errors.New("flagship: visitor has no decision backend")
)

// APIError is returned when the Decision API answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("flagship: decision API error (status %d): %s", e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if retried.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

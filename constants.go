package abtasty

import "time"

const (
	// Timeouts

	// defaultInitTimeout bounds Init when the caller supplies no context.
	// It covers client start plus the first fetch with retries.
	defaultInitTimeout = 15 * time.Second

	// defaultShutdownTimeout bounds Shutdown when the caller supplies no context.
	defaultShutdownTimeout = 30 * time.Second

	// Event Handling

	// eventChannelBuffer is the buffer size for the provider's event channel.
	// Overflow events are dropped (logged as warnings).
	eventChannelBuffer = 128

	// Monitoring

	// defaultMonitoringInterval is the default interval between re-fetches of
	// the base visitor used to detect flag changes.
	defaultMonitoringInterval = 30 * time.Second

	// minMonitoringInterval is the minimum allowed monitoring interval.
	minMonitoringInterval = 5 * time.Second

	// Sessions

	// defaultMaxSessions bounds the number of per-visitor sessions kept by a
	// Resolver. When full, an arbitrary session is evicted.
	defaultMaxSessions = 10_000

	// Atomic States

	// shutdownStateActive indicates the provider has been shut down (atomic flag = 1).
	shutdownStateActive = 1

	// shutdownStateInactive indicates the provider is active (atomic flag = 0).
	shutdownStateInactive = 0

	// OpenFeature Context Keys

	// VisitorInfoKey is the evaluation context attribute holding consent and
	// authentication flags. See VisitorInfo.
	VisitorInfoKey = "fsVisitorInfo"

	// Resolution

	// unexpectedErrorMessage replaces failures that carry no usable message.
	unexpectedErrorMessage = "An unexpected error occurred."

	providerName = "ABTasty"
)

package resilience

import (
	"context"
	"time"
)

// TimeoutConfig defines timeout values for the application's timeout hierarchy
//
// Timeout Hierarchy (from outermost to innermost):
//
//	HTTP Handler (60s)
//	  ↓
//	Service Layer (50s)
//	  ↓
//	Provider Call incl. retries (30s)
//	  ↓
//	Single Provider Attempt (10s)
//
// Each layer completes before its parent times out, so a slow payment
// provider surfaces as a classified network_timeout rather than a cascade
// of parent-context cancellations. The saga itself has no separate
// top-level timeout beyond the sum of its steps.
type TimeoutConfig struct {
	HTTPHandler time.Duration // Overall request timeout (default: 60s)
	CronJob     time.Duration // Sweep / retry batch execution timeout (default: 5 minutes)

	Service time.Duration // Service operation timeout (default: 50s)

	ProviderCall  time.Duration // Full provider call including retries (default: 30s)
	SingleAttempt time.Duration // Individual provider attempt (default: 10s)
}

// DefaultTimeoutConfig returns production timeout values
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:   60 * time.Second,
		CronJob:       5 * time.Minute,
		Service:       50 * time.Second,
		ProviderCall:  30 * time.Second,
		SingleAttempt: 10 * time.Second,
	}
}

// TestTimeoutConfig returns shorter timeouts for testing
func TestTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		HTTPHandler:   5 * time.Second,
		CronJob:       30 * time.Second,
		Service:       4 * time.Second,
		ProviderCall:  2 * time.Second,
		SingleAttempt: 1 * time.Second,
	}
}

// HandlerContext creates a context with timeout for HTTP handlers
func (tc *TimeoutConfig) HandlerContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.HTTPHandler)
}

// CronContext creates a context with timeout for cron batch operations
func (tc *TimeoutConfig) CronContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.CronJob)
}

// ServiceContext creates a context with timeout for service layer operations
func (tc *TimeoutConfig) ServiceContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.Service)
}

// ProviderCallContext creates a context for a provider call including retries
func (tc *TimeoutConfig) ProviderCallContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.ProviderCall)
}

// AttemptContext creates a context for a single provider attempt
func (tc *TimeoutConfig) AttemptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, tc.SingleAttempt)
}

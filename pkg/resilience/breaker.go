package resilience

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker
type CircuitState int

const (
	// StateClosed - calls pass through normally
	StateClosed CircuitState = iota
	// StateOpen - calls fail immediately without reaching the provider
	StateOpen
	// StateHalfOpen - a single probe call is allowed through to test recovery
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call without
// attempting it. Upstream callers use it to apply a fast fallback instead of
// waiting for a timeout.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig configures breaker behavior.
type CircuitBreakerConfig struct {
	// MaxFailures is the consecutive-failure threshold that opens the circuit.
	MaxFailures uint32
	// FailureWindow bounds how long a failure run may span and still count
	// as consecutive. A failure outside the window starts a new run.
	FailureWindow time.Duration
	// CoolDown is how long the circuit stays open before allowing a
	// half-open probe.
	CoolDown time.Duration
	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns the documented production defaults:
// open after 5 consecutive failures within 2 minutes, probe after 60 seconds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:   5,
		FailureWindow: 2 * time.Minute,
		CoolDown:      60 * time.Second,
	}
}

// CircuitBreakerCounts is an introspection snapshot.
type CircuitBreakerCounts struct {
	State               CircuitState
	ConsecutiveFailures uint32
	OpenedAt            time.Time
}

// CircuitBreaker fails fast after repeated provider failures. It holds the
// only process-wide mutable breaker state; construct one per provider at
// startup and inject it, never reach for a package-level instance.
type CircuitBreaker struct {
	mu     sync.Mutex
	config CircuitBreakerConfig
	now    func() time.Time

	state          CircuitState
	failures       uint32
	windowStart    time.Time
	openedAt       time.Time
	probeInFlight  bool
}

// NewCircuitBreaker creates a breaker in the closed state.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 1
	}
	if config.CoolDown <= 0 {
		config.CoolDown = 60 * time.Second
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		config: config,
		now:    now,
		state:  StateClosed,
	}
}

// Execute runs fn if the breaker allows it. When open it returns
// ErrCircuitOpen immediately; fn is never invoked.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}

	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.now().Sub(cb.openedAt) >= cb.config.CoolDown {
			cb.state = StateHalfOpen
			cb.probeInFlight = true
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		if cb.probeInFlight {
			return ErrCircuitOpen
		}
		cb.probeInFlight = true
		return nil

	default:
		return ErrCircuitOpen
	}
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()

	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
		if err != nil {
			// Probe failed: reopen and restart the cool-down timer.
			cb.state = StateOpen
			cb.openedAt = now
			cb.failures = 0
			return
		}
		cb.state = StateClosed
		cb.failures = 0
		return
	}

	if err == nil {
		cb.failures = 0
		return
	}

	// A failure outside the window starts a new run rather than extending
	// a stale one.
	if cb.failures == 0 || now.Sub(cb.windowStart) > cb.config.FailureWindow {
		cb.failures = 1
		cb.windowStart = now
	} else {
		cb.failures++
	}

	if cb.failures >= cb.config.MaxFailures {
		cb.state = StateOpen
		cb.openedAt = now
	}
}

// ForceClose resets the breaker to closed regardless of its current state.
// Operator override for manual intervention.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns an introspection snapshot for the stats endpoint.
func (cb *CircuitBreaker) Counts() CircuitBreakerCounts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerCounts{
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		OpenedAt:            cb.openedAt,
	}
}

package llm

import (
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the current state of the circuit breaker.
type CircuitState int

const (
	// CircuitClosed means calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the provider has failed repeatedly and calls are refused.
	CircuitOpen
	// CircuitHalfOpen means a limited number of probe calls are testing recovery.
	CircuitHalfOpen
)

// String returns a human-readable string for the circuit state.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds configuration for the circuit breaker.
type CircuitBreakerConfig struct {
	// Name identifies the provider in errors and state-change callbacks.
	Name string
	// Threshold is the number of consecutive failures before the circuit trips.
	Threshold int
	// ResetAfter is how long the circuit stays open before probing.
	ResetAfter time.Duration
	// HalfOpenProbes is how many concurrent probe calls are allowed while half-open.
	HalfOpenProbes int
	// OnStateChange, if set, is called after every transition (outside the lock).
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns defaults for a generation provider.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:           name,
		Threshold:      5,
		ResetAfter:     30 * time.Second,
		HalfOpenProbes: 1,
	}
}

// CircuitBreaker stops calling a provider that is failing at the transport
// level. Malformed output does not count as a failure; the provider answered.
type CircuitBreaker struct {
	mu               sync.Mutex
	cfg              CircuitBreakerConfig
	consecutiveFails int
	lastFailure      time.Time
	state            CircuitState
	probesInFlight   int
	now              func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold < 1 {
		cfg.Threshold = 5
	}
	if cfg.HalfOpenProbes < 1 {
		cfg.HalfOpenProbes = 1
	}
	return &CircuitBreaker{cfg: cfg, state: CircuitClosed, now: time.Now}
}

// Allow returns nil if a call may proceed, or a non-retryable *Error with
// type ErrorTypeCircuit when the circuit is open.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	from := cb.state
	var err error

	switch cb.state {
	case CircuitClosed:
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) > cb.cfg.ResetAfter {
			cb.state = CircuitHalfOpen
			cb.probesInFlight = 1
		} else {
			err = NewError(ErrorTypeCircuit,
				fmt.Sprintf("circuit breaker open for %s (failed %d times, last failure %v ago)",
					cb.cfg.Name, cb.consecutiveFails, cb.now().Sub(cb.lastFailure).Round(time.Second)),
				false, nil)
		}
	case CircuitHalfOpen:
		if cb.probesInFlight < cb.cfg.HalfOpenProbes {
			cb.probesInFlight++
		} else {
			err = NewError(ErrorTypeCircuit,
				fmt.Sprintf("circuit breaker half-open for %s: waiting for probe", cb.cfg.Name), false, nil)
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

// RecordSuccess resets the failure count and closes the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	from := cb.state
	cb.consecutiveFails = 0
	cb.probesInFlight = 0
	cb.state = CircuitClosed
	cb.mu.Unlock()

	cb.notify(from, CircuitClosed)
}

// RecordFailure increments the failure count and trips the circuit if the
// threshold is reached. A failed probe reopens the circuit immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.consecutiveFails++
	cb.lastFailure = cb.now()

	switch {
	case cb.state == CircuitHalfOpen:
		cb.state = CircuitOpen
		cb.probesInFlight = 0
	case cb.consecutiveFails >= cb.cfg.Threshold:
		cb.state = CircuitOpen
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFails
}

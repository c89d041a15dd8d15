package ops

import (
	"sync"
	"time"

	"guestgate/pkg/clock"
)

// CircuitBreaker prevents thundering herd on audit store outages.
// When the store is unhealthy, the circuit opens and events are dropped
// without attempting persistence.
type CircuitBreaker struct {
	mu  sync.RWMutex
	clk clock.Clock

	threshold int           // failures to trigger open
	cooldown  time.Duration // how long to stay open

	failures  int       // consecutive failures
	openUntil time.Time // when to transition from open to half-open
	isOpen    bool
}

// NewCircuitBreaker creates a circuit breaker.
// threshold: number of consecutive failures to open the circuit
// cooldown: how long to stay open before trying again
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &CircuitBreaker{
		clk:       clock.System(),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// WithClock swaps the time source; tests drive cooldown expiry manually.
func (cb *CircuitBreaker) WithClock(clk clock.Clock) *CircuitBreaker {
	cb.clk = clk
	return cb
}

// Allow returns true if the circuit is closed (healthy) or half-open (testing).
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	if !cb.isOpen {
		cb.mu.RUnlock()
		return true
	}

	// Check if cooldown expired
	expired := cb.clk.Now().After(cb.openUntil)
	cb.mu.RUnlock()

	if !expired {
		return false
	}

	// Transition to half-open - allow one request through
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Double-check after acquiring write lock
	if cb.isOpen && cb.clk.Now().After(cb.openUntil) {
		cb.isOpen = false
		cb.failures = 0
	}
	return !cb.isOpen
}

// RecordSuccess records a successful operation, closing the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.isOpen = false
}

// RecordFailure records a failed operation, potentially opening the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.failures >= cb.threshold {
		cb.isOpen = true
		cb.openUntil = cb.clk.Now().Add(cb.cooldown)
	}
}

// IsOpen returns true if the circuit is currently open.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.isOpen
}

// Reset manually closes the circuit.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.isOpen = false
}

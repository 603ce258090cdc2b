package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of the circuit breaker
type State int

const (
	// StateClosed allows requests to pass through
	StateClosed State = iota
	// StateOpen rejects all requests without touching the upstream
	StateOpen
	// StateHalfOpen allows a single probe request to test recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
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

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// OpenCooldown is how long the breaker stays open before probing
	OpenCooldown time.Duration
	// OnStateChange is called when the state changes
	OnStateChange func(from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenCooldown:     5 * time.Minute,
	}
}

// Breaker is a per-service failure-counting state machine.
//
// A single mutex guards every transition so that concurrent requests
// for the same service observe linearizable state: two racing failures
// cannot both perform the closed-to-open transition, and only one
// request becomes the half-open probe.
type Breaker struct {
	config Config

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// Stats is a point-in-time view of breaker state
type Stats struct {
	State               State
	ConsecutiveFailures int
	OpenedAt            time.Time
}

// New creates a new circuit breaker
func New(config Config) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.OpenCooldown <= 0 {
		config.OpenCooldown = 5 * time.Minute
	}

	return &Breaker{
		config: config,
		state:  StateClosed,
	}
}

// Allow decides whether a request may be forwarded. When the cooldown
// of an open breaker has elapsed, the calling request becomes the
// single half-open probe; concurrent requests arriving during the
// probe window are rejected without being counted as failures.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(b.openedAt) < b.config.OpenCooldown {
			return false
		}
		b.changeState(StateHalfOpen)
		b.probeInFlight = true
		return true

	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true

	default:
		return false
	}
}

// Success records a successful forwarded request. One success while
// closed fully heals the failure counter; a successful probe closes
// the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0

	case StateHalfOpen:
		b.probeInFlight = false
		b.consecutiveFailures = 0
		b.changeState(StateClosed)
	}
	// A late success while open is from a request forwarded before the
	// breaker tripped; the cooldown still applies.
}

// Failure records a failed forwarded request
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.config.FailureThreshold {
			b.openedAt = time.Now()
			b.changeState(StateOpen)
		}

	case StateHalfOpen:
		// Probe failed: back to open with a fresh cooldown window.
		b.probeInFlight = false
		b.openedAt = time.Now()
		b.changeState(StateOpen)
	}
}

// Release abandons an admitted request that produced no observable
// outcome, such as a client disconnect that cancelled the upstream
// call. Releasing the half-open probe frees the slot so the next
// request becomes the probe instead; without this the breaker would
// wait forever for a report that is never coming.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.probeInFlight = false
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns current statistics
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:               b.state,
		ConsecutiveFailures: b.consecutiveFailures,
		OpenedAt:            b.openedAt,
	}
}

// RemainingCooldown returns how long until an open breaker will admit
// its half-open probe, or zero when the breaker is not open.
func (b *Breaker) RemainingCooldown() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	remaining := b.config.OpenCooldown - time.Since(b.openedAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// changeState must be called with the mutex held
func (b *Breaker) changeState(newState State) {
	if b.state == newState {
		return
	}

	from := b.state
	b.state = newState

	if b.config.OnStateChange != nil {
		// Call in goroutine to avoid blocking request handling
		go b.config.OnStateChange(from, newState)
	}
}

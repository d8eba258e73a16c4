package trackerr

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	// BreakerClosed allows all operations.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects operations until the timeout elapses.
	BreakerOpen
	// BreakerHalfOpen allows a probe operation; success closes the
	// circuit, failure reopens it.
	BreakerHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	// FailureThreshold is the number of failures within WindowDuration
	// that trips the circuit.
	FailureThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// WindowDuration bounds the failure-counting window.
	WindowDuration time.Duration
}

// DefaultBreakerConfig returns the default breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		WindowDuration:   time.Minute,
	}
}

// CircuitBreaker suppresses retry cascades against a failing dependency.
// Transitions Closed -> Open on threshold, Open -> HalfOpen after the
// timeout, HalfOpen -> Closed on success or -> Open on failure.
// Safe for concurrent use; the zero value is not usable.
type CircuitBreaker struct {
	mu sync.Mutex

	config      BreakerConfig
	state       BreakerState
	failures    int
	windowStart time.Time
	openedAt    time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	return NewCircuitBreakerAt(config, time.Now)
}

// NewCircuitBreakerAt creates a breaker with an injected clock.
func NewCircuitBreakerAt(config BreakerConfig, now func() time.Time) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		state:  BreakerClosed,
		now:    now,
	}
}

// Allow reports whether an operation may proceed. An open circuit past
// its timeout transitions to half-open and allows one probe.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.config.Timeout {
			b.state = BreakerHalfOpen
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess resets failure pressure. In half-open state it closes
// the circuit.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = BreakerClosed
}

// RecordFailure counts a failure within the window. At the threshold
// the circuit opens; a half-open probe failure reopens immediately.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.openedAt = now
		return
	}

	if b.windowStart.IsZero() || now.Sub(b.windowStart) > b.config.WindowDuration {
		b.windowStart = now
		b.failures = 0
	}

	b.failures++
	if b.failures >= b.config.FailureThreshold {
		b.state = BreakerOpen
		b.openedAt = now
	}
}

// State returns the current state without side effects.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed and clears failure pressure.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = BreakerClosed
	b.failures = 0
	b.windowStart = time.Time{}
}

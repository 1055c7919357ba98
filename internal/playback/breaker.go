package playback

import (
	"sync"
	"time"

	"github.com/stwalsh4118/couchcast/internal/metrics"
)

// breakerState represents the state of the start breaker
type breakerState int

const (
	// breakerClosed allows starts
	breakerClosed breakerState = iota
	// breakerOpen blocks starts until the reset timeout elapses
	breakerOpen
	// breakerHalfOpen allows one probing start
	breakerHalfOpen
)

// String returns the string representation of the breaker state
func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// startBreaker stops the orchestrator from hammering an engine that refuses to start
type startBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	mu              sync.Mutex
	state           breakerState
	failures        int
	lastFailureTime time.Time
}

func newStartBreaker(failureThreshold int, resetTimeout time.Duration) *startBreaker {
	if failureThreshold < 1 {
		failureThreshold = 1
	}
	b := &startBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		state:            breakerClosed,
	}
	metrics.SetCircuitBreakerState("engine", b.state.String())
	return b
}

// allow reports whether a start may be attempted, moving open to half-open once the timeout elapses
func (b *startBreaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerOpen && b.now().Sub(b.lastFailureTime) >= b.resetTimeout {
		b.setState(breakerHalfOpen)
	}
	return b.state != breakerOpen
}

// success closes the breaker
func (b *startBreaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != breakerClosed {
		b.setState(breakerClosed)
	}
}

// failure counts a failed start and opens the breaker at the threshold.
// A failure while half-open reopens immediately.
func (b *startBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailureTime = b.now()
	if b.state == breakerHalfOpen || b.failures >= b.failureThreshold {
		b.setState(breakerOpen)
	}
}

func (b *startBreaker) current() breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// setState must be called with mu held
func (b *startBreaker) setState(s breakerState) {
	b.state = s
	metrics.SetCircuitBreakerState("engine", s.String())
}

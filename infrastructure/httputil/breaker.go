package httputil

import (
	"sync"
	"time"

	"github.com/openretail/pos-service-layer/infrastructure/apperr"
)

// breaker states
const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreaker guards calls to a downstream dependency. It opens after a
// number of consecutive failures and half-opens after a cooldown, letting a
// single probe through.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            int
	failures         int
	failureThreshold int
	openInterval     time.Duration
	openedAt         time.Time
}

// NewCircuitBreaker creates a breaker that opens after threshold consecutive
// failures and half-opens after openInterval.
func NewCircuitBreaker(threshold int, openInterval time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if openInterval <= 0 {
		openInterval = 60 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: threshold,
		openInterval:     openInterval,
	}
}

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = apperr.Dependency(apperr.CodeDependency, "circuit breaker open", nil)

// Allow reports whether a call may proceed. In the open state it transitions
// to half-open once the cooldown has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if time.Since(b.openedAt) >= b.openInterval {
			b.state = breakerHalfOpen
			return true
		}
		return false
	case breakerHalfOpen:
		// One probe at a time; further calls wait for the probe's outcome.
		return false
	}
	return true
}

// Success records a successful call and closes the breaker.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.state = breakerClosed
}

// Failure records a failed call, opening the breaker when the consecutive
// failure threshold is reached or a half-open probe fails.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == breakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = breakerOpen
		b.openedAt = time.Now()
	}
}

// State returns a label for metrics and tests.
func (b *CircuitBreaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

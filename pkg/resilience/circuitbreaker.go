package resilience

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed allows all requests through
	StateClosed State = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows limited requests through to test recovery
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

// ErrCircuitBreakerOpen is returned when the circuit breaker is open
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// StateChangeFunc observes breaker transitions. It runs without the breaker lock held.
type StateChangeFunc func(from, to State)

// CircuitBreaker stops calling a failing dependency for a cooldown period. After maxFailures
// consecutive failures it opens; once timeout has elapsed a single probe is let through.
type CircuitBreaker struct {
	maxFailures   int
	timeout       time.Duration
	state         State
	failures      int
	lastFailTime  time.Time
	onStateChange StateChangeFunc
	mu            sync.RWMutex
}

// NewCircuitBreaker creates a closed circuit breaker. maxFailures below 1 is treated as 1.
func NewCircuitBreaker(maxFailures int, timeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &CircuitBreaker{
		maxFailures: maxFailures,
		timeout:     timeout,
		state:       StateClosed,
	}
}

// OnStateChange registers fn to be called after every transition.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Execute runs the given function if the circuit breaker allows it
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.canExecute() {
		return ErrCircuitBreakerOpen
	}

	err := fn()

	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) canExecute() bool {
	cb.mu.Lock()
	from := cb.state
	allowed := false
	switch cb.state {
	case StateClosed, StateHalfOpen:
		allowed = true
	case StateOpen:
		if time.Since(cb.lastFailTime) > cb.timeout {
			cb.state = StateHalfOpen
			allowed = true
		}
	}
	notify := cb.transition(from)
	cb.mu.Unlock()

	notify()
	return allowed
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.lastFailTime = time.Now()

	if cb.state == StateHalfOpen {
		// the probe failed
		cb.state = StateOpen
		cb.failures = 0
	} else {
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.state = StateOpen
		}
	}
	notify := cb.transition(from)
	cb.mu.Unlock()

	notify()
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateHalfOpen || cb.state == StateClosed {
		cb.state = StateClosed
		cb.failures = 0
	}
	notify := cb.transition(from)
	cb.mu.Unlock()

	notify()
}

// transition must be called with cb.mu held; the returned func must be called after unlocking.
func (cb *CircuitBreaker) transition(from State) func() {
	to := cb.state
	hook := cb.onStateChange
	if from == to || hook == nil {
		return func() {}
	}
	return func() { hook(from, to) }
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetFailures returns the current failure count
func (cb *CircuitBreaker) GetFailures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.failures = 0
	notify := cb.transition(from)
	cb.mu.Unlock()

	notify()
}

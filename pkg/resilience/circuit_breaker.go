package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen is returned when the breaker is rejecting calls.
var ErrBreakerOpen = errors.New("breaker is open")

// BreakerState represents the state of a Breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of successes needed to close from half-open.
	SuccessThreshold int
	// Cooldown is how long the breaker stays open before probing again.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns defaults suited to broker publishes, where a
// dead broker should stop costing a connection timeout per send quickly.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Cooldown:         10 * time.Second,
	}
}

// Breaker is a circuit breaker guarding a single downstream dependency.
// While open, calls fail immediately with ErrBreakerOpen instead of hitting
// the dependency.
type Breaker struct {
	name   string
	config BreakerConfig

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewBreaker creates a closed breaker named after the dependency it guards.
func NewBreaker(name string, config BreakerConfig) *Breaker {
	return &Breaker{
		name:   name,
		config: config,
		state:  BreakerClosed,
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Name returns the dependency name this breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// currentState applies the open->half-open cooldown transition. Callers hold b.mu.
func (b *Breaker) currentState() BreakerState {
	if b.state == BreakerOpen && time.Since(b.lastFailure) >= b.config.Cooldown {
		b.state = BreakerHalfOpen
		b.successes = 0
	}
	return b.state
}

// Do runs fn under breaker protection.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	if b.currentState() == BreakerOpen {
		b.mu.Unlock()
		return ErrBreakerOpen
	}
	b.mu.Unlock()

	err := fn()
	b.record(err)
	return err
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		b.successes = 0
		b.lastFailure = time.Now()
		if b.state == BreakerHalfOpen || b.failures >= b.config.FailureThreshold {
			b.state = BreakerOpen
		}
		return
	}

	switch b.currentState() {
	case BreakerClosed:
		b.failures = 0
	case BreakerHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.state = BreakerClosed
			b.failures = 0
			b.successes = 0
		}
	}
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.successes = 0
}

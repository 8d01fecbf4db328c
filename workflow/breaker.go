package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker is open and the timeout
// since the last failure has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker's gate position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreaker is a failure-counting gate around one named external
// dependency. It opens after threshold consecutive failures, half-opens
// once timeout has elapsed since the last failure, closes again on the
// next success and re-opens on the next failure. The zero thresholds
// are replaced with defaults.
type CircuitBreaker struct {
	// mu guards bookkeeping only; it is never held across the guarded
	// call itself.
	mu sync.Mutex

	name      string
	threshold int
	timeout   time.Duration

	state       BreakerState
	failures    int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker for the named dependency.
func NewCircuitBreaker(name string, threshold int, timeout time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		timeout:   timeout,
		state:     BreakerClosed,
	}
}

// Call runs fn under the breaker. While open within the timeout window
// it fails fast with ErrCircuitOpen without invoking fn. The original
// error from fn is always returned to the caller on failure.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := fn(ctx)
	b.after(err)
	return err
}

func (b *CircuitBreaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return nil
	}
	if time.Since(b.lastFailure) <= b.timeout {
		return fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
	}
	b.state = BreakerHalfOpen
	return nil
}

func (b *CircuitBreaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == BreakerHalfOpen {
			b.state = BreakerClosed
		}
		b.failures = 0
		return
	}

	b.failures++
	b.lastFailure = time.Now()
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the current gate position.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the consecutive failure count.
func (b *CircuitBreaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

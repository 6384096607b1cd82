package processor

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the current state of a Breaker.
type BreakerState string

const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// ErrCircuitOpen is returned when the breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker guarding processor calls.
// After failureThreshold failures in a row it opens for resetTimeout, then
// lets a single probe through (half-open). A successful probe closes it.
type Breaker struct {
	mu sync.Mutex

	state               BreakerState
	failureThreshold    int
	resetTimeout        time.Duration
	consecutiveFailures int
	openedAt            time.Time
	probing             bool

	now           func() time.Time
	onStateChange func(state BreakerState)
}

// NewBreaker creates a breaker. A non-positive threshold disables it.
func NewBreaker(failureThreshold int, resetTimeout time.Duration, onStateChange func(state BreakerState)) *Breaker {
	return &Breaker{
		state:            StateClosed,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
		onStateChange:    onStateChange,
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

func (b *Breaker) currentState() BreakerState {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Execute runs fn unless the breaker is open. Context cancellation by the
// caller is not counted as a processor failure.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if b == nil || b.failureThreshold <= 0 {
		return fn()
	}
	if !b.acquire() {
		return ErrCircuitOpen
	}

	err := fn()
	switch {
	case err == nil:
		b.success()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		b.release()
	default:
		b.failure()
	}
	return err
}

func (b *Breaker) acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return false
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.changeState(StateHalfOpen)
		b.probing = true
	}
	return true
}

func (b *Breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.consecutiveFailures = 0
	b.changeState(StateClosed)
}

func (b *Breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	b.consecutiveFailures++
	if b.state == StateHalfOpen || b.consecutiveFailures >= b.failureThreshold {
		b.openedAt = b.now()
		b.changeState(StateOpen)
	}
}

func (b *Breaker) changeState(newState BreakerState) {
	if b.state != newState {
		b.state = newState
		if b.onStateChange != nil {
			b.onStateChange(newState)
		}
	}
}

// Package circuitbreaker guards calls to the external threshold prover.
// A run of transport failures opens the circuit so the digest pipeline
// degrades to commitment-only immediately instead of waiting out a deadline
// on every submission.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position.
type State int

const (
	// StateClosed passes calls through and counts consecutive failures.
	StateClosed State = iota
	// StateOpen fails calls fast until the cooldown elapses.
	StateOpen
	// StateHalfOpen admits a single probe call to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the wrapped call while the circuit
// is open.
var ErrOpen = errors.New("circuit open")

// Breaker is a consecutive-failure circuit breaker. Safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	now      func() time.Time
}

// New creates a closed breaker that opens after maxFailures consecutive
// failures and admits a probe after cooldown.
func New(name string, maxFailures int, cooldown time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:        name,
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Do runs fn under the breaker. While open it returns ErrOpen without
// calling fn; in half-open only one probe runs at a time.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.record(err)
	return err
}

// State returns the breaker's current position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateOpen:
		return ErrOpen
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false

	if err == nil {
		if b.state != StateClosed {
			slog.Info("circuit closed", "breaker", b.name)
		}
		b.state = StateClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.stateLocked() == StateHalfOpen || b.failures >= b.maxFailures {
		if b.state != StateOpen {
			slog.Warn("circuit opened",
				"breaker", b.name, "consecutive_failures", b.failures, "cooldown", b.cooldown)
		}
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// stateLocked resolves open-to-half-open transitions lazily on access.
// Must be called with b.mu held.
func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		b.state = StateHalfOpen
	}
	return b.state
}

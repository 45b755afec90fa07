// Package resilience provides the circuit breaker that guards listing
// pagination against a run of consecutive page failures.
package resilience

import (
	"sync"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned by Allow once the breaker has tripped.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// Breaker counts consecutive failures and opens once a fixed threshold is
// reached. The pipeline is single-threaded, but the mutex keeps the breaker
// safe if overlapping scheduled runs ever share one.
type Breaker struct {
	mu        sync.Mutex
	threshold int

	consecutive int
	open        bool
}

// NewBreaker creates a breaker that opens after threshold consecutive
// failures. A threshold <= 0 defaults to 3.
func NewBreaker(threshold int) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Breaker{threshold: threshold}
}

// Allow returns ErrCircuitOpen when the breaker has tripped.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return ErrCircuitOpen
	}
	return nil
}

// RecordFailure increments the consecutive-failure count and reports whether
// the breaker is now open.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.open = true
	}
	return b.open
}

// RecordSuccess resets the consecutive-failure count. A breaker that has
// already opened stays open; pagination is abandoned for the rest of the run.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		b.consecutive = 0
	}
}

// Open reports whether the breaker has tripped.
func (b *Breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// ConsecutiveFailures returns the current failure streak for observability.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}

// State returns "open" or "closed" for logging.
func (b *Breaker) State() string {
	if b.Open() {
		return "open"
	}
	return "closed"
}

// Package router selects between the PrimaryRemote and LocalFallback
// LLM providers behind a circuit breaker, and reports provider/state
// metrics via OpenTelemetry.
package router

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	Closed State = iota
	HalfOpen
	Open
)

// Int encodes the state for the router_circuit_state gauge: CLOSED=0,
// HALF_OPEN=1, OPEN=2.
func (s State) Int() int64 {
	return int64(s)
}

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case HalfOpen:
		return "half_open"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

const (
	defaultFailureThreshold = 3
	defaultOpenTimeout      = 60 * time.Second
)

// Stats snapshots the breaker's internal counters for observability.
type Stats struct {
	State        State
	FailureCount int
	OpenedAt     time.Time
}

// Breaker is a circuit breaker: CLOSED routes to primary and counts
// failures; after failureThreshold consecutive failures it opens for
// openTimeout, after which exactly one probing request is allowed
// through in HALF_OPEN before the breaker commits to CLOSED (on
// success) or re-opens (on failure). All transitions are serialized by
// a single mutex.
type Breaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	failureThreshold int
	openTimeout      time.Duration
	openedAt         time.Time
}

// NewBreaker constructs a Breaker with explicit thresholds.
func NewBreaker(failureThreshold int, openTimeout time.Duration) *Breaker {
	return &Breaker{failureThreshold: failureThreshold, openTimeout: openTimeout}
}

// NewDefaultBreaker constructs a Breaker with the default parameters
// (3 failures to open, 60s cooldown).
func NewDefaultBreaker() *Breaker {
	return NewBreaker(defaultFailureThreshold, defaultOpenTimeout)
}

// Allow reports whether the next request should be routed to primary.
// It also performs the OPEN -> HALF_OPEN transition when open_timeout
// has elapsed, admitting exactly the request that triggers it.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if time.Since(b.openedAt) >= b.openTimeout {
			b.state = HalfOpen
			return true
		}
		return false
	default: // HalfOpen: a probe is already in flight, bypass to fallback.
		return false
	}
}

// RecordSuccess reports a successful primary call, closing the breaker
// and resetting its failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
}

// RecordFailure reports a failed primary call. From CLOSED it
// increments the failure count and opens once failure_threshold is
// reached; from HALF_OPEN it re-opens immediately and resets
// opened_at.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
	case Closed:
		b.failureCount++
		if b.failureCount >= b.failureThreshold {
			b.state = Open
			b.openedAt = time.Now()
		}
	}
}

// GetState returns the current breaker state.
func (b *Breaker) GetState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) IsClosed() bool   { return b.GetState() == Closed }
func (b *Breaker) IsOpen() bool     { return b.GetState() == Open }
func (b *Breaker) IsHalfOpen() bool { return b.GetState() == HalfOpen }

// GetStats snapshots the breaker's counters.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{State: b.state, FailureCount: b.failureCount, OpenedAt: b.openedAt}
}

// Reset forces the breaker back to CLOSED with a zeroed failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Closed
	b.failureCount = 0
	b.openedAt = time.Time{}
}

// Package cost accumulates per-session token and dollar totals for
// answered questions, evicting sessions that have gone idle.
package cost

import (
	"sync"
	"time"

	"github.com/knoguchi/rag/internal/apperr"
)

// DefaultSessionTTL is how long an idle session's totals are kept.
const DefaultSessionTTL = 24 * time.Hour

// SessionCost is the accumulated spend of one session.
type SessionCost struct {
	TotalTokens int       `json:"total_tokens"`
	TotalCost   float64   `json:"total_cost"`
	Requests    int       `json:"requests"`
	LastUpdated time.Time `json:"last_updated"`
}

// Tracker owns the session-to-cost map. Eviction of expired sessions
// happens opportunistically before every session create and on GetAll,
// so no background goroutine is needed.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*SessionCost
	ttl      time.Duration
	now      func() time.Time
}

// NewTracker creates a Tracker; ttl <= 0 uses DefaultSessionTTL.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Tracker{
		sessions: make(map[string]*SessionCost),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Add accumulates tokens and cost onto a session, creating it on first
// use, and returns the updated snapshot.
func (t *Tracker) Add(sessionID string, tokens int, costDollars float64) SessionCost {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		t.evictExpiredLocked()
		s = &SessionCost{}
		t.sessions[sessionID] = s
	}
	s.TotalTokens += tokens
	s.TotalCost += costDollars
	s.Requests++
	s.LastUpdated = t.now()
	return *s
}

// Get returns a session's snapshot, or SESSION_NOT_FOUND.
func (t *Tracker) Get(sessionID string) (SessionCost, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[sessionID]
	if !ok {
		return SessionCost{}, apperr.New(apperr.KindSessionNotFound, "session "+sessionID+" not found")
	}
	return *s, nil
}

// Clear removes a session; reports whether it existed.
func (t *Tracker) Clear(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	return ok
}

// GetAll returns a snapshot copy of every live session.
func (t *Tracker) GetAll() map[string]SessionCost {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.evictExpiredLocked()
	out := make(map[string]SessionCost, len(t.sessions))
	for id, s := range t.sessions {
		out[id] = *s
	}
	return out
}

func (t *Tracker) evictExpiredLocked() {
	cutoff := t.now().Add(-t.ttl)
	for id, s := range t.sessions {
		if s.LastUpdated.Before(cutoff) {
			delete(t.sessions, id)
		}
	}
}

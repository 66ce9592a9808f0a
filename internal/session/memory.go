package session

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultTTL is applied when the configuration does not set one.
const DefaultTTL = 24 * time.Hour

// MemoryStore is the in-process Store implementation. A background sweeper
// runs on its own ticker, independent of any request lifecycle, and
// serializes with UpdateTurn on the store mutex so an in-flight update never
// races a concurrent eviction.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration

	totalCreated int64
	totalCleaned int64

	stopChan chan struct{}
	stopped  bool
}

// NewMemoryStore creates a store and starts its sweeper.
func NewMemoryStore(ttl, sweepInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	s := &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stopChan: make(chan struct{}),
	}
	go s.sweepLoop(sweepInterval)
	return s
}

// Create registers a new session for the fingerprint.
func (s *MemoryStore) Create(fingerprint, upstreamConversationID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[fingerprint]; ok && !isExpired(existing, time.Now()) {
		return nil, ErrSessionExists
	}

	now := time.Now()
	sess := &Session{
		Fingerprint:            fingerprint,
		UpstreamConversationID: upstreamConversationID,
		CreatedAt:              now,
		LastAccessedAt:         now,
		ExpiresAt:              now.Add(s.ttl),
	}
	s.sessions[fingerprint] = sess
	s.totalCreated++
	c := *sess
	return &c, nil
}

// Get returns the session for the fingerprint.
func (s *MemoryStore) Get(fingerprint string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[fingerprint]
	if !ok || isExpired(sess, time.Now()) {
		return nil, false
	}
	// A copy, not the live entry: the caller reads it after the lock is
	// released, while UpdateTurn may be mutating the original.
	c := *sess
	return &c, true
}

// UpdateTurn records a completed exchange.
func (s *MemoryStore) UpdateTurn(fingerprint, newTurnID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[fingerprint]
	if !ok || isExpired(sess, time.Now()) {
		return ErrSessionNotFound
	}

	now := time.Now()
	sess.LastTurnID = newTurnID
	sess.TurnCount++
	sess.LastAccessedAt = now
	sess.ExpiresAt = now.Add(s.ttl)
	return nil
}

// Delete removes the session for the fingerprint.
func (s *MemoryStore) Delete(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[fingerprint]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, fingerprint)
	return nil
}

// List returns a snapshot of all live sessions.
func (s *MemoryStore) List() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if !isExpired(sess, now) {
			// Copies, not handles: listings are read under our lock and
			// must stay stable after it is released.
			c := *sess
			out = append(out, &c)
		}
	}
	return out
}

// SweepExpired removes every expired session and returns the count.
func (s *MemoryStore) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0
	for fp, sess := range s.sessions {
		if isExpired(sess, now) {
			delete(s.sessions, fp)
			removed++
		}
	}
	s.totalCleaned += int64(removed)
	return removed
}

// Metrics returns store counters.
func (s *MemoryStore) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Metrics{
		Active:       int64(len(s.sessions)),
		TotalCreated: s.totalCreated,
		TotalCleaned: s.totalCleaned,
	}
}

// Close stops the sweeper and drops all sessions.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
		s.sessions = make(map[string]*Session)
	}
	return nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			if n := s.SweepExpired(); n > 0 {
				log.Debug().Int("removed", n).Msg("session sweep")
			}
		}
	}
}

func isExpired(sess *Session, now time.Time) bool {
	return now.After(sess.ExpiresAt)
}

var _ Store = (*MemoryStore)(nil)

// Package session tracks the mapping between conversation fingerprints and
// upstream conversation state.
//
// DESIGN: The upstream chains turns by server-issued ids; the gateway is the
// only party that remembers which upstream conversation a fingerprint belongs
// to and which turn came last. Sessions are owned exclusively by the Store -
// callers receive snapshot copies and all mutation goes through UpdateTurn,
// which serializes on the store lock.
package session

import (
	"errors"
	"time"
)

// Session is the per-conversation state the gateway keeps between stateless
// client calls.
type Session struct {
	// Fingerprint is the derived conversation key. Immutable.
	Fingerprint string `json:"fingerprint"`

	// UpstreamConversationID is issued by the upstream on conversation
	// creation and never changes afterwards.
	UpstreamConversationID string `json:"upstream_conversation_id"`

	// LastTurnID is the id of the most recent upstream turn. Empty only
	// before the first exchange completes; it only ever moves forward.
	LastTurnID string `json:"last_turn_id"`

	// TurnCount is incremented on every completed exchange.
	TurnCount int `json:"turn_count"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Metrics reports store-level counters.
type Metrics struct {
	Active       int64 `json:"active"`
	TotalCreated int64 `json:"total_created"`
	TotalCleaned int64 `json:"total_cleaned"`
}

// Store errors.
var (
	// ErrSessionExists is returned by Create when the fingerprint is taken.
	// Callers racing on a fresh fingerprint resolve it by re-reading.
	ErrSessionExists = errors.New("session already exists for fingerprint")

	// ErrSessionNotFound is returned by UpdateTurn and Delete for unknown
	// or expired fingerprints.
	ErrSessionNotFound = errors.New("session not found")
)

// Store is the session persistence collaborator. The gateway core depends
// only on this interface; MemoryStore is the single-process implementation.
type Store interface {
	// Create registers a new session for the fingerprint. Fails with
	// ErrSessionExists if one is already present - callers check first.
	Create(fingerprint, upstreamConversationID string) (*Session, error)

	// Get returns a snapshot of the session for the fingerprint, or false
	// when absent or expired. The snapshot stays stable while concurrent
	// UpdateTurn calls mutate the stored entry.
	Get(fingerprint string) (*Session, bool)

	// UpdateTurn records a completed exchange: advances LastTurnID,
	// increments TurnCount, and refreshes the access and expiry times.
	UpdateTurn(fingerprint, newTurnID string) error

	// Delete removes the session.
	Delete(fingerprint string) error

	// List returns a snapshot of all live sessions.
	List() []*Session

	// SweepExpired removes every session past its expiry, returning the
	// number removed.
	SweepExpired() int

	// Metrics returns store counters.
	Metrics() Metrics

	// Close stops the background sweeper and releases resources.
	Close() error
}

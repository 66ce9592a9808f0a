// Package persist is the durable audit trail: sessions, requests, and
// responses land in a sqlite database so a gateway restart leaves an
// inspectable record. The gateway core never reads from it on the hot path;
// correctness lives in the in-memory session store.
package persist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/compresr/turn-gateway/internal/monitoring"
	"github.com/compresr/turn-gateway/internal/session"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	fingerprint              TEXT PRIMARY KEY,
	upstream_conversation_id TEXT NOT NULL,
	last_turn_id             TEXT NOT NULL DEFAULT '',
	turn_count               INTEGER NOT NULL DEFAULT 0,
	created_at               TIMESTAMP NOT NULL,
	last_accessed_at         TIMESTAMP NOT NULL,
	expires_at               TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS requests (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	body        BLOB NOT NULL,
	received_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS responses (
	request_id   TEXT PRIMARY KEY,
	status       INTEGER NOT NULL,
	body         BLOB NOT NULL,
	completed_at TIMESTAMP NOT NULL
);
`

// Audit is the sqlite-backed trail. Nil *Audit is a valid no-op receiver so
// handlers need no enabled checks.
type Audit struct {
	db *sql.DB
}

// Open creates or opens the audit database and ensures the schema.
func Open(path string) (*Audit, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	// sqlite allows one writer; serialize at the pool level instead of
	// surfacing SQLITE_BUSY to handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}
	return &Audit{db: db}, nil
}

// RecordRequest persists an inbound request body, redacted.
func (a *Audit) RecordRequest(ctx context.Context, requestID, fingerprint string, body []byte) error {
	if a == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO requests (id, fingerprint, body, received_at) VALUES (?, ?, ?, ?)`,
		requestID, fingerprint, monitoring.RedactBody(body), time.Now().UTC(),
	)
	return err
}

// RecordResponse persists the response sent for a request.
func (a *Audit) RecordResponse(ctx context.Context, requestID string, status int, body []byte) error {
	if a == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO responses (request_id, status, body, completed_at) VALUES (?, ?, ?, ?)`,
		requestID, status, body, time.Now().UTC(),
	)
	return err
}

// SaveSession upserts a session snapshot.
func (a *Audit) SaveSession(ctx context.Context, s *session.Session) error {
	if a == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx,
		`INSERT INTO sessions (fingerprint, upstream_conversation_id, last_turn_id, turn_count, created_at, last_accessed_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(fingerprint) DO UPDATE SET
			last_turn_id = excluded.last_turn_id,
			turn_count = excluded.turn_count,
			last_accessed_at = excluded.last_accessed_at,
			expires_at = excluded.expires_at`,
		s.Fingerprint, s.UpstreamConversationID, s.LastTurnID, s.TurnCount,
		s.CreatedAt.UTC(), s.LastAccessedAt.UTC(), s.ExpiresAt.UTC(),
	)
	return err
}

// DeleteSession removes a session snapshot.
func (a *Audit) DeleteSession(ctx context.Context, fingerprint string) error {
	if a == nil {
		return nil
	}
	_, err := a.db.ExecContext(ctx, `DELETE FROM sessions WHERE fingerprint = ?`, fingerprint)
	return err
}

// Sessions returns all persisted session snapshots.
func (a *Audit) Sessions(ctx context.Context) ([]*session.Session, error) {
	if a == nil {
		return nil, nil
	}
	rows, err := a.db.QueryContext(ctx,
		`SELECT fingerprint, upstream_conversation_id, last_turn_id, turn_count, created_at, last_accessed_at, expires_at FROM sessions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var s session.Session
		if err := rows.Scan(&s.Fingerprint, &s.UpstreamConversationID, &s.LastTurnID,
			&s.TurnCount, &s.CreatedAt, &s.LastAccessedAt, &s.ExpiresAt); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (a *Audit) Close() error {
	if a == nil {
		return nil
	}
	return a.db.Close()
}

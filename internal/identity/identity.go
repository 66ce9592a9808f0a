// Package identity maps a stateless, full-history client request onto a
// stable conversation key.
//
// DESIGN: Clients resend the entire history on every call, so the key must be
// a pure function of the parts of the history that never change across turns.
// The first user-authored message is the only such part: system prompts vary
// by client version and later turns grow, but the opening user message is
// fixed for the lifetime of a conversation. The fingerprint hashes that
// message's content and nothing else.
package identity

import (
	"encoding/hex"
	"errors"

	"github.com/zeebo/blake3"

	"github.com/compresr/turn-gateway/internal/openai"
)

// ErrNoUserMessage is returned when the history contains no user-role entry
// to derive a fingerprint from.
var ErrNoUserMessage = errors.New("no user message in history")

// Fingerprint derives the conversation key from a message history.
// Only the content of the first user-role message participates; identifiers,
// names, and every later message are ignored.
func Fingerprint(messages []openai.Message) (string, error) {
	for _, m := range messages {
		if m.Role == openai.RoleUser {
			sum := blake3.Sum256([]byte(m.Content))
			return hex.EncodeToString(sum[:]), nil
		}
	}
	return "", ErrNoUserMessage
}

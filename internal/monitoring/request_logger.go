// Request lifecycle logging at DEBUG level, plus body redaction for the
// audit trail.
package monitoring

import (
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// maxLoggedContent caps per-message content persisted to the audit trail.
const maxLoggedContent = 2048

// LogIncoming logs a request arriving from a client.
func LogIncoming(requestID, method, path string, bodySize int) {
	log.Debug().
		Str("request_id", requestID).
		Str("method", method).
		Str("path", path).
		Int("body_size", bodySize).
		Msg("incoming")
}

// LogOutgoing logs a payload forwarded to the upstream.
func LogOutgoing(requestID, conversationID, parentTurnID string, messageCount int) {
	log.Debug().
		Str("request_id", requestID).
		Str("conversation_id", conversationID).
		Str("parent_turn_id", parentTurnID).
		Int("messages", messageCount).
		Msg("outgoing")
}

// LogResponse logs a response returned to a client.
func LogResponse(requestID string, status int, latency time.Duration) {
	log.Debug().
		Str("request_id", requestID).
		Int("status", status).
		Dur("latency", latency).
		Msg("response")
}

// RedactBody truncates oversized message contents in a request body before
// it is persisted. The original body is returned unmodified on any surgery
// failure - redaction is best effort and never blocks the audit write.
func RedactBody(body []byte) []byte {
	messages := gjson.GetBytes(body, "messages")
	if !messages.IsArray() {
		return body
	}

	out := body
	for i, m := range messages.Array() {
		content := m.Get("content")
		if content.Type != gjson.String || len(content.String()) <= maxLoggedContent {
			continue
		}
		truncated := content.String()[:maxLoggedContent] + "...(truncated)"
		if modified, err := sjson.SetBytes(out, "messages."+strconv.Itoa(i)+".content", truncated); err == nil {
			out = modified
		}
	}
	return out
}

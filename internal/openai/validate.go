// Request validation - runs against the raw body before any upstream traffic.
//
// DESIGN: Validation inspects the raw JSON with gjson instead of the decoded
// struct so that "field absent" and "field present but wrong type" stay
// distinguishable (a decoded struct collapses both into the zero value).
package openai

import (
	"fmt"
	"math"

	"github.com/tidwall/gjson"
)

// ValidationError is a client-visible request rejection. Code is the
// machine-readable tag carried in the error body.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(code, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

var validRoles = map[string]bool{
	RoleSystem:    true,
	RoleUser:      true,
	RoleAssistant: true,
	RoleTool:      true,
}

// ValidateChatRequest checks the raw request body against the wire contract.
// Returns nil when the request is acceptable.
func ValidateChatRequest(body []byte) *ValidationError {
	if !gjson.ValidBytes(body) {
		return invalid("invalid_json", "request body is not valid JSON")
	}

	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() {
		return invalid("missing_messages", "'messages' is required")
	}
	if !messages.IsArray() {
		return invalid("invalid_messages", "'messages' must be an array")
	}
	items := messages.Array()
	if len(items) == 0 {
		return invalid("empty_messages", "'messages' must not be empty")
	}

	for i, m := range items {
		role := m.Get("role")
		if !role.Exists() || role.Type != gjson.String {
			return invalid("missing_role", "messages[%d] is missing a 'role'", i)
		}
		if !validRoles[role.String()] {
			return invalid("invalid_role", "messages[%d] has invalid role %q", i, role.String())
		}
		content := m.Get("content")
		if !content.Exists() || content.Type == gjson.Null {
			// Assistant turns that carry tool calls legitimately omit content.
			if role.String() == RoleAssistant && m.Get("tool_calls").IsArray() {
				continue
			}
			return invalid("missing_content", "messages[%d] is missing 'content'", i)
		}
	}

	if temp := gjson.GetBytes(body, "temperature"); temp.Exists() && temp.Type != gjson.Null {
		if temp.Type != gjson.Number || temp.Float() < 0 || temp.Float() > 2 {
			return invalid("invalid_temperature", "'temperature' must be a number between 0 and 2")
		}
	}
	if topP := gjson.GetBytes(body, "top_p"); topP.Exists() && topP.Type != gjson.Null {
		if topP.Type != gjson.Number || topP.Float() <= 0 || topP.Float() > 1 {
			return invalid("invalid_top_p", "'top_p' must be a number in (0, 1]")
		}
	}
	if maxTokens := gjson.GetBytes(body, "max_tokens"); maxTokens.Exists() && maxTokens.Type != gjson.Null {
		f := maxTokens.Float()
		if maxTokens.Type != gjson.Number || f != math.Trunc(f) || f < 1 {
			return invalid("invalid_max_tokens", "'max_tokens' must be a positive integer")
		}
	}
	if stream := gjson.GetBytes(body, "stream"); stream.Exists() && stream.Type != gjson.Null {
		if stream.Type != gjson.True && stream.Type != gjson.False {
			return invalid("invalid_stream", "'stream' must be a boolean")
		}
	}

	return nil
}

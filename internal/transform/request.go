// Package transform converts between the client's stateless full-history
// protocol and the upstream's turn-chained protocol, in both directions.
//
// DESIGN: On a continuation turn the client's resent history is discarded -
// the upstream reconstructs context from the parent turn id, so resending
// history would double it. Only the first turn carries the system message
// (plus the tool instructional block when tools are offered).
package transform

import (
	"strings"

	"github.com/compresr/turn-gateway/internal/openai"
	"github.com/compresr/turn-gateway/internal/session"
	"github.com/compresr/turn-gateway/internal/toolxml"
	"github.com/compresr/turn-gateway/internal/upstream"
)

// EmptyToolResultSentinel replaces empty or whitespace-only tool results.
// Upstream models read an empty result as failure and retry the same call
// indefinitely, so the result must always carry visible text.
const EmptyToolResultSentinel = "(Command completed successfully with no output)"

// BuildUpstreamPayload assembles the upstream payload for one exchange.
// The caller sets Stream and the sampling passthrough fields afterwards.
func BuildUpstreamPayload(messages []openai.Message, sess *session.Session, tools []openai.Tool) upstream.Payload {
	payload := upstream.Payload{
		ConversationID: sess.UpstreamConversationID,
		ParentTurnID:   sess.LastTurnID,
	}

	last := rewriteMessage(messages[len(messages)-1], messages)

	if sess.LastTurnID == "" {
		if sys := firstTurnSystemMessage(messages, tools); sys != nil {
			payload.Messages = append(payload.Messages, *sys)
		}
	}
	payload.Messages = append(payload.Messages, last)
	return payload
}

// firstTurnSystemMessage returns the system turn for a fresh conversation:
// the client's system message with the tool instructional block appended, or
// a synthesized system message when tools are offered without one. Nil when
// there is nothing to send.
func firstTurnSystemMessage(messages []openai.Message, tools []openai.Tool) *upstream.Message {
	var content string
	for _, m := range messages {
		if m.Role == openai.RoleSystem {
			content = m.Content
			break
		}
	}

	if block := toolxml.Encode(tools); block != "" {
		if content != "" {
			content += "\n\n" + block
		} else {
			content = block
		}
	}
	if content == "" {
		return nil
	}
	return &upstream.Message{Role: openai.RoleSystem, Content: content}
}

// rewriteMessage converts one client message to the upstream shape:
//   - tool results become user turns labelled with the originating tool name
//     when it is resolvable from the preceding assistant turn's call id
//   - assistant messages are stripped of their structured tool-call field
//     (the upstream protocol has none); text content is preserved
func rewriteMessage(m openai.Message, history []openai.Message) upstream.Message {
	switch m.Role {
	case openai.RoleTool:
		content := m.Content
		if strings.TrimSpace(content) == "" {
			content = EmptyToolResultSentinel
		}
		if name := resolveToolName(history, m.ToolCallID); name != "" {
			return upstream.Message{
				Role:    openai.RoleUser,
				Content: "Tool Result from " + name + ":\n" + content,
			}
		}
		return upstream.Message{Role: openai.RoleUser, Content: "Tool Result:\n" + content}
	case openai.RoleAssistant:
		return upstream.Message{Role: openai.RoleAssistant, Content: m.Content}
	default:
		return upstream.Message{Role: m.Role, Content: m.Content}
	}
}

// resolveToolName finds the function name behind a tool call id by scanning
// assistant turns for the recorded call.
func resolveToolName(history []openai.Message, callID string) string {
	if callID == "" {
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != openai.RoleAssistant {
			continue
		}
		for _, tc := range history[i].ToolCalls {
			if tc.ID == callID {
				return tc.Function.Name
			}
		}
	}
	return ""
}

// PromptText flattens a payload's messages for token estimation.
func PromptText(p upstream.Payload) string {
	var b strings.Builder
	for _, m := range p.Messages {
		b.WriteString(m.Content)
		b.WriteByte('\n')
	}
	return b.String()
}

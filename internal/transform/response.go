package transform

import (
	"time"

	"github.com/google/uuid"

	"github.com/compresr/turn-gateway/internal/openai"
	"github.com/compresr/turn-gateway/internal/toolxml"
	"github.com/compresr/turn-gateway/internal/upstream"
)

// ResponseOptions configure one response transformation.
type ResponseOptions struct {
	// Model is echoed into the client response.
	Model string
	// EnableToolCalling runs tag decoding on the reply text. When false,
	// literal tag text passes through as plain content.
	EnableToolCalling bool
	// PromptText feeds usage estimation when the upstream omits usage.
	PromptText string
}

// NewCompletionID generates a client-visible completion id.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.New().String()
}

// ToClientCompletion converts one complete upstream reply into the client
// wire format.
func ToClientCompletion(reply *upstream.Reply, opts ResponseOptions) *openai.ChatCompletion {
	message := openai.Message{Role: openai.RoleAssistant, Content: reply.Content}
	finishReason := openai.FinishStop

	if opts.EnableToolCalling {
		if res := toolxml.Decode(reply.Content); res.HasCall {
			// Content must be an empty string, never absent: client SDKs
			// assume a string content field even on tool-call turns.
			message.Content = res.TextBefore
			message.ToolCalls = []openai.ToolCall{res.Call.ToToolCall()}
			finishReason = openai.FinishToolCalls
		}
	}

	return &openai.ChatCompletion{
		ID:      NewCompletionID(),
		Object:  openai.ObjectCompletion,
		Created: time.Now().Unix(),
		Model:   opts.Model,
		Choices: []openai.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage: ResolveUsage(reply.Usage, opts.PromptText, reply.Content),
	}
}

// ResolveUsage copies upstream usage through when present, enforcing
// total == prompt + completion, and estimates otherwise. All three fields
// are always present and non-negative.
func ResolveUsage(u *upstream.Usage, promptText, completionText string) openai.Usage {
	if u == nil {
		return EstimateUsage(promptText, completionText)
	}
	prompt := max(u.PromptTokens, 0)
	completion := max(u.CompletionTokens, 0)
	return openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

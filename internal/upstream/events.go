// Upstream event decoding.
//
// DESIGN: The upstream stream is a sequence of JSON lines whose shape varies
// by kind. Rather than duck-typing on field presence, each line is decoded
// into a closed union (EventKind + Event) and consumers switch exhaustively.
// Lines that fail to parse are skipped by the stream reader; a bad fragment
// is a local recovery, never a propagated error.
package upstream

import (
	"github.com/tidwall/gjson"
)

// EventKind enumerates the known upstream stream event kinds.
type EventKind int

const (
	// EventTurnStarted is the initial event carrying the conversation and
	// turn identifiers for the reply being generated.
	EventTurnStarted EventKind = iota
	// EventDelta carries a fragment of reply text.
	EventDelta
	// EventCompleted is the terminal success event, optionally carrying
	// usage counters.
	EventCompleted
	// EventError is the terminal failure event.
	EventError
)

// Event is one decoded upstream stream event. Fields are populated according
// to Kind; unset fields are zero.
type Event struct {
	Kind EventKind

	// EventTurnStarted
	ConversationID string
	TurnID         string

	// EventDelta
	Content string

	// EventCompleted
	Usage *Usage

	// EventError
	Message string
}

// Usage is the upstream's token accounting, when it reports one.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// DecodeEvent parses one raw event line into the closed union.
// Returns false for unknown kinds or unparseable lines.
func DecodeEvent(line []byte) (Event, bool) {
	if !gjson.ValidBytes(line) {
		return Event{}, false
	}

	switch gjson.GetBytes(line, "type").String() {
	case "turn.started":
		return Event{
			Kind:           EventTurnStarted,
			ConversationID: gjson.GetBytes(line, "conversation_id").String(),
			TurnID:         gjson.GetBytes(line, "turn_id").String(),
		}, true
	case "turn.delta":
		return Event{
			Kind:    EventDelta,
			Content: gjson.GetBytes(line, "content").String(),
		}, true
	case "turn.completed":
		return Event{
			Kind:  EventCompleted,
			Usage: decodeUsage(gjson.GetBytes(line, "usage")),
		}, true
	case "error":
		return Event{
			Kind:    EventError,
			Message: gjson.GetBytes(line, "message").String(),
		}, true
	default:
		return Event{}, false
	}
}

func decodeUsage(r gjson.Result) *Usage {
	if !r.Exists() || !r.IsObject() {
		return nil
	}
	return &Usage{
		PromptTokens:     int(r.Get("prompt_tokens").Int()),
		CompletionTokens: int(r.Get("completion_tokens").Int()),
		TotalTokens:      int(r.Get("total_tokens").Int()),
	}
}

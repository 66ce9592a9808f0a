// Package stream re-emits the upstream event stream in the client's
// streaming wire format while watching for an inline tool-call tag that may
// arrive split across arbitrarily many chunks.
//
// DESIGN: The transformer is a per-request state machine:
//
//	STREAMING_TEXT -> POSSIBLE_TAG -> (STREAMING_TEXT | TAG_SEEN) -> FINISHED
//
// Text is forwarded the moment it provably cannot belong to a tag. A "<"
// that could still grow into an opening tag moves the machine to
// POSSIBLE_TAG and holds the tail back; if the next bytes rule a tag out the
// tail is flushed as ordinary content, and if a complete opening tag forms
// the machine stays withheld (TAG_SEEN) until the terminal event, where the
// full accumulated text goes through the same decode as the non-streaming
// path. Scanning is incremental - each byte is examined once, and the only
// retained lookahead is the withheld tail itself, bounded by the tag-name
// cap in toolxml.
package stream

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/turn-gateway/internal/openai"
	"github.com/compresr/turn-gateway/internal/session"
	"github.com/compresr/turn-gateway/internal/toolxml"
	"github.com/compresr/turn-gateway/internal/transform"
	"github.com/compresr/turn-gateway/internal/upstream"
)

// State is the transformer's position in its lifecycle.
type State int

const (
	// StreamingText forwards content as it arrives.
	StreamingText State = iota
	// PossibleTag withholds a tail that may be the start of an opening tag.
	PossibleTag
	// TagSeen withholds everything from a complete opening tag onward.
	TagSeen
	// Finished means the terminal event has been processed.
	Finished
)

// Options configure one streaming transformation.
type Options struct {
	Model             string
	EnableToolCalling bool
	// PromptText feeds usage estimation when the upstream omits usage.
	PromptText string
	// Fingerprint keys the session store update after the final event.
	Fingerprint string
}

// Transformer consumes upstream events and produces client-format chunks.
// It owns its accumulator exclusively; one instance serves one request and
// is not safe for concurrent use.
type Transformer struct {
	opts    Options
	store   session.Store
	id      string
	created int64

	state State

	// buffered holds everything the upstream has produced, for the final
	// decode. flushed counts how much of it went out as content deltas;
	// holdStart marks where the withheld tail begins while state is
	// PossibleTag or TagSeen.
	buffered  []byte
	flushed   int
	holdStart int

	roleSent bool

	conversationID string
	turnID         string
	usage          *upstream.Usage
}

// NewTransformer creates a transformer for one streamed request. store may
// be nil in tests; the turn update is skipped then.
func NewTransformer(opts Options, store session.Store) *Transformer {
	return &Transformer{
		opts:    opts,
		store:   store,
		id:      transform.NewCompletionID(),
		created: time.Now().Unix(),
	}
}

// Done reports whether the terminal event has been processed.
func (t *Transformer) Done() bool { return t.state == Finished }

// TurnID returns the turn id captured from the initial upstream event.
func (t *Transformer) TurnID() string { return t.turnID }

// Feed processes one upstream event and returns the chunks to emit for it,
// in order. After the terminal event it records the new turn id in the
// session store.
func (t *Transformer) Feed(ev upstream.Event) []openai.ChatCompletionChunk {
	if t.state == Finished {
		return nil
	}

	switch ev.Kind {
	case upstream.EventTurnStarted:
		// Bookkeeping only; the client sees nothing for this event.
		t.conversationID = ev.ConversationID
		t.turnID = ev.TurnID
		return nil

	case upstream.EventDelta:
		return t.feedDelta(ev.Content)

	case upstream.EventCompleted:
		t.usage = ev.Usage
		chunks := t.finish()
		t.recordTurn()
		return chunks

	case upstream.EventError:
		// The stream is dead; emit what was safely text and terminate.
		log.Error().Str("detail", ev.Message).Msg("upstream stream error")
		chunks := t.finish()
		return chunks
	}
	return nil
}

// feedDelta appends new text and advances the incremental tag scan.
func (t *Transformer) feedDelta(content string) []openai.ChatCompletionChunk {
	if content == "" {
		return nil
	}
	t.buffered = append(t.buffered, content...)

	var out []openai.ChatCompletionChunk
	for {
		progressed := false

		switch t.state {
		case StreamingText:
			// Forward up to the next possible tag start.
			if !t.opts.EnableToolCalling {
				break
			}
			if lt := indexByte(t.buffered, t.flushed, '<'); lt >= 0 {
				if lt > t.flushed {
					out = appendContent(out, t.chunkText(t.flushed, lt))
					t.flushed = lt
				}
				t.holdStart = lt
				t.state = PossibleTag
				progressed = true
			}

		case PossibleTag:
			tail := string(t.buffered[t.holdStart:])
			switch kind, _ := toolxml.ClassifyTagPrefix(tail); kind {
			case toolxml.TagComplete:
				t.state = TagSeen
				progressed = true
			case toolxml.TagInvalid:
				// Not a tag after all. Flush the "<" and rescan the
				// rest of the tail for a later candidate.
				out = appendContent(out, t.chunkText(t.holdStart, t.holdStart+1))
				t.flushed = t.holdStart + 1
				t.state = StreamingText
				progressed = true
			case toolxml.TagIncomplete:
				// Need more bytes.
			}

		case TagSeen:
			// Withheld until the terminal event.
		}

		if !progressed {
			break
		}
	}

	if t.state == StreamingText && t.flushed < len(t.buffered) {
		out = appendContent(out, t.chunkText(t.flushed, len(t.buffered)))
		t.flushed = len(t.buffered)
	}
	return out
}

// finish runs the terminal transition: decode the full text, release any
// withheld remainder, and emit the closing chunk.
func (t *Transformer) finish() []openai.ChatCompletionChunk {
	t.state = Finished
	full := string(t.buffered)

	var out []openai.ChatCompletionChunk
	finishReason := openai.FinishStop

	if t.opts.EnableToolCalling {
		if res := toolxml.Decode(full); res.HasCall {
			// Anything decode classified as leading text but the scanner
			// was still withholding goes out first.
			if len(res.TextBefore) > t.flushed {
				out = appendContent(out, t.chunkText(t.flushed, len(res.TextBefore)))
			}
			out = append(out, t.chunkToolCall(res.Call))
			finishReason = openai.FinishToolCalls
			out = append(out, t.chunkFinish(finishReason))
			return out
		}
	}

	// No call: the withheld tail was ordinary content.
	if t.flushed < len(t.buffered) {
		out = appendContent(out, t.chunkText(t.flushed, len(t.buffered)))
		t.flushed = len(t.buffered)
	}
	out = append(out, t.chunkFinish(finishReason))
	return out
}

// CompleteResponse composes the same object the non-streaming transformer
// would produce from the fully accumulated text. Valid after Done().
func (t *Transformer) CompleteResponse() *openai.ChatCompletion {
	reply := &upstream.Reply{
		ConversationID: t.conversationID,
		TurnID:         t.turnID,
		Content:        string(t.buffered),
		Usage:          t.usage,
	}
	return transform.ToClientCompletion(reply, transform.ResponseOptions{
		Model:             t.opts.Model,
		EnableToolCalling: t.opts.EnableToolCalling,
		PromptText:        t.opts.PromptText,
	})
}

func (t *Transformer) recordTurn() {
	if t.store == nil || t.opts.Fingerprint == "" || t.turnID == "" {
		return
	}
	if err := t.store.UpdateTurn(t.opts.Fingerprint, t.turnID); err != nil {
		log.Warn().Err(err).Str("fingerprint", t.opts.Fingerprint).Msg("turn update after stream")
	}
}

// chunkText builds a content chunk for buffered[from:to].
func (t *Transformer) chunkText(from, to int) openai.ChatCompletionChunk {
	delta := openai.Delta{Content: string(t.buffered[from:to])}
	return t.chunk(delta, nil)
}

func (t *Transformer) chunkToolCall(call *toolxml.Call) openai.ChatCompletionChunk {
	tc := call.ToToolCall()
	delta := openai.Delta{
		ToolCalls: []openai.ToolCallDelta{{
			Index:    0,
			ID:       tc.ID,
			Type:     tc.Type,
			Function: &tc.Function,
		}},
	}
	return t.chunk(delta, nil)
}

func (t *Transformer) chunkFinish(reason string) openai.ChatCompletionChunk {
	usage := transform.ResolveUsage(t.usage, t.opts.PromptText, string(t.buffered))
	c := t.chunk(openai.Delta{}, &usage)
	c.Choices[0].FinishReason = &reason
	return c
}

func (t *Transformer) chunk(delta openai.Delta, usage *openai.Usage) openai.ChatCompletionChunk {
	if !t.roleSent && (delta.Content != "" || delta.ToolCalls != nil) {
		delta.Role = openai.RoleAssistant
		t.roleSent = true
	}
	return openai.ChatCompletionChunk{
		ID:      t.id,
		Object:  openai.ObjectChunk,
		Created: t.created,
		Model:   t.opts.Model,
		Choices: []openai.ChunkChoice{{Index: 0, Delta: delta}},
		Usage:   usage,
	}
}

func appendContent(chunks []openai.ChatCompletionChunk, c openai.ChatCompletionChunk) []openai.ChatCompletionChunk {
	if len(c.Choices) == 1 && c.Choices[0].Delta.Content == "" && c.Choices[0].Delta.ToolCalls == nil {
		return chunks
	}
	return append(chunks, c)
}

func indexByte(b []byte, from int, c byte) int {
	for i := from; i < len(b); i++ {
		if b[i] == c {
			return i
		}
	}
	return -1
}

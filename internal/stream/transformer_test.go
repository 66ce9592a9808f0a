package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/turn-gateway/internal/openai"
	"github.com/compresr/turn-gateway/internal/session"
	"github.com/compresr/turn-gateway/internal/upstream"
)

func feedAll(t *Transformer, chunks ...string) []openai.ChatCompletionChunk {
	var out []openai.ChatCompletionChunk
	out = append(out, t.Feed(upstream.Event{
		Kind: upstream.EventTurnStarted, ConversationID: "conv-1", TurnID: "turn-1",
	})...)
	for _, c := range chunks {
		out = append(out, t.Feed(upstream.Event{Kind: upstream.EventDelta, Content: c})...)
	}
	out = append(out, t.Feed(upstream.Event{
		Kind: upstream.EventCompleted,
		Usage: &upstream.Usage{PromptTokens: 3, CompletionTokens: 6, TotalTokens: 9},
	})...)
	return out
}

// streamedText concatenates the content deltas in emission order.
func streamedText(chunks []openai.ChatCompletionChunk) string {
	var s string
	for _, c := range chunks {
		s += c.Choices[0].Delta.Content
	}
	return s
}

func finalChunk(t *testing.T, chunks []openai.ChatCompletionChunk) openai.ChatCompletionChunk {
	t.Helper()
	require.NotEmpty(t, chunks)
	last := chunks[len(chunks)-1]
	require.NotNil(t, last.Choices[0].FinishReason)
	return last
}

func toolCallChunks(chunks []openai.ChatCompletionChunk) []openai.ChatCompletionChunk {
	var out []openai.ChatCompletionChunk
	for _, c := range chunks {
		if len(c.Choices[0].Delta.ToolCalls) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func TestPlainTextStream(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	chunks := feedAll(tr, "Hello", ", ", "world!")

	assert.Equal(t, "Hello, world!", streamedText(chunks))
	assert.Empty(t, toolCallChunks(chunks))

	last := finalChunk(t, chunks)
	assert.Equal(t, openai.FinishStop, *last.Choices[0].FinishReason)
	require.NotNil(t, last.Usage)
	assert.Equal(t, 9, last.Usage.TotalTokens)
	assert.True(t, tr.Done())
}

func TestRoleOnFirstContentChunkOnly(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	chunks := feedAll(tr, "one ", "two")

	var withRole int
	for _, c := range chunks {
		if c.Choices[0].Delta.Role != "" {
			withRole++
			assert.Equal(t, openai.RoleAssistant, c.Choices[0].Delta.Role)
		}
	}
	assert.Equal(t, 1, withRole)
	assert.Equal(t, openai.RoleAssistant, chunks[0].Choices[0].Delta.Role)
}

// TestTagSplitAcrossChunks feeds a tool invocation fragmented at arbitrary
// byte positions, including mid-tag, and checks no tag text leaks to the
// client and the decoded call matches the unfragmented decode.
func TestTagSplitAcrossChunks(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	chunks := feedAll(tr,
		"I'll check",
		" that file.\n<re",
		"ad_fi",
		"le>\n<pa",
		"th>/tmp/a.t",
		"xt</path>\n</read",
		"_file>",
	)

	assert.Equal(t, "I'll check that file.\n", streamedText(chunks))

	calls := toolCallChunks(chunks)
	require.Len(t, calls, 1)
	tc := calls[0].Choices[0].Delta.ToolCalls[0]
	assert.Equal(t, "read_file", tc.Function.Name)
	assert.Contains(t, tc.Function.Arguments, "/tmp/a.txt")

	last := finalChunk(t, chunks)
	assert.Equal(t, openai.FinishToolCalls, *last.Choices[0].FinishReason)
}

func TestTagInOneChunk(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	chunks := feedAll(tr, "<read_file><path>a</path></read_file>")

	assert.Equal(t, "", streamedText(chunks))
	require.Len(t, toolCallChunks(chunks), 1)
}

// TestFalseTagFlushed verifies a "<" that turns out not to start a tag is
// released as ordinary content once disproven.
func TestFalseTagFlushed(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	chunks := feedAll(tr, "3 < 5 and 2 <", "3 hold")

	assert.Equal(t, "3 < 5 and 2 <3 hold", streamedText(chunks))
	assert.Empty(t, toolCallChunks(chunks))
	assert.Equal(t, openai.FinishStop, *finalChunk(t, chunks).Choices[0].FinishReason)
}

// TestFalseCandidateThenRealTag verifies the scan recovers after an
// ambiguous prefix and still withholds the genuine tag that follows.
func TestFalseCandidateThenRealTag(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	chunks := feedAll(tr, "x <thing not-a-tag ", "then <run><a>1</a></run>")

	assert.Equal(t, "x <thing not-a-tag then ", streamedText(chunks))

	calls := toolCallChunks(chunks)
	require.Len(t, calls, 1)
	assert.Equal(t, "run", calls[0].Choices[0].Delta.ToolCalls[0].Function.Name)
}

// TestUnclosedTagReleasedAtEnd verifies a complete opening tag with no
// closing tag is plain text once the stream finishes.
func TestUnclosedTagReleasedAtEnd(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	chunks := feedAll(tr, "see <marker> for details")

	assert.Equal(t, "see <marker> for details", streamedText(chunks))
	assert.Empty(t, toolCallChunks(chunks))
}

func TestToolCallingDisabledPassesTagsThrough(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: false}, nil)
	chunks := feedAll(tr, "<read_file>", "<path>a</path>", "</read_file>")

	assert.Equal(t, "<read_file><path>a</path></read_file>", streamedText(chunks))
	assert.Empty(t, toolCallChunks(chunks))
	assert.Equal(t, openai.FinishStop, *finalChunk(t, chunks).Choices[0].FinishReason)
}

// TestStreamingMatchesNonStreaming is the equivalence property: for the same
// accumulated text, the streamed outcome and the composed complete response
// agree on content, call, and finish reason.
func TestStreamingMatchesNonStreaming(t *testing.T) {
	texts := []string{
		"plain prose with no markup at all",
		"prefix text\n<read_file>\n<path>/x</path>\n</read_file>",
		"math: 1 < 2 < 3",
		"<run><count>42</count></run>",
		"dangling <open and nothing else",
	}
	for _, text := range texts {
		// Fragment into 1-3 byte chunks to force every split point.
		var parts []string
		for i := 0; i < len(text); {
			n := 1 + (i % 3)
			if i+n > len(text) {
				n = len(text) - i
			}
			parts = append(parts, text[i:i+n])
			i += n
		}

		tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
		chunks := feedAll(tr, parts...)
		complete := tr.CompleteResponse()

		choice := complete.Choices[0]
		assert.Equal(t, choice.Message.Content, streamedText(chunks), "text %q", text)

		calls := toolCallChunks(chunks)
		if choice.FinishReason == openai.FinishToolCalls {
			require.Len(t, calls, 1, "text %q", text)
			assert.Equal(t, choice.Message.ToolCalls[0].Function.Name,
				calls[0].Choices[0].Delta.ToolCalls[0].Function.Name)
			assert.Equal(t, choice.Message.ToolCalls[0].Function.Arguments,
				calls[0].Choices[0].Delta.ToolCalls[0].Function.Arguments)
		} else {
			assert.Empty(t, calls, "text %q", text)
		}
		assert.Equal(t, choice.FinishReason, *finalChunk(t, chunks).Choices[0].FinishReason, "text %q", text)
	}
}

func TestUpstreamErrorTerminates(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true}, nil)
	var chunks []openai.ChatCompletionChunk
	chunks = append(chunks, tr.Feed(upstream.Event{Kind: upstream.EventDelta, Content: "partial "})...)
	chunks = append(chunks, tr.Feed(upstream.Event{Kind: upstream.EventError, Message: "overloaded"})...)

	assert.True(t, tr.Done())
	assert.Equal(t, "partial ", streamedText(chunks))
	require.NotNil(t, finalChunk(t, chunks).Choices[0].FinishReason)

	// Events after the terminal one are ignored.
	assert.Nil(t, tr.Feed(upstream.Event{Kind: upstream.EventDelta, Content: "late"}))
}

func TestRecordsTurnOnCompletion(t *testing.T) {
	store := session.NewMemoryStore(time.Hour, time.Hour)
	defer store.Close()
	_, err := store.Create("fp-1", "conv-1")
	require.NoError(t, err)

	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true, Fingerprint: "fp-1"}, store)
	feedAll(tr, "hello")

	assert.Equal(t, "turn-1", tr.TurnID())
	sess, ok := store.Get("fp-1")
	require.True(t, ok)
	assert.Equal(t, "turn-1", sess.LastTurnID)
	assert.Equal(t, 1, sess.TurnCount)
}

func TestUsageEstimatedWhenUpstreamOmitsIt(t *testing.T) {
	tr := NewTransformer(Options{Model: "gw-chat", EnableToolCalling: true, PromptText: "the prompt"}, nil)
	var chunks []openai.ChatCompletionChunk
	chunks = append(chunks, tr.Feed(upstream.Event{Kind: upstream.EventDelta, Content: "reply text"})...)
	chunks = append(chunks, tr.Feed(upstream.Event{Kind: upstream.EventCompleted})...)

	last := finalChunk(t, chunks)
	require.NotNil(t, last.Usage)
	assert.Greater(t, last.Usage.PromptTokens, 0)
	assert.Greater(t, last.Usage.CompletionTokens, 0)
	assert.Equal(t, last.Usage.PromptTokens+last.Usage.CompletionTokens, last.Usage.TotalTokens)
}

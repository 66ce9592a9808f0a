package transform

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/compresr/turn-gateway/internal/openai"
)

// The upstream omits usage on some call shapes, but the client contract
// requires all three counters on every response. Estimation fills the gap
// with a cl100k_base token count, falling back to a bytes/4 heuristic if the
// encoding fails to load (it fetches its ranks on first use).

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			log.Warn().Err(err).Msg("tiktoken encoding unavailable, using heuristic token counts")
			return
		}
		encoding = enc
	})
	return encoding
}

// CountTokens returns the token count of s.
func CountTokens(s string) int {
	if s == "" {
		return 0
	}
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(s, nil, nil))
	}
	// Rough average of four bytes per token for English-ish text.
	return (len(s) + 3) / 4
}

// EstimateUsage builds a usage record from prompt and completion text.
func EstimateUsage(promptText, completionText string) openai.Usage {
	prompt := CountTokens(promptText)
	completion := CountTokens(completionText)
	return openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

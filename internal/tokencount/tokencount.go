// Package tokencount estimates token counts for requests and responses that
// arrive without provider-reported usage. The estimate is a byte heuristic,
// close enough for rate limiting and cost attribution; swap in a real
// tokenizer if exact counts ever matter.
package tokencount

import (
	gateway "github.com/eugener/radagast/internal"
)

// perMessageOverhead covers the role and framing tokens each chat message
// carries in GPT-style prompts.
const perMessageOverhead = 4

// replyPrimer is the fixed cost of priming the assistant reply.
const replyPrimer = 3

// Counter estimates token counts for chat requests and plain text.
type Counter struct{}

// NewCounter creates a Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// EstimateRequest approximates the prompt token count of a chat request,
// including per-message framing overhead. Never returns less than 1.
func (c *Counter) EstimateRequest(_ string, messages []gateway.Message) int {
	total := replyPrimer
	for _, m := range messages {
		total += perMessageOverhead
		total += approx(m.Role)
		total += approx(string(m.Content))
		if m.Name != "" {
			total += approx(m.Name) + 1
		}
		if len(m.ToolCalls) > 0 {
			total += approx(string(m.ToolCalls))
		}
		if m.ToolCallID != "" {
			total += approx(m.ToolCallID)
		}
	}
	return max(total, 1)
}

// CountText approximates tokens for a completion text. Never returns less
// than 1.
func (c *Counter) CountText(_ string, text string) int {
	return max(approx(text), 1)
}

// approx rounds up at ~4 bytes per token, a workable average for English
// text under GPT-family tokenizers.
func approx(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

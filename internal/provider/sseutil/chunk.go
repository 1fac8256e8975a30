package sseutil

import (
	"encoding/json"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// marshalChunk assembles an OpenAI-format chat.completion.chunk frame.
// choices may be empty for usage-only frames.
func marshalChunk(id, model string, choices []map[string]any, extra map[string]any) []byte {
	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": choices,
	}
	for k, v := range extra {
		chunk[k] = v
	}
	b, _ := json.Marshal(chunk)
	return b
}

func choice(delta map[string]any, finishReason any) []map[string]any {
	return []map[string]any{{
		"index":         0,
		"delta":         delta,
		"finish_reason": finishReason,
	}}
}

// BuildDeltaChunk builds a streaming chunk carrying a content or role delta.
func BuildDeltaChunk(id, model string, delta map[string]any, finishReason string) []byte {
	return marshalChunk(id, model, choice(delta, NilOrString(finishReason)), nil)
}

// BuildToolCallDeltaChunk builds a chunk carrying a partial tool-call
// arguments delta for the tool call at index.
func BuildToolCallDeltaChunk(id, model string, index int, argumentsDelta string) []byte {
	delta := map[string]any{
		"tool_calls": []map[string]any{{
			"index": index,
			"function": map[string]any{
				"arguments": argumentsDelta,
			},
		}},
	}
	return marshalChunk(id, model, choice(delta, nil), nil)
}

// BuildFinishChunk builds a chunk with an empty delta and finish_reason set.
func BuildFinishChunk(id, model, finishReason string) []byte {
	return marshalChunk(id, model, choice(map[string]any{}, finishReason), nil)
}

// BuildUsageChunk builds the trailing usage frame with no choices.
func BuildUsageChunk(id, model string, usage *gateway.Usage) []byte {
	return marshalChunk(id, model, []map[string]any{}, map[string]any{
		"usage": map[string]any{
			"prompt_tokens":     usage.PromptTokens,
			"completion_tokens": usage.CompletionTokens,
			"total_tokens":      usage.TotalTokens,
		},
	})
}

// NilOrString returns nil for the empty string, otherwise s.
func NilOrString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

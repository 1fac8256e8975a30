// Package cohere implements the gateway.Provider adapter for the Cohere
// v1 chat API. Cohere frames a conversation as one current message plus
// history, with system text carried in the preamble.
package cohere

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
)

// cohereRequest is the Cohere v1 /chat request body.
type cohereRequest struct {
	Model         string       `json:"model"`
	Message       string       `json:"message"`
	ChatHistory   []cohereTurn `json:"chat_history,omitempty"`
	Preamble      string       `json:"preamble,omitempty"`
	Temperature   *float64     `json:"temperature,omitempty"`
	P             *float64     `json:"p,omitempty"`
	MaxTokens     *int         `json:"max_tokens,omitempty"`
	StopSequences []string     `json:"stop_sequences,omitempty"`
	Stream        bool         `json:"stream,omitempty"`
}

type cohereTurn struct {
	Role    string `json:"role"` // "USER" or "CHATBOT"
	Message string `json:"message"`
}

// translateRequest converts an OpenAI ChatRequest to a Cohere v1 chat
// request. The last user message becomes the current message; everything
// before it becomes chat_history; system messages coalesce into the preamble.
func translateRequest(req *gateway.ChatRequest) (*cohereRequest, error) {
	out := &cohereRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		P:           req.TopP,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
	}

	if len(req.Stop) > 0 {
		var s string
		if json.Unmarshal(req.Stop, &s) == nil {
			out.StopSequences = []string{s}
		} else if err := json.Unmarshal(req.Stop, &out.StopSequences); err != nil {
			return nil, fmt.Errorf("decode stop: %w", err)
		}
	}

	var preamble []string
	var turns []cohereTurn
	for _, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			preamble = append(preamble, m.TextContent())
		case gateway.RoleUser, gateway.RoleTool:
			turns = append(turns, cohereTurn{Role: "USER", Message: m.TextContent()})
		case gateway.RoleAssistant:
			turns = append(turns, cohereTurn{Role: "CHATBOT", Message: m.TextContent()})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	out.Preamble = strings.Join(preamble, "\n\n")

	if len(turns) == 0 {
		return nil, fmt.Errorf("no user message")
	}
	last := turns[len(turns)-1]
	if last.Role != "USER" {
		return nil, fmt.Errorf("last message must be from the user")
	}
	out.Message = last.Message
	out.ChatHistory = turns[:len(turns)-1]

	return out, nil
}

// translateResponse converts a Cohere v1 chat JSON response to an
// OpenAI-format ChatResponse.
func translateResponse(data []byte, requestModel string) (*gateway.ChatResponse, error) {
	r := gjson.ParseBytes(data)

	msg := gateway.Message{Role: gateway.RoleAssistant}
	if text := r.Get("text").String(); text != "" {
		ct, _ := json.Marshal(text)
		msg.Content = ct
	}

	var usage *gateway.Usage
	if u := r.Get("meta.tokens"); u.Exists() {
		in := int(u.Get("input_tokens").Int())
		out := int(u.Get("output_tokens").Int())
		usage = &gateway.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
	}

	return &gateway.ChatResponse{
		ID:      r.Get("generation_id").String(),
		Object:  "chat.completion",
		Model:   requestModel,
		Choices: []gateway.Choice{{
			Message:      msg,
			FinishReason: mapFinishReason(r.Get("finish_reason").String()),
		}},
		Usage: usage,
	}, nil
}

// mapFinishReason converts Cohere finish reasons to OpenAI finish reasons.
// Reasons without an OpenAI equivalent map to the empty string, which
// serializes as null in chunk JSON.
func mapFinishReason(reason string) string {
	switch reason {
	case "COMPLETE":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return ""
	}
}

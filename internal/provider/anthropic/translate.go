// Package anthropic implements the gateway.Provider adapter for the Anthropic
// Messages API, directly or hosted on Vertex AI.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
)

// anthropicRequest is the Anthropic Messages API request body.
type anthropicRequest struct {
	Model       string          `json:"model,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []anthropicMsg  `json:"messages"`
	System      string          `json:"system,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []anthropicTool `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	StopSeqs    json.RawMessage `json:"stop_sequences,omitempty"`
}

type anthropicMsg struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// defaultMaxTokens applies when the caller omits max_tokens; the Messages API
// requires the field.
const defaultMaxTokens = 4096

// translateRequest converts an OpenAI-format ChatRequest to an Anthropic
// Messages API request. System messages are coalesced into the top-level
// system field; tool results map to user-role tool_result blocks.
func translateRequest(req *gateway.ChatRequest) (*anthropicRequest, error) {
	out := &anthropicRequest{
		Model:       req.Model,
		MaxTokens:   defaultMaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		StopSeqs:    normalizeStop(req.Stop),
	}
	if req.MaxTokens != nil {
		out.MaxTokens = *req.MaxTokens
	}

	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case gateway.RoleSystem:
			system = append(system, m.TextContent())
		case gateway.RoleUser:
			content, err := translateUserContent(&m)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, anthropicMsg{Role: "user", Content: content})
		case gateway.RoleAssistant:
			content, err := translateAssistantContent(&m)
			if err != nil {
				return nil, err
			}
			out.Messages = append(out.Messages, anthropicMsg{Role: "assistant", Content: content})
		case gateway.RoleTool:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.TextContent(),
			}
			content, _ := json.Marshal([]any{block})
			out.Messages = append(out.Messages, anthropicMsg{Role: "user", Content: content})
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	out.System = strings.Join(system, "\n\n")

	tools, err := translateTools(req.Tools)
	if err != nil {
		return nil, err
	}
	out.Tools = tools
	if len(out.Tools) > 0 {
		choice, dropTools := translateToolChoice(req.ToolChoice)
		if dropTools {
			out.Tools = nil
		} else {
			out.ToolChoice = choice
		}
	}

	return out, nil
}

// normalizeStop converts the OpenAI stop field (string or string array) to
// Anthropic's stop_sequences array.
func normalizeStop(stop json.RawMessage) json.RawMessage {
	if len(stop) == 0 {
		return nil
	}
	var s string
	if json.Unmarshal(stop, &s) == nil {
		out, _ := json.Marshal([]string{s})
		return out
	}
	return stop
}

// translateUserContent converts user message content. String content passes
// through; part arrays map text parts as-is and image_url parts into image
// source blocks (base64 for data URIs, url otherwise).
func translateUserContent(m *gateway.Message) (json.RawMessage, error) {
	var s string
	if json.Unmarshal(m.Content, &s) == nil {
		return m.Content, nil
	}

	parts := m.ContentParts()
	if parts == nil {
		return nil, fmt.Errorf("unsupported user content shape")
	}
	blocks := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		switch p.Type {
		case "text":
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case "image_url":
			if p.ImageURL == nil {
				continue
			}
			src, err := imageSource(p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, map[string]any{"type": "image", "source": src})
		default:
			// Audio, video and file parts have no Messages API equivalent.
		}
	}
	return json.Marshal(blocks)
}

// imageSource builds an Anthropic image source from an OpenAI image URL.
// Data URIs become base64 sources; anything else is passed as a URL source.
func imageSource(u string) (map[string]any, error) {
	if !strings.HasPrefix(u, "data:") {
		return map[string]any{"type": "url", "url": u}, nil
	}
	meta, data, ok := strings.Cut(strings.TrimPrefix(u, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI")
	}
	mediaType, _, _ := strings.Cut(meta, ";")
	return map[string]any{
		"type":       "base64",
		"media_type": mediaType,
		"data":       data,
	}, nil
}

// translateAssistantContent converts an assistant message, expanding prior
// tool calls into tool_use blocks so multi-turn tool conversations replay.
func translateAssistantContent(m *gateway.Message) (json.RawMessage, error) {
	text := m.TextContent()
	if len(m.ToolCalls) == 0 {
		return json.Marshal(text)
	}

	var blocks []map[string]any
	if text != "" {
		blocks = append(blocks, map[string]any{"type": "text", "text": text})
	}
	gjson.ParseBytes(m.ToolCalls).ForEach(func(_, tc gjson.Result) bool {
		input := tc.Get("function.arguments").String()
		if input == "" {
			input = "{}"
		}
		blocks = append(blocks, map[string]any{
			"type":  "tool_use",
			"id":    tc.Get("id").String(),
			"name":  tc.Get("function.name").String(),
			"input": json.RawMessage(input),
		})
		return true
	})
	return json.Marshal(blocks)
}

// translateTools converts the OpenAI tools array ({type:"function",function:{...}})
// to Anthropic's flat {name, description, input_schema} form.
func translateTools(tools json.RawMessage) ([]anthropicTool, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	var in []struct {
		Type     string `json:"type"`
		Function struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		} `json:"function"`
	}
	if err := json.Unmarshal(tools, &in); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	out := make([]anthropicTool, 0, len(in))
	for _, t := range in {
		out = append(out, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	return out, nil
}

// translateToolChoice maps OpenAI tool_choice to Anthropic's typed form.
// "none" has no equivalent; the caller drops the tools instead.
func translateToolChoice(choice json.RawMessage) (out json.RawMessage, dropTools bool) {
	if len(choice) == 0 {
		return nil, false
	}
	var s string
	if json.Unmarshal(choice, &s) == nil {
		switch s {
		case "none":
			return nil, true
		case "required":
			return json.RawMessage(`{"type":"any"}`), false
		default:
			return json.RawMessage(`{"type":"auto"}`), false
		}
	}
	if name := gjson.GetBytes(choice, "function.name").String(); name != "" {
		out, _ := json.Marshal(map[string]any{"type": "tool", "name": name})
		return out, false
	}
	return nil, false
}

// translateResponse converts an Anthropic Messages API JSON response to an
// OpenAI-format ChatResponse.
func translateResponse(data []byte) (*gateway.ChatResponse, error) {
	result := gjson.ParseBytes(data)

	id := result.Get("id").String()
	model := result.Get("model").String()
	stopReason := mapStopReason(result.Get("stop_reason").String())

	var contentText strings.Builder
	var toolCalls []json.RawMessage
	result.Get("content").ForEach(func(_, block gjson.Result) bool {
		switch block.Get("type").String() {
		case "text":
			contentText.WriteString(block.Get("text").String())
		case "tool_use":
			tc, _ := json.Marshal(map[string]any{
				"id":   block.Get("id").String(),
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").String(),
					"arguments": block.Get("input").Raw,
				},
			})
			toolCalls = append(toolCalls, tc)
		}
		return true
	})

	msg := gateway.Message{Role: gateway.RoleAssistant}
	if contentText.Len() > 0 {
		ct, _ := json.Marshal(contentText.String())
		msg.Content = ct
	}
	if len(toolCalls) > 0 {
		tc, _ := json.Marshal(toolCalls)
		msg.ToolCalls = tc
		if stopReason == "" {
			stopReason = "tool_calls"
		}
	}

	var usage *gateway.Usage
	if u := result.Get("usage"); u.Exists() {
		usage = &gateway.Usage{
			PromptTokens:     int(u.Get("input_tokens").Int()),
			CompletionTokens: int(u.Get("output_tokens").Int()),
			TotalTokens:      int(u.Get("input_tokens").Int()) + int(u.Get("output_tokens").Int()),
		}
	}

	return &gateway.ChatResponse{
		ID:      id,
		Object:  "chat.completion",
		Model:   model,
		Choices: []gateway.Choice{{Index: 0, Message: msg, FinishReason: stopReason}},
		Usage:   usage,
	}, nil
}

// mapStopReason converts Anthropic stop reasons to OpenAI finish reasons.
func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return reason
	}
}

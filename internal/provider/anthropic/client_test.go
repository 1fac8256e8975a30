package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

func TestChatCompletion(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %s, want /messages", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "test-key" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got != anthropicVersion {
			t.Errorf("anthropic-version = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["system"] != "Be helpful." {
			t.Errorf("system = %v", body["system"])
		}
		if _, ok := body["max_tokens"]; !ok {
			t.Error("max_tokens is required")
		}
		fmt.Fprint(w, `{
			"id": "msg_1",
			"model": "claude-sonnet-4-0",
			"stop_reason": "end_turn",
			"content": [{"type":"text","text":"hello"}],
			"usage": {"input_tokens": 8, "output_tokens": 2}
		}`)
	}))
	defer srv.Close()

	client := New("anthropic", srv.URL, provider.NewCredential("test-key"), nil)
	resp, err := client.ChatCompletion(context.Background(), &gateway.ChatRequest{
		Model: "claude-sonnet-4-0",
		Messages: []gateway.Message{
			{Role: "system", Content: json.RawMessage(`"Be helpful."`)},
			{Role: "user", Content: json.RawMessage(`"hi"`)},
		},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got := resp.Choices[0].Message.TextContent(); got != "hello" {
		t.Errorf("content = %q", got)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 10 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatCompletionAuthError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`)
	}))
	defer srv.Close()

	client := New("anthropic", srv.URL, provider.NewCredential("bad"), nil)
	_, err := client.ChatCompletion(context.Background(), &gateway.ChatRequest{
		Model:    "claude-sonnet-4-0",
		Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	})
	if !errors.Is(err, gateway.ErrUnauthorized) {
		t.Errorf("err = %v, want ErrUnauthorized", err)
	}
}

func TestChatCompletionStream(t *testing.T) {
	t.Parallel()

	sseBody := "event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_1\",\"model\":\"claude-sonnet-4-0\",\"usage\":{\"input_tokens\":10}}}\n\n" +
		"event: content_block_delta\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello\"}}\n\n" +
		"event: message_delta\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":4}}\n\n" +
		"event: message_stop\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != true {
			t.Error("stream should be true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseBody)
	}))
	defer srv.Close()

	client := New("anthropic", srv.URL, provider.NewCredential("test-key"), nil)
	ch, err := client.ChatCompletionStream(context.Background(), &gateway.ChatRequest{
		Model:    "claude-sonnet-4-0",
		Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	})
	if err != nil {
		t.Fatalf("ChatCompletionStream: %v", err)
	}

	var chunks []gateway.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}

	// role chunk, text chunk, finish chunk, usage chunk, done.
	if len(chunks) != 5 {
		t.Fatalf("got %d chunks, want 5", len(chunks))
	}
	if !chunks[4].Done {
		t.Error("last chunk should be Done")
	}
	if chunks[3].Usage == nil || chunks[3].Usage.TotalTokens != 14 {
		t.Errorf("usage = %+v, want total 14", chunks[3].Usage)
	}

	// Text chunk must be valid OpenAI chunk JSON.
	var parsed struct {
		Object  string `json:"object"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(chunks[1].Data, &parsed); err != nil {
		t.Fatalf("parse chunk: %v", err)
	}
	if parsed.Object != "chat.completion.chunk" || parsed.Choices[0].Delta.Content != "Hello" {
		t.Errorf("chunk = %s", chunks[1].Data)
	}
}

func TestListModelsStaticOverride(t *testing.T) {
	t.Parallel()

	c := New("anthropic", "", provider.NewCredential("key"), nil)
	builtin, err := c.ListModels(context.Background())
	if err != nil || len(builtin) == 0 {
		t.Fatalf("ListModels = %v, %v", builtin, err)
	}

	c.SetStaticModels([]string{"claude-opus-4-1"})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0] != "claude-opus-4-1" {
		t.Errorf("models = %v", models)
	}
}

func TestVertexURLs(t *testing.T) {
	t.Parallel()

	c := NewVertex("anthropic-vertex", "https://us-east5-aiplatform.googleapis.com", "us-east5", "my-proj", nil)
	want := "https://us-east5-aiplatform.googleapis.com/v1/projects/my-proj/locations/us-east5/publishers/anthropic/models/claude-sonnet-4-0:rawPredict"
	if got := c.messagesURL("claude-sonnet-4-0"); got != want {
		t.Errorf("messagesURL = %s", got)
	}
	if got := c.streamingURL("claude-sonnet-4-0"); got != want[:len(want)-len(":rawPredict")]+":streamRawPredict" {
		t.Errorf("streamingURL = %s", got)
	}
}

func TestVertexMarshalForHosting(t *testing.T) {
	t.Parallel()

	c := NewVertex("anthropic-vertex", "", "us-east5", "my-proj", nil)
	body, err := c.marshalForHosting(&anthropicRequest{Model: "claude-sonnet-4-0", MaxTokens: 10})
	if err != nil {
		t.Fatalf("marshalForHosting: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["anthropic_version"] != "vertex-2023-10-16" {
		t.Errorf("anthropic_version = %v", m["anthropic_version"])
	}
	if _, ok := m["model"]; ok {
		t.Error("model should be omitted for vertex")
	}
}

package cohere

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider"
)

func TestTranslateRequest(t *testing.T) {
	t.Parallel()

	req := &gateway.ChatRequest{
		Model: "command-r-plus",
		Messages: []gateway.Message{
			{Role: "system", Content: json.RawMessage(`"Be brief."`)},
			{Role: "user", Content: json.RawMessage(`"first question"`)},
			{Role: "assistant", Content: json.RawMessage(`"first answer"`)},
			{Role: "user", Content: json.RawMessage(`"second question"`)},
		},
		Stop: json.RawMessage(`"END"`),
	}
	cReq, err := translateRequest(req)
	if err != nil {
		t.Fatalf("translateRequest: %v", err)
	}
	if cReq.Message != "second question" {
		t.Errorf("message = %q", cReq.Message)
	}
	if cReq.Preamble != "Be brief." {
		t.Errorf("preamble = %q", cReq.Preamble)
	}
	if len(cReq.ChatHistory) != 2 {
		t.Fatalf("got %d history turns, want 2", len(cReq.ChatHistory))
	}
	if cReq.ChatHistory[0].Role != "USER" || cReq.ChatHistory[1].Role != "CHATBOT" {
		t.Errorf("history roles = %+v", cReq.ChatHistory)
	}
	if len(cReq.StopSequences) != 1 || cReq.StopSequences[0] != "END" {
		t.Errorf("stop_sequences = %v", cReq.StopSequences)
	}
}

func TestTranslateRequestLastMustBeUser(t *testing.T) {
	t.Parallel()

	req := &gateway.ChatRequest{
		Model: "command-r",
		Messages: []gateway.Message{
			{Role: "assistant", Content: json.RawMessage(`"hi"`)},
		},
	}
	if _, err := translateRequest(req); err == nil {
		t.Fatal("expected error when last message is not from the user")
	}
}

func TestMapFinishReason(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"COMPLETE", "stop"},
		{"MAX_TOKENS", "length"},
		{"ERROR", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := mapFinishReason(tt.in); got != tt.want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestChatCompletion(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat" {
			t.Errorf("path = %s, want /v1/chat", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var body cohereRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body.Message != "hello" {
			t.Errorf("message = %q", body.Message)
		}
		fmt.Fprint(w, `{
			"generation_id": "gen-1",
			"text": "Hi there",
			"finish_reason": "COMPLETE",
			"meta": {"tokens": {"input_tokens": 6, "output_tokens": 3}}
		}`)
	}))
	defer srv.Close()

	client := New("cohere", srv.URL+"/v1", provider.NewCredential("test-key"), nil)
	resp, err := client.ChatCompletion(context.Background(), &gateway.ChatRequest{
		Model:    "command-r-plus",
		Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hello"`)}},
	})
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if got := resp.Choices[0].Message.TextContent(); got != "Hi there" {
		t.Errorf("content = %q", got)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 9 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatCompletionStream(t *testing.T) {
	t.Parallel()

	// Cohere streams NDJSON events, one object per line.
	ndjson := `{"event_type":"stream-start","generation_id":"gen-1"}` + "\n" +
		`{"event_type":"text-generation","text":"Hello"}` + "\n" +
		`{"event_type":"text-generation","text":" world"}` + "\n" +
		`{"event_type":"stream-end","finish_reason":"COMPLETE","response":{"meta":{"tokens":{"input_tokens":6,"output_tokens":2}}}}` + "\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body cohereRequest
		json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream {
			t.Error("stream should be true")
		}
		w.Header().Set("Content-Type", "application/stream+json")
		fmt.Fprint(w, ndjson)
	}))
	defer srv.Close()

	client := New("cohere", srv.URL+"/v1", provider.NewCredential("test-key"), nil)
	ch, err := client.ChatCompletionStream(context.Background(), &gateway.ChatRequest{
		Model:    "command-r-plus",
		Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	})
	if err != nil {
		t.Fatalf("ChatCompletionStream: %v", err)
	}

	var chunks []gateway.StreamChunk
	for c := range ch {
		chunks = append(chunks, c)
	}

	// role, 2 text, finish, usage, done.
	if len(chunks) != 6 {
		t.Fatalf("got %d chunks, want 6", len(chunks))
	}
	if !chunks[5].Done {
		t.Error("last chunk should be Done")
	}
	if chunks[4].Usage == nil || chunks[4].Usage.TotalTokens != 8 {
		t.Errorf("usage = %+v, want total 8", chunks[4].Usage)
	}

	var parsed struct {
		ID      string `json:"id"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			FinishReason *string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(chunks[1].Data, &parsed); err != nil {
		t.Fatalf("parse chunk: %v", err)
	}
	if parsed.ID != "gen-1" || parsed.Choices[0].Delta.Content != "Hello" {
		t.Errorf("chunk = %s", chunks[1].Data)
	}
	if err := json.Unmarshal(chunks[3].Data, &parsed); err != nil {
		t.Fatalf("parse finish chunk: %v", err)
	}
	if parsed.Choices[0].FinishReason == nil || *parsed.Choices[0].FinishReason != "stop" {
		t.Errorf("finish chunk = %s", chunks[3].Data)
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"command-r-plus"},{"name":"command-r"}]}`)
	}))
	defer srv.Close()

	client := New("cohere", srv.URL+"/v1", provider.NewCredential("test-key"), nil)
	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "command-r-plus" {
		t.Errorf("models = %v", models)
	}
}

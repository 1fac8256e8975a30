// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"
	"fmt"

	gateway "github.com/eugener/radagast/internal"
)

// FakeProvider is a configurable gateway.Provider for testing.
type FakeProvider struct {
	ProviderName string
	Caps         gateway.Capability
	ChatFn       func(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error)
	StreamFn     func(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error)
	ModelsFn     func(ctx context.Context) ([]string, error)
	ValidateFn   func(ctx context.Context) error
}

// Name returns the configured provider name.
func (f *FakeProvider) Name() string { return f.ProviderName }

// Capabilities returns the configured capability mask, defaulting to chat
// plus streaming.
func (f *FakeProvider) Capabilities() gateway.Capability {
	if f.Caps != 0 {
		return f.Caps
	}
	return gateway.CapChat | gateway.CapStreaming
}

// ChatCompletion delegates to ChatFn or returns a default response.
func (f *FakeProvider) ChatCompletion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if f.ChatFn != nil {
		return f.ChatFn(ctx, req)
	}
	return &gateway.ChatResponse{
		ID:      "chatcmpl-fake",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   req.Model,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.Message{Role: "assistant", Content: []byte(`"hello"`)},
			FinishReason: "stop",
		}},
		Usage: &gateway.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// ChatCompletionStream delegates to StreamFn or returns a two-chunk stream
// whose concatenated deltas match the default non-streaming response.
func (f *FakeProvider) ChatCompletionStream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	return FakeStreamChan(
		RoleChunk(req.Model),
		TextChunk(req.Model, "hello"),
	), nil
}

// ListModels delegates to ModelsFn or returns a default list.
func (f *FakeProvider) ListModels(ctx context.Context) ([]string, error) {
	if f.ModelsFn != nil {
		return f.ModelsFn(ctx)
	}
	return []string{"fake-model"}, nil
}

// ValidateKey delegates to ValidateFn or returns nil.
func (f *FakeProvider) ValidateKey(ctx context.Context) error {
	if f.ValidateFn != nil {
		return f.ValidateFn(ctx)
	}
	return nil
}

// FakeStreamChan returns a channel pre-loaded with the given chunks, followed
// by a Done sentinel. The channel is closed after all chunks are sent.
func FakeStreamChan(chunks ...gateway.StreamChunk) <-chan gateway.StreamChunk {
	ch := make(chan gateway.StreamChunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- c
	}
	ch <- gateway.StreamChunk{Done: true, Usage: &gateway.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}
	close(ch)
	return ch
}

// RoleChunk builds the initial chunk announcing the assistant role.
func RoleChunk(model string) gateway.StreamChunk {
	return gateway.StreamChunk{Data: []byte(fmt.Sprintf(
		`{"id":"chatcmpl-fake","object":"chat.completion.chunk","model":%q,"choices":[{"index":0,"delta":{"role":"assistant"}}]}`, model))}
}

// TextChunk builds a content delta chunk.
func TextChunk(model, text string) gateway.StreamChunk {
	return gateway.StreamChunk{Data: []byte(fmt.Sprintf(
		`{"id":"chatcmpl-fake","object":"chat.completion.chunk","model":%q,"choices":[{"index":0,"delta":{"content":%q}}]}`, model, text))}
}

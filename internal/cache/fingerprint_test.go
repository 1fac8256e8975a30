package cache

import (
	"encoding/json"
	"testing"

	gateway "github.com/eugener/radagast/internal"
)

func TestFingerprintDeterministic(t *testing.T) {
	t.Parallel()

	temp := 0.5
	req := &gateway.ChatRequest{
		Model:       "gpt-4o",
		Messages:    []gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		Temperature: &temp,
	}
	if Fingerprint(req) != Fingerprint(req) {
		t.Error("fingerprint should be deterministic")
	}
}

func TestFingerprintStableUnderKeyReordering(t *testing.T) {
	t.Parallel()

	a := &gateway.ChatRequest{
		Model: "gpt-4o",
		Messages: []gateway.Message{{
			Role:    "user",
			Content: json.RawMessage(`[{"type":"text","text":"hi"}]`),
		}},
	}
	b := &gateway.ChatRequest{
		Model: "gpt-4o",
		Messages: []gateway.Message{{
			Role:    "user",
			Content: json.RawMessage(`[{"text":"hi","type":"text"}]`),
		}},
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("fingerprint should ignore JSON object key order in content")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	t.Parallel()

	base := func() *gateway.ChatRequest {
		return &gateway.ChatRequest{
			Model:    "gpt-4o",
			Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
		}
	}

	ref := Fingerprint(base())

	model := base()
	model.Model = "gpt-4o-mini"
	if Fingerprint(model) == ref {
		t.Error("model change should change fingerprint")
	}

	content := base()
	content.Messages[0].Content = json.RawMessage(`"hello"`)
	if Fingerprint(content) == ref {
		t.Error("content change should change fingerprint")
	}

	temp := base()
	v := 0.9
	temp.Temperature = &v
	if Fingerprint(temp) == ref {
		t.Error("temperature change should change fingerprint")
	}

	maxTok := base()
	n := 100
	maxTok.MaxTokens = &n
	if Fingerprint(maxTok) == ref {
		t.Error("max_tokens change should change fingerprint")
	}
}

func TestFingerprintToolNames(t *testing.T) {
	t.Parallel()

	withTools := func(tools string) *gateway.ChatRequest {
		return &gateway.ChatRequest{
			Model:    "gpt-4o",
			Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
			Tools:    json.RawMessage(tools),
		}
	}

	plain := &gateway.ChatRequest{
		Model:    "gpt-4o",
		Messages: []gateway.Message{{Role: "user", Content: json.RawMessage(`"hi"`)}},
	}
	a := withTools(`[{"type":"function","function":{"name":"alpha"}},{"type":"function","function":{"name":"beta"}}]`)
	b := withTools(`[{"type":"function","function":{"name":"beta"}},{"type":"function","function":{"name":"alpha"}}]`)

	if Fingerprint(a) == Fingerprint(plain) {
		t.Error("tool set should be part of the fingerprint")
	}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("tool order should not affect the fingerprint")
	}
}

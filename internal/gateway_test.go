package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func floatPtr(f float64) *float64 { return &f }
func intPtr(i int) *int           { return &i }

func userMsg(text string) Message {
	b, _ := json.Marshal(text)
	return Message{Role: RoleUser, Content: b}
}

func TestChatRequestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *ChatRequest {
		return &ChatRequest{Model: "gpt-4o", Messages: []Message{userMsg("hi")}}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	cases := map[string]*ChatRequest{
		"missing model":    {Messages: []Message{userMsg("hi")}},
		"no messages":      {Model: "m"},
		"assistant last":   {Model: "m", Messages: []Message{{Role: RoleAssistant}}},
		"temperature high": func() *ChatRequest { r := valid(); r.Temperature = floatPtr(2.5); return r }(),
		"temperature neg":  func() *ChatRequest { r := valid(); r.Temperature = floatPtr(-0.1); return r }(),
		"top_p high":       func() *ChatRequest { r := valid(); r.TopP = floatPtr(1.5); return r }(),
		"max_tokens zero":  func() *ChatRequest { r := valid(); r.MaxTokens = intPtr(0); return r }(),
	}
	for name, req := range cases {
		if err := req.Validate(); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}

	toolLast := &ChatRequest{Model: "m", Messages: []Message{
		userMsg("hi"),
		{Role: RoleTool, Content: []byte(`"result"`), ToolCallID: "call_1"},
	}}
	if err := toolLast.Validate(); err != nil {
		t.Errorf("tool as last message rejected: %v", err)
	}
}

func TestMessageTextContent(t *testing.T) {
	t.Parallel()

	m := userMsg("plain text")
	if got := m.TextContent(); got != "plain text" {
		t.Errorf("string content = %q", got)
	}

	parts := Message{Role: RoleUser, Content: []byte(
		`[{"type":"text","text":"one"},{"type":"image_url","image_url":{"url":"https://x/y.png"}},{"type":"text","text":"two"}]`)}
	if got := parts.TextContent(); got != "one\ntwo" {
		t.Errorf("part content = %q", got)
	}

	empty := Message{Role: RoleUser}
	if got := empty.TextContent(); got != "" {
		t.Errorf("empty content = %q", got)
	}

	bad := Message{Role: RoleUser, Content: []byte(`{"not":"valid shape"}`)}
	if got := bad.TextContent(); got != "" {
		t.Errorf("malformed content = %q", got)
	}
}

func TestMessageContentParts(t *testing.T) {
	t.Parallel()

	m := userMsg("hello")
	parts := m.ContentParts()
	if len(parts) != 1 || parts[0].Type != "text" || parts[0].Text != "hello" {
		t.Errorf("parts = %+v", parts)
	}

	img := Message{Role: RoleUser, Content: []byte(
		`[{"type":"image_url","image_url":{"url":"data:image/png;base64,AAA"}}]`)}
	parts = img.ContentParts()
	if len(parts) != 1 || parts[0].ImageURL == nil {
		t.Fatalf("parts = %+v", parts)
	}
	if parts[0].ImageURL.URL != "data:image/png;base64,AAA" {
		t.Errorf("url = %q", parts[0].ImageURL.URL)
	}
}

func TestCapabilityHas(t *testing.T) {
	t.Parallel()

	caps := CapChat | CapStreaming
	if !caps.Has(CapChat) || !caps.Has(CapStreaming) {
		t.Error("set bits not reported")
	}
	if caps.Has(CapTools) {
		t.Error("unset bit reported")
	}
	if !caps.Has(CapChat | CapStreaming) {
		t.Error("combined mask not reported")
	}
	if caps.Has(CapChat | CapTools) {
		t.Error("partial match reported as full")
	}
}

func TestGatewayKeyUsable(t *testing.T) {
	t.Parallel()

	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	k := &GatewayKey{Enabled: true}
	if !k.Usable(now) {
		t.Error("enabled key without expiry unusable")
	}

	k.ExpiresAt = &future
	if !k.Usable(now) {
		t.Error("unexpired key unusable")
	}

	k.ExpiresAt = &past
	if k.Usable(now) {
		t.Error("expired key usable")
	}

	k = &GatewayKey{Enabled: false}
	if k.Usable(now) {
		t.Error("disabled key usable")
	}
}

func TestSessionExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()
	s := &Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("live session reported expired")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Error("past session reported live")
	}
	if !s.Expired(s.ExpiresAt) {
		t.Error("session live at exact expiry instant")
	}
}

func TestHashKeyDeterministic(t *testing.T) {
	t.Parallel()

	a := HashKey("gw-secret")
	if a != HashKey("gw-secret") {
		t.Error("hash not deterministic")
	}
	if a == HashKey("gw-other") {
		t.Error("distinct keys collide")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

func TestDisplayPrefix(t *testing.T) {
	t.Parallel()

	if got := DisplayPrefix("gw-abc123def456xyz9"); got != "gw-abc...xyz9" {
		t.Errorf("DisplayPrefix = %q", got)
	}
	// Short values would reveal nothing extra, returned whole.
	if got := DisplayPrefix("short"); got != "short" {
		t.Errorf("DisplayPrefix short = %q", got)
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if PrincipalFromContext(ctx) != nil {
		t.Error("principal on empty context")
	}

	p := &Principal{Role: RoleAdmin, Mode: ModeSession, Authenticated: true}
	ctx = ContextWithPrincipal(ctx, p)
	if got := PrincipalFromContext(ctx); got != p {
		t.Errorf("principal = %+v", got)
	}
}

func TestRequestIDSharesMeta(t *testing.T) {
	t.Parallel()

	ctx := ContextWithRequestID(context.Background(), "req-1")
	if got := RequestIDFromContext(ctx); got != "req-1" {
		t.Errorf("request id = %q", got)
	}

	// Principal attaches to the same metadata without a new context value.
	p := &Principal{Role: RoleAnonymous}
	ctx2 := ContextWithPrincipal(ctx, p)
	if ctx2 != ctx {
		t.Error("expected in-place principal attachment")
	}
	if RequestIDFromContext(ctx2) != "req-1" {
		t.Error("request id lost after principal attachment")
	}
}

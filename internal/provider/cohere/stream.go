package cohere

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider/sseutil"
)

// readStream reads Cohere NDJSON events and emits OpenAI-format StreamChunks.
// Each line is one JSON event; text-generation events carry content deltas
// and stream-end carries the finish reason plus usage.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- gateway.StreamChunk, model string) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)

	var id string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		r := gjson.Parse(line)
		if !r.IsObject() {
			continue
		}

		switch r.Get("event_type").String() {
		case "stream-start":
			id = r.Get("generation_id").String()
			chunk := sseutil.BuildDeltaChunk(id, model, map[string]any{"role": "assistant"}, "")
			if !send(ctx, ch, gateway.StreamChunk{Data: chunk}) {
				return
			}

		case "text-generation":
			text := r.Get("text").String()
			chunk := sseutil.BuildDeltaChunk(id, model, map[string]any{"content": text}, "")
			if !send(ctx, ch, gateway.StreamChunk{Data: chunk}) {
				return
			}

		case "stream-end":
			finishReason := mapFinishReason(r.Get("finish_reason").String())
			if finishReason == "" {
				finishReason = "stop"
			}
			if !send(ctx, ch, gateway.StreamChunk{Data: sseutil.BuildFinishChunk(id, model, finishReason)}) {
				return
			}
			if u := r.Get("response.meta.tokens"); u.Exists() {
				in := int(u.Get("input_tokens").Int())
				out := int(u.Get("output_tokens").Int())
				usage := &gateway.Usage{PromptTokens: in, CompletionTokens: out, TotalTokens: in + out}
				if !send(ctx, ch, gateway.StreamChunk{Data: sseutil.BuildUsageChunk(id, model, usage), Usage: usage}) {
					return
				}
			}
			ch <- gateway.StreamChunk{Done: true}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: fmt.Errorf("cohere: read stream: %w", err)}
		return
	}
	// EOF without stream-end still terminates the stream.
	ch <- gateway.StreamChunk{Done: true}
}

func send(ctx context.Context, ch chan<- gateway.StreamChunk, c gateway.StreamChunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		ch <- gateway.StreamChunk{Err: ctx.Err()}
		return false
	}
}

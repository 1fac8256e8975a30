package google

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/provider/sseutil"
)

// readStream reads Gemini SSE frames and emits OpenAI-format StreamChunks.
// Gemini streaming has no "event:" field and no "[DONE]" sentinel, the
// stream is EOF-terminated. Each "data:" line contains a full JSON response
// chunk. Usage is cumulative; the last seen values are emitted at the end.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- gateway.StreamChunk, model string) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	id := "gemini-" + model

	var lastUsage *gateway.Usage
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}

		r := gjson.Parse(data)

		text := r.Get("candidates.0.content.parts.0.text").String()
		finishReason := mapStopReason(r.Get("candidates.0.finishReason").String())

		if u := r.Get("usageMetadata"); u.Exists() {
			lastUsage = &gateway.Usage{
				PromptTokens:     int(u.Get("promptTokenCount").Int()),
				CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(u.Get("totalTokenCount").Int()),
			}
		}

		var chunk []byte
		switch {
		case text != "":
			chunk = sseutil.BuildDeltaChunk(id, model, map[string]any{"content": text}, finishReason)
		case finishReason != "":
			chunk = sseutil.BuildFinishChunk(id, model, finishReason)
		default:
			continue
		}

		select {
		case ch <- gateway.StreamChunk{Data: chunk}:
		case <-ctx.Done():
			ch <- gateway.StreamChunk{Err: ctx.Err()}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: fmt.Errorf("google: read stream: %w", err)}
		return
	}

	if lastUsage != nil {
		usageData := sseutil.BuildUsageChunk(id, model, lastUsage)
		ch <- gateway.StreamChunk{Data: usageData, Usage: lastUsage}
	}
	ch <- gateway.StreamChunk{Done: true}
}

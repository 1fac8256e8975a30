package sseutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
)

// ReadSSEStream forwards SSE data lines from resp onto ch as StreamChunks,
// honoring the "[DONE]" sentinel. The OpenAI-compatible adapter family
// shares this wire format. Frames are forwarded as-is even when they are not
// valid JSON; consumers drop what they cannot parse, so one bad frame never
// kills a stream. ch is closed on return.
func ReadSSEStream(ctx context.Context, providerName string, resp *http.Response, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		_, data, ok := ParseSSELine(scanner.Text())
		if !ok {
			continue
		}
		if data == "[DONE]" {
			ch <- gateway.StreamChunk{Done: true}
			return
		}

		chunk := gateway.StreamChunk{Data: []byte(data)}
		chunk.Usage = extractUsage(chunk.Data)

		select {
		case ch <- chunk:
		case <-ctx.Done():
			ch <- gateway.StreamChunk{Err: ctx.Err()}
			return
		}
	}
	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: fmt.Errorf("%s: read stream: %w", providerName, err)}
	}
}

// extractUsage pulls token usage out of a frame when the provider includes
// it, typically only on the final chunk.
func extractUsage(data []byte) *gateway.Usage {
	u := gjson.GetBytes(data, "usage")
	if !u.Exists() || u.Type != gjson.JSON {
		return nil
	}
	var usage gateway.Usage
	if json.Unmarshal([]byte(u.Raw), &usage) != nil || usage.TotalTokens == 0 {
		return nil
	}
	return &usage
}

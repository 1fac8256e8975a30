package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/eugener/radagast/internal"
)

// maxChatBody caps chat request bodies at 10 MB.
const maxChatBody = 10 << 20

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req gateway.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), typeInvalidRequest)
		return
	}

	if req.Stream {
		s.handleChatCompletionStream(w, r, &req)
		return
	}

	resp, err := s.deps.Pipeline.ChatCompletion(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInternalChatStream always streams, regardless of the stream flag.
func (s *server) handleInternalChatStream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req gateway.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), typeInvalidRequest)
		return
	}
	req.Stream = true
	s.handleChatCompletionStream(w, r, &req)
}

// handleChatCompletionStream serves an SSE stream of completion chunks.
func (s *server) handleChatCompletionStream(w http.ResponseWriter, r *http.Request, req *gateway.ChatRequest) {
	ch, err := s.deps.Pipeline.StreamChatCompletion(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", typeAPI)
		return
	}

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				sse.Done()
				return
			}
			if chunk.Err != nil {
				// Headers are already sent; surface the error as an SSE
				// frame so clients can tell it from a clean finish.
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("error", chunk.Err.Error()),
				)
				status := errorStatus(chunk.Err)
				frame, err := json.Marshal(errorEnvelope(chunk.Err.Error(), errorType(status), status))
				if err == nil {
					sse.Data(frame)
				}
				sse.Done()
				return
			}
			if chunk.Done {
				sse.Done()
				return
			}
			sse.Data(chunk.Data)

		case <-keepAlive.C:
			sse.KeepAlive()

		case <-r.Context().Done():
			return
		}
	}
}

package server

import (
	"net/http"
)

// Pre-allocated byte slices for SSE framing. These avoid heap allocations on
// every write in the streaming hot path.
var (
	sseDataPrefix = []byte("data: ")
	sseNewline    = []byte("\n\n")
	sseDone       = []byte("data: [DONE]\n\n")
	sseKeepAlive  = []byte(": keep-alive\n\n")
)

// Pre-allocated header value slices for SSE responses.
// Direct map assignment avoids the []string{v} alloc that Header.Set creates.
var (
	sseContentType  = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

// sseWriter frames chat completion chunks as server-sent events and flushes
// after every frame so proxies deliver tokens as they arrive.
type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// newSSEWriter prepares w for an SSE stream. It returns false when the
// underlying writer cannot flush, in which case no headers have been written.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h["Content-Type"] = sseContentType
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
	f.Flush()
	return &sseWriter{w: w, f: f}, true
}

// Data writes a single SSE data frame: "data: <payload>\n\n".
func (s *sseWriter) Data(payload []byte) {
	s.w.Write(sseDataPrefix)
	s.w.Write(payload)
	s.w.Write(sseNewline)
	s.f.Flush()
}

// Done writes the stream termination sentinel: "data: [DONE]\n\n".
func (s *sseWriter) Done() {
	s.w.Write(sseDone)
	s.f.Flush()
}

// KeepAlive writes an SSE comment frame to hold the connection open.
func (s *sseWriter) KeepAlive() {
	s.w.Write(sseKeepAlive)
	s.f.Flush()
}

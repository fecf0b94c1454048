package server

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/fde-io/fde/pkg/types"
)

// sseWriter frames events for a text/event-stream response and flushes
// after every frame. Write errors are recorded, not propagated: once the
// peer is gone the writer goes quiet and the deploy carries on.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	dead    bool
}

// newSSEWriter sets the stream headers and returns the writer, or nil
// when the connection cannot stream.
func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseWriter{w: w, flusher: flusher}
}

// Emit writes one SSE frame: id, event name, compact JSON data, blank
// line, then an explicit flush.
func (s *sseWriter) Emit(ev types.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	_, err := fmt.Fprintf(s.w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Event, ev.Data)
	if err != nil {
		s.dead = true
		return
	}
	s.flusher.Flush()
}

// Dead reports whether the peer has gone away.
func (s *sseWriter) Dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

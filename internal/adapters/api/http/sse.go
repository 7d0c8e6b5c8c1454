package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/username/branchtalk/internal/domain/entities"
)

// sseTransport writes session events as server-sent events. The delivery
// loop and the keepalive path can race on the writer, so writes are
// serialized.
type sseTransport struct {
	mu      sync.Mutex
	writer  http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

func newSSETransport(w http.ResponseWriter) (*sseTransport, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	return &sseTransport{
		writer:  w,
		flusher: flusher,
	}, nil
}

// Send writes one event as an SSE data frame
func (t *sseTransport) Send(ev entities.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport closed")
	}

	if _, err := fmt.Fprintf(t.writer, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write SSE frame: %w", err)
	}
	t.flusher.Flush()
	return nil
}

// Keepalive writes an SSE comment frame, which clients ignore
func (t *sseTransport) Keepalive() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport closed")
	}

	if _, err := fmt.Fprint(t.writer, ": keepalive\n\n"); err != nil {
		return fmt.Errorf("failed to write keepalive: %w", err)
	}
	t.flusher.Flush()
	return nil
}

// Close marks the transport closed; the HTTP handler returning tears down
// the actual response stream
func (t *sseTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

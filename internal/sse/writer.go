package sse

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrFlushUnsupported is returned when the response cannot be flushed per frame.
var ErrFlushUnsupported = errors.New("sse: response writer does not support flushing")

// Writer writes encoded frames to an HTTP response and flushes after each one.
// It is safe for concurrent use; frames are never interleaved.
type Writer struct {
	mu      sync.Mutex
	out     io.Writer
	flusher http.Flusher
}

// SetHeaders prepares w for streaming. Call before the first write.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// NewWriter wraps w. The response must implement http.Flusher.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrFlushUnsupported
	}
	return &Writer{out: w, flusher: flusher}, nil
}

// Send encodes and writes a single frame.
func (w *Writer) Send(ev Event) error {
	frame := Encode(ev)

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.out.Write(frame); err != nil {
		return fmt.Errorf("sse: write %s frame: %w", ev.Type, err)
	}
	w.flusher.Flush()
	return nil
}

// KeepAlive writes a bare comment line. It carries no blank terminator so it
// never closes a frame on the client.
func (w *Writer) KeepAlive() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := io.WriteString(w.out, ": ping\n"); err != nil {
		return fmt.Errorf("sse: write keepalive: %w", err)
	}
	w.flusher.Flush()
	return nil
}

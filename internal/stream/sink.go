package stream

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"
)

// Sink receives translated chunks. A write error means the consumer is gone.
type Sink interface {
	Write(Chunk) error
}

// NDJSONWriter writes one JSON object per line and flushes after each one
// when the underlying writer supports it.
type NDJSONWriter struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
}

func NewNDJSONWriter(w io.Writer) *NDJSONWriter {
	n := &NDJSONWriter{enc: json.NewEncoder(w)}
	n.enc.SetEscapeHTML(false)
	if f, ok := w.(http.Flusher); ok {
		n.flusher = f
	}
	return n
}

func (n *NDJSONWriter) Write(c Chunk) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.enc.Encode(c); err != nil {
		return err
	}
	if n.flusher != nil {
		n.flusher.Flush()
	}
	return nil
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Chunk) error

func (f SinkFunc) Write(c Chunk) error { return f(c) }

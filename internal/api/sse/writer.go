// Package sse writes server-sent-event streams over HTTP.
package sse

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Writer streams server-sent events to one HTTP response. It requires
// the underlying ResponseWriter to support flushing; buffered proxies
// between the server and the browser defeat SSE.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter prepares w for an SSE response and sends the headers.
// Returns an error when w cannot flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}, nil
}

// Relay copies an upstream SSE stream to the client chunk by chunk,
// flushing after every read so tokens appear as they arrive. The
// upstream framing is passed through untouched. Returns nil when the
// stream ends or ctx is canceled; a write error means the client is gone.
func (s *Writer) Relay(ctx context.Context, upstream io.Reader) error {
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := upstream.Read(buf)
		if n > 0 {
			if _, werr := s.w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("writing to client: %w", werr)
			}
			s.flusher.Flush()
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("reading upstream stream: %w", err)
		}
	}
}

// WriteEvent sends one named event with a data payload.
func (s *Writer) WriteEvent(event, data string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// WriteError sends an error event. Used when the stream has already
// started and a JSON error response is no longer possible.
func (s *Writer) WriteError(message string) {
	_ = s.WriteEvent("error", message)
}
